package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// BundleExt is the file suffix of a snappy-compressed trip bundle
const BundleExt = ".json.sz"

// Bundle is the on-disk form of one trip: its download record and graph
type Bundle struct {
	Trip  DownloadedTrip `json:"trip"`
	Graph *TripGraph     `json:"graph,omitempty"`
}

type cachedBundle struct {
	modTime time.Time
	size    int64
	bundle  Bundle
}

// FileProvider serves trips from a directory of bundles named
// <trip-id>.json.sz. Decoded bundles are cached until the file changes.
type FileProvider struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedBundle
}

// NewFileProvider reads bundles from dir, creating it if needed
func NewFileProvider(dir string) (*FileProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trips directory %q: %w", dir, err)
	}
	return &FileProvider{dir: dir, cache: make(map[string]cachedBundle)}, nil
}

// Dir returns the bundle directory
func (p *FileProvider) Dir() string { return p.dir }

func (p *FileProvider) path(tripID string) string {
	return filepath.Join(p.dir, tripID+BundleExt)
}

// DownloadedTrips lists every bundle, ordered by trip ID. Unreadable bundles
// are skipped.
func (p *FileProvider) DownloadedTrips(ctx context.Context) ([]DownloadedTrip, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("list trips directory: %w", err)
	}

	var out []DownloadedTrip
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), BundleExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := p.load(strings.TrimSuffix(e.Name(), BundleExt))
		if err != nil {
			continue
		}
		out = append(out, b.Trip)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TripGraph returns the graph stored in a trip's bundle
func (p *FileProvider) TripGraph(ctx context.Context, tripID string) (*TripGraph, error) {
	b, err := p.load(tripID)
	if err != nil {
		return nil, err
	}
	if b.Graph == nil {
		return nil, fmt.Errorf("trip %s: %w", tripID, ErrNoGraph)
	}
	return b.Graph, nil
}

func (p *FileProvider) load(tripID string) (Bundle, error) {
	path := p.path(tripID)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Bundle{}, fmt.Errorf("trip %s: %w", tripID, ErrTripNotFound)
	}
	if err != nil {
		return Bundle{}, err
	}

	p.mu.Lock()
	c, ok := p.cache[tripID]
	p.mu.Unlock()
	if ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.bundle, nil
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle %s: %w", tripID, err)
	}
	b, err := DecodeBundle(compressed)
	if err != nil {
		return Bundle{}, fmt.Errorf("bundle %s: %w", tripID, err)
	}

	p.mu.Lock()
	p.cache[tripID] = cachedBundle{modTime: info.ModTime(), size: info.Size(), bundle: b}
	p.mu.Unlock()
	return b, nil
}

// Save writes a bundle, replacing any previous version atomically
func (p *FileProvider) Save(b Bundle) error {
	if b.Trip.ID == "" {
		return errors.New("bundle has no trip id")
	}
	if b.Graph != nil && b.Graph.TripID == "" {
		b.Graph.TripID = b.Trip.ID
	}
	data, err := EncodeBundle(b)
	if err != nil {
		return err
	}

	tmp := filepath.Join(p.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmp, p.path(b.Trip.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install bundle: %w", err)
	}
	return nil
}

// Delete removes a trip's bundle
func (p *FileProvider) Delete(tripID string) error {
	if err := os.Remove(p.path(tripID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	p.mu.Lock()
	delete(p.cache, tripID)
	p.mu.Unlock()
	return nil
}

// EncodeBundle serializes and compresses a bundle
func EncodeBundle(b Bundle) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeBundle reverses EncodeBundle
func DecodeBundle(data []byte) (Bundle, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return Bundle{}, fmt.Errorf("decompress bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b, nil
}
