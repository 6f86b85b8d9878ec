package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dd0wney/cluso-geoengine/pkg/logging"
)

// Provider hands out the current settings snapshot. The returned value must
// be treated as read-only.
type Provider interface {
	Snapshot() *Settings
}

// Static is a Provider that never changes
type Static struct {
	s *Settings
}

// NewStatic wraps a fixed settings value
func NewStatic(s *Settings) *Static {
	return &Static{s: s.Clone()}
}

func (p *Static) Snapshot() *Settings { return p.s }

// Store is a reloadable Provider backed by a YAML file
type Store struct {
	current  atomic.Pointer[Settings]
	path     string
	logger   logging.Logger
	onChange func(*Settings)
}

// NewStore loads path (or defaults when empty) into a new store
func NewStore(path string, logger logging.Logger) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	st := &Store{path: path, logger: logging.ForComponent(logger, "config")}
	st.current.Store(s)
	return st, nil
}

// Snapshot returns the current settings
func (st *Store) Snapshot() *Settings {
	return st.current.Load()
}

// OnChange registers a callback invoked after every successful update
func (st *Store) OnChange(fn func(*Settings)) {
	st.onChange = fn
}

// Update validates and installs a new snapshot
func (st *Store) Update(next *Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	snapshot := next.Clone()
	st.current.Store(snapshot)
	if st.onChange != nil {
		st.onChange(snapshot)
	}
	return nil
}

// Reload re-reads the backing file. On failure the previous snapshot stays.
func (st *Store) Reload() error {
	s, err := Load(st.path)
	if err != nil {
		st.logger.Warn("config reload rejected", logging.Path(st.path), logging.Error(err))
		return err
	}
	if err := st.Update(s); err != nil {
		return err
	}
	st.logger.Info("config reloaded", logging.Path(st.path))
	return nil
}

// Watch reloads the store whenever its file changes, until ctx is done. The
// parent directory is watched because editors often replace files by rename.
func (st *Store) Watch(ctx context.Context) error {
	if st.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(st.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	const debounce = 200 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			_ = st.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			st.logger.Warn("config watcher error", logging.Error(err))
		}
	}
}
