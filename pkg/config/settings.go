// Package config loads the engine settings and publishes them as immutable
// snapshots. Components read settings through a Provider on every use, so a
// reload takes effect without restarting anything and readers never observe
// a half-applied change.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings wraps every validation failure
var ErrInvalidSettings = errors.New("invalid settings")

// Settings is the full engine configuration
type Settings struct {
	DataDir  string           `yaml:"data_dir" validate:"required"`
	LogLevel string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Tiles    TileSettings     `yaml:"tiles"`
	Routing  RoutingSettings  `yaml:"routing"`
	Location LocationSettings `yaml:"location"`
	Trips    TripSettings     `yaml:"trips"`
	Server   ServerSettings   `yaml:"server"`
}

// TileSettings configures the tile cache tiers and downloads
type TileSettings struct {
	LiveCacheMaxBytes             int64         `yaml:"live_cache_max_bytes" validate:"gt=0"`
	PrefetchRadiusMeters          float64       `yaml:"prefetch_radius_meters" validate:"gt=0,lte=50000"`
	MaxConcurrentDownloads        int           `yaml:"max_concurrent_downloads" validate:"min=1,max=32"`
	PrefetchTriggerDistanceMeters float64       `yaml:"prefetch_trigger_distance_meters" validate:"gte=0"`
	URLTemplate                   string        `yaml:"url_template" validate:"required_if=Source http"`
	Source                        string        `yaml:"source" validate:"oneof=http s3"`
	S3Bucket                      string        `yaml:"s3_bucket" validate:"required_if=Source s3"`
	S3KeyTemplate                 string        `yaml:"s3_key_template"`
	UserAgent                     string        `yaml:"user_agent"`
	RetryInterval                 time.Duration `yaml:"retry_interval" validate:"gte=0"`
	DownloadTimeout               time.Duration `yaml:"download_timeout" validate:"gt=0"`
}

// RoutingSettings configures the external routing service
type RoutingSettings struct {
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0,lte=10"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	CacheEntries      int           `yaml:"cache_entries" validate:"min=1"`
}

// LocationSettings configures where location fixes come from
type LocationSettings struct {
	// FeedAddress is a nanomsg SUB address such as tcp://127.0.0.1:40899.
	// Empty means fixes are pushed in-process.
	FeedAddress string `yaml:"feed_address"`
	Topic       string `yaml:"topic"`
}

// TripSettings configures the trip-metadata provider
type TripSettings struct {
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
	ActiveTrip  string `yaml:"active_trip"`
}

// ServerSettings configures the HTTP surface of the geoengine binary
type ServerSettings struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Defaults returns the settings used when no file overrides them
func Defaults() *Settings {
	return &Settings{
		DataDir:  "./data/geoengine",
		LogLevel: "info",
		Tiles: TileSettings{
			LiveCacheMaxBytes:             256 << 20,
			PrefetchRadiusMeters:          2000,
			MaxConcurrentDownloads:        4,
			PrefetchTriggerDistanceMeters: 500,
			URLTemplate:                   "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Source:                        "http",
			S3KeyTemplate:                 "tiles/{z}/{x}/{y}.png",
			UserAgent:                     "cluso-geoengine/1.0",
			RetryInterval:                 5 * time.Minute,
			DownloadTimeout:               15 * time.Second,
		},
		Routing: RoutingSettings{
			BaseURL:           "https://router.project-osrm.org",
			RequestsPerSecond: 1,
			Timeout:           10 * time.Second,
			CacheTTL:          10 * time.Minute,
			CacheEntries:      64,
		},
		Location: LocationSettings{
			Topic: "FIX:",
		},
		Server: ServerSettings{
			Addr:            ":8090",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

var validate = validator.New()

// Validate checks struct constraints
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// Clone returns a deep copy
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// TileRoot is the directory holding per-tier tile files
func (s *Settings) TileRoot() string {
	return filepath.Join(s.DataDir, "tiles")
}

// MetadataPath is the SQLite file holding tile records
func (s *Settings) MetadataPath() string {
	return filepath.Join(s.DataDir, "tiles.db")
}

// Load reads a YAML file over the defaults, applies GEOENGINE_* environment
// overrides and validates the result. An empty path loads defaults only.
func Load(path string) (*Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := applyEnv(s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func applyEnv(s *Settings) error {
	if v := os.Getenv("GEOENGINE_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("GEOENGINE_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("GEOENGINE_TILE_URL"); v != "" {
		s.Tiles.URLTemplate = v
	}
	if v := os.Getenv("GEOENGINE_CACHE_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: GEOENGINE_CACHE_MAX_BYTES: %v", ErrInvalidSettings, err)
		}
		s.Tiles.LiveCacheMaxBytes = n
	}
	if v := os.Getenv("GEOENGINE_ROUTING_URL"); v != "" {
		s.Routing.BaseURL = v
	}
	if v := os.Getenv("GEOENGINE_TRIPS_DATABASE_URL"); v != "" {
		s.Trips.DatabaseURL = v
	}
	if v := os.Getenv("GEOENGINE_ADDR"); v != "" {
		s.Server.Addr = v
	}
	return nil
}
