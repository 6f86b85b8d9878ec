package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-geoengine/pkg/config"
	"github.com/dd0wney/cluso-geoengine/pkg/engine"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/metrics"
)

var (
	configPath string
	logLevel   string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:           "geoengine",
	Short:         "Offline map tiles and navigation",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GEOENGINE_CONFIG"), "Path to YAML settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Override the data directory")
}

// app bundles what every subcommand opens
type app struct {
	store  *config.Store
	logger *logging.JSONLogger
	engine *engine.Engine
}

// openApp loads settings and builds the engine. logOut receives the JSON
// log stream.
func openApp(ctx context.Context, logOut io.Writer) (*app, error) {
	store, err := config.NewStore(configPath, logging.NewNopLogger())
	if err != nil {
		return nil, err
	}
	if dataDir != "" || logLevel != "" {
		next := store.Snapshot().Clone()
		if dataDir != "" {
			next.DataDir = dataDir
		}
		if logLevel != "" {
			next.LogLevel = logLevel
		}
		if err := store.Update(next); err != nil {
			return nil, err
		}
	}

	settings := store.Snapshot()
	logger := logging.NewJSONLogger(logOut, logging.ParseLevel(settings.LogLevel))
	logging.SetDefaultLogger(logger)
	store.OnChange(func(s *config.Settings) {
		if logLevel == "" {
			logger.SetLevel(logging.ParseLevel(s.LogLevel))
		}
	})

	e, err := engine.New(ctx, engine.Options{
		Settings: store,
		Logger:   logger,
		Metrics:  metrics.DefaultRegistry(),
	})
	if err != nil {
		return nil, err
	}
	return &app{store: store, logger: logger, engine: e}, nil
}

func (a *app) Close() error {
	return a.engine.Close()
}
