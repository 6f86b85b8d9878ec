package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-geoengine/pkg/engine"
	"github.com/dd0wney/cluso-geoengine/pkg/logging"
	"github.com/dd0wney/cluso-geoengine/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tiles, routes, stats, metrics and health over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := openApp(ctx, os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.Start(ctx); err != nil {
			return err
		}

		go func() {
			if err := rt.store.Watch(ctx); err != nil {
				rt.logger.Warn("config watch stopped", logging.Error(err))
			}
		}()

		settings := rt.store.Snapshot()
		addr := settings.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		gs := server.NewGracefulServer(addr, engine.NewRouter(rt.engine), rt.logger)
		gs.SetShutdownTimeout(settings.Server.ShutdownTimeout)
		gs.SetConfigReloadFunc(rt.store.Reload)
		return gs.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
