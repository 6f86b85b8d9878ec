package main

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-geoengine/pkg/engine"
	"github.com/dd0wney/cluso-geoengine/pkg/overlay"
)

var (
	overlayZoom   int
	overlayRadius int
)

var overlayCmd = &cobra.Command{
	Use:   "overlay LAT,LON",
	Short: "Show which tier serves each tile around a point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		center, err := engine.ParsePoint(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := openApp(ctx, io.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := rt.engine.Start(ctx); err != nil {
			return err
		}

		m := overlay.NewModel(rt.engine.Source(), rt.engine.Metadata(), center, overlayZoom, overlayRadius)
		_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return err
	},
}

func init() {
	overlayCmd.Flags().IntVarP(&overlayZoom, "zoom", "z", 15, "Zoom level")
	overlayCmd.Flags().IntVarP(&overlayRadius, "radius", "r", overlay.DefaultRadius, "Tiles shown on each side of the centre")
	rootCmd.AddCommand(overlayCmd)
}
