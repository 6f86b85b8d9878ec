package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-geoengine/pkg/engine"
	"github.com/dd0wney/cluso-geoengine/pkg/tiles"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch LAT,LON",
	Short: "Download the live-tier tiles around a point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		center, err := engine.ParsePoint(args[0])
		if err != nil {
			return err
		}

		rt, err := openApp(cmd.Context(), io.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		res, err := rt.engine.Source().Prefetch(cmd.Context(), center, func(p tiles.PrefetchProgress) {
			fmt.Fprintf(out, "\r%d/%d tiles, %d downloaded, %d failed", p.Processed, p.Total, p.Downloaded, p.Failed)
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		if res.Skipped != tiles.SkipNone {
			fmt.Fprintf(out, "skipped: %s\n", res.Skipped)
			return nil
		}
		fmt.Fprintf(out, "requested %d, downloaded %d, failed %d (%.0f%%) in %s\n",
			res.Requested, res.Downloaded, res.Failed, res.Percent(), res.Duration.Round(time.Millisecond))
		fmt.Fprintln(out, rt.engine.Source().Summary(cmd.Context()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(prefetchCmd)
}
