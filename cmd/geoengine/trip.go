package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tripCmd = &cobra.Command{
	Use:   "trip",
	Short: "Inspect and download trips",
}

var tripListCmd = &cobra.Command{
	Use:   "list",
	Short: "List downloaded trips",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(cmd.Context(), io.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()

		all, err := rt.engine.Trips().DownloadedTrips(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tZOOMS\tBOUNDS")
		for _, t := range all {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%.4f,%.4f %.4f,%.4f\n",
				t.ID, t.Name, t.Status, t.MinZoom, t.MaxZoom,
				t.Bounds.MinLat, t.Bounds.MinLon, t.Bounds.MaxLat, t.Bounds.MaxLon)
		}
		return w.Flush()
	},
}

var tripDownloadCmd = &cobra.Command{
	Use:   "download TRIP_ID",
	Short: "Download every tile of a trip into its trip tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(cmd.Context(), io.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		res, err := rt.engine.DownloadTrip(cmd.Context(), args[0], func(done, total int) {
			if done%25 == 0 || done == total {
				fmt.Fprintf(out, "\r%d/%d", done, total)
			}
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "trip %s: requested %d, downloaded %d, present %d, failed %d\n",
			res.TripID, res.Requested, res.Downloaded, res.AlreadyPresent, res.Failed)
		return nil
	},
}

func init() {
	tripCmd.AddCommand(tripListCmd, tripDownloadCmd)
	rootCmd.AddCommand(tripCmd)
}
