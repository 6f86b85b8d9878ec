package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-geoengine/pkg/engine"
	"github.com/dd0wney/cluso-geoengine/pkg/routing"
)

var (
	routeTrip    string
	routeProfile string
	routeName    string
	routeJSON    bool
)

var routeCmd = &cobra.Command{
	Use:   "route FROM_LAT,LON TO_LAT,LON",
	Short: "Build directions through the graph, cache, network and direct fallbacks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := engine.ParsePoint(args[0])
		if err != nil {
			return fmt.Errorf("from: %w", err)
		}
		to, err := engine.ParsePoint(args[1])
		if err != nil {
			return fmt.Errorf("to: %w", err)
		}

		rt, err := openApp(cmd.Context(), io.Discard)
		if err != nil {
			return err
		}
		defer rt.Close()

		if routeTrip != "" {
			if err := rt.engine.LoadTrip(cmd.Context(), routeTrip); err != nil {
				return err
			}
		}

		route, err := rt.engine.Route(cmd.Context(), routing.RouteRequest{
			Origin:      from,
			Destination: routing.Destination{Name: routeName, Point: to},
			Profile:     routing.Profile(routeProfile),
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if routeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(route)
		}
		fmt.Fprintf(out, "%s route, %.0f m, about %s\n",
			route.Source, route.TotalDistanceMeters, route.EstimatedDuration.Round(time.Second))
		if route.IsDirectRoute {
			fmt.Fprintf(out, "initial bearing %.0f°\n", route.InitialBearing)
		}
		for i, s := range route.Steps {
			fmt.Fprintf(out, "%2d. %s (%.0f m)\n", i+1, s.Instruction, s.DistanceMeters)
		}
		return nil
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeTrip, "trip", "", "Load this trip's navigation graph first")
	routeCmd.Flags().StringVar(&routeProfile, "profile", string(routing.ProfileDriving), "driving, walking or cycling")
	routeCmd.Flags().StringVar(&routeName, "name", "", "Destination name")
	routeCmd.Flags().BoolVar(&routeJSON, "json", false, "Print the route as JSON")
	rootCmd.AddCommand(routeCmd)
}
