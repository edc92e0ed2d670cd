package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cityroute/internal/buildinfo"
	"cityroute/internal/integrations/csvfile"
	"cityroute/internal/model"
)

func main() {
	// a missing .env is fine; the environment still applies
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "cityroute",
		Short: "City delivery route planning and live re-optimization",
		Long: `cityroute plans delivery routes for a city fleet under local traffic
rules, gives premium deliveries a dedicated vehicle, and keeps watching the
planned routes for traffic, vehicle, delivery and rule changes.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// optimizeCmd plans one routing request and prints the result.
func optimizeCmd() *cobra.Command {
	var (
		file   string
		csv    string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Plan routes for a routing request",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req model.RoutingRequest
			if err := readJSON(file, &req); err != nil {
				return err
			}
			extra, err := importDeliveries(cmd.Context(), csv)
			if err != nil {
				return err
			}
			req.Deliveries = append(req.Deliveries, extra...)

			a, err := newApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(req.Rules) == 0 {
				if req.Rules, err = a.rules.ActiveRules(cmd.Context()); err != nil {
					return fmt.Errorf("loading rules: %w", err)
				}
			}
			res, err := a.planner.OptimizeRoutes(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res, pretty)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Routing request JSON file (- for stdin)")
	cmd.Flags().StringVar(&csv, "deliveries-csv", "", "Add deliveries from a CSV order export")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

// monitorInput seeds a monitoring session. Routes that are omitted are planned
// from the vehicles and deliveries first.
type monitorInput struct {
	Vehicles   []model.Vehicle  `json:"vehicles"`
	Deliveries []model.Delivery `json:"deliveries"`
	Routes     []model.Route    `json:"routes,omitempty"`
}

func monitorCmd() *cobra.Command {
	var file, csv string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch routes and re-optimize them as conditions change",
		RunE: func(cmd *cobra.Command, args []string) error {
			var in monitorInput
			if err := readJSON(file, &in); err != nil {
				return err
			}
			extra, err := importDeliveries(cmd.Context(), csv)
			if err != nil {
				return err
			}
			in.Deliveries = append(in.Deliveries, extra...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{monitor: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runMonitor(ctx, in)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Session JSON file with vehicles, deliveries and optional routes")
	cmd.Flags().StringVar(&csv, "deliveries-csv", "", "Add deliveries from a CSV order export")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
			return nil
		},
	}
}

func importDeliveries(ctx context.Context, path string) ([]model.Delivery, error) {
	if path == "" {
		return nil, nil
	}
	return csvfile.Adapter{Path: path}.FetchDeliveries(ctx)
}

func readJSON(path string, dst any) error {
	f := os.Stdin
	if path != "-" && path != "" {
		var err error
		if f, err = os.Open(path); err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
	}
	if err := json.NewDecoder(f).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
