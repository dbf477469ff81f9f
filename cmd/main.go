package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drone-command-gateway/internal/activity"
	"drone-command-gateway/internal/api"
	"drone-command-gateway/internal/commands"
	"drone-command-gateway/internal/config"
	"drone-command-gateway/internal/db"
	"drone-command-gateway/internal/logging"
	"drone-command-gateway/internal/models"
	"drone-command-gateway/internal/parser"
	"drone-command-gateway/internal/proxy"
	"drone-command-gateway/internal/simulator"
	"drone-command-gateway/internal/telemetry"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var envFile string

// flag name -> config key, shared by every subcommand that declares the flag
var flagBindings = map[string]string{
	"host":             "GATEWAY_HOST",
	"port":             "GATEWAY_PORT",
	"drone-api":        "DRONE_API_URL",
	"history-file":     "HISTORY_FILE",
	"gps-history-size": "GPS_HISTORY_SIZE",
	"archive":          "ARCHIVE_DB",
	"log-level":        "LOG_LEVEL",
	"log-file":         "LOG_FILE",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "drone-gateway",
		Short: "Drone Command Gateway - command proxy and telemetry hub for drone controllers",
		Long: `A gateway between operator clients and a drone controller API.
Proxies commands with a simulation fallback when the controller is offline,
keeps a window of recent GPS telemetry and an append-only action history.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with configuration")
	rootCmd.PersistentFlags().String("history-file", "action_history.txt", "Action history file")
	rootCmd.PersistentFlags().String("archive", "", "SQLite telemetry archive (empty disables archiving)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(telemetryCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up logging for cmd
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	bindings := make(map[string]string)
	for name, key := range flagBindings {
		if cmd.Flags().Lookup(name) != nil {
			bindings[key] = name
		}
	}

	cfg, err := config.Load(envFile, cmd.Flags(), bindings)
	if err != nil {
		return nil, err
	}

	if err := logging.Configure(logging.Options{
		Level:      cfg.GetLogLevel(),
		FilePath:   cfg.LogFile,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		return nil, fmt.Errorf("logging error: %w", err)
	}
	return cfg, nil
}

// serverCmd starts the gateway
func serverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().IntP("port", "p", 3003, "Listen port")
	cmd.Flags().String("drone-api", "http://localhost:5001", "Drone controller API base URL")
	cmd.Flags().Int("gps-history-size", telemetry.DefaultCapacity, "Number of GPS samples kept in memory")
	cmd.Flags().String("log-file", "", "Rotating operator log file")
	return cmd
}

func runServer(cfg *config.Config) error {
	store := telemetry.NewStore(cfg.GPSHistorySize)
	history := activity.New(cfg.HistoryFile)
	client := proxy.NewClient(cfg.DroneAPIURL, proxy.WithTimeouts(cfg.BackendTimeout, cfg.BackendUploadTimeout))

	deps := api.Deps{
		Store:        store,
		History:      history,
		Dispatcher:   commands.NewDispatcher(client, history),
		DroneAPIURL:  client.BaseURL(),
		HistoryLimit: cfg.ActionHistoryLimit,
	}

	if cfg.ArchiveDB != "" {
		archive, err := db.New(cfg.ArchiveDB)
		if err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		defer archive.Close()

		recent, err := archive.RecentSamples(store.Capacity())
		if err != nil {
			log.WithError(err).Warn("Could not restore telemetry from archive")
		} else {
			store.Restore(recent)
			log.Infof("Restored %d telemetry samples from %s", len(recent), cfg.ArchiveDB)
		}
		deps.Archive = archive
	}

	server := api.NewServer(deps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"listen":       cfg.ListenAddress(),
		"drone_api":    cfg.DroneAPIURL,
		"history_file": cfg.HistoryFile,
		"gps_history":  store.Capacity(),
	}).Infof("%s %s starting", api.ServiceName, api.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// simulateCmd pushes synthetic telemetry to a running gateway
func simulateCmd() *cobra.Command {
	var gatewayURL string
	var droneID string
	var interval time.Duration
	var count int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send simulated GPS telemetry to a gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %v", interval)
			}
			if _, err := loadConfig(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Sending simulated GPS to %s/api/gps_data (Ctrl+C to stop)\n", gatewayURL)

			flight := simulator.NewFlight(droneID, time.Now().UnixNano())
			err := simulator.Run(ctx, flight, simulator.NewSender(gatewayURL), interval, count,
				func(r simulator.Reading, status int, err error) {
					if err != nil {
						log.WithError(err).Warn("Error sending GPS data")
						return
					}
					fmt.Printf("Sent GPS: %.6f, %.6f, %.1fm - Status: %d\n", r.Latitude, r.Longitude, r.Altitude, status)
				})
			if errors.Is(err, context.Canceled) {
				fmt.Println("\nSimulator stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&gatewayURL, "gateway", "g", "http://localhost:3003", "Gateway base URL")
	cmd.Flags().StringVar(&droneID, "drone-id", "MPD-DRONE-001", "Drone identifier")
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "Time between readings")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "Number of readings to send (0 = until stopped)")
	return cmd
}

// historyCmd prints the action history
func historyCmd() *cobra.Command {
	var limit int
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent logged actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			records, err := activity.New(cfg.HistoryFile).Tail(limit)
			if err != nil {
				return fmt.Errorf("history error: %w", err)
			}

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			default:
				if len(records) == 0 {
					fmt.Printf("No actions recorded in %s\n", cfg.HistoryFile)
					return nil
				}
				for _, r := range records {
					fmt.Printf("[%s] %-15s %-30s %s\n", r.Time, r.IP, r.Action, r.Response)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum records to show")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// telemetryCmd reads the telemetry archive
func telemetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Telemetry archive commands",
	}

	var droneID string
	var limit int
	var outputFormat string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived telemetry samples, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer archive.Close()

			start := time.Now()
			samples, err := archive.QuerySamples(models.ArchiveQuery{DroneID: droneID, Limit: limit})
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(samples)
			default:
				fmt.Printf("Found %d samples (query time: %v)\n\n", len(samples), elapsed)
				for _, s := range samples {
					fmt.Printf("[%s] Drone: %s | Pos: %.6f,%.6f | Alt: %.1f m | Speed: %.1f m/s | Sats: %d | Battery: %.0f%%\n",
						s.Timestamp, s.DroneID, s.Latitude, s.Longitude, s.Altitude, s.Speed, s.Satellites, s.Battery)
				}
			}
			return nil
		},
	}
	listCmd.Flags().StringVarP(&droneID, "drone", "d", "", "Filter by drone ID")
	listCmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum samples to return")
	listCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show archive statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer archive.Close()

			stats, err := archive.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Telemetry Archive Statistics")
			fmt.Println("============================")
			fmt.Printf("  Samples:       %d\n", stats.TotalSamples)
			fmt.Printf("  Drones:        %d\n", stats.TotalDrones)
			fmt.Printf("  Avg Speed:     %.1f m/s\n", stats.AvgSpeed)
			fmt.Printf("  Max Altitude:  %.1f m\n", stats.MaxAltitude)
			fmt.Printf("  Min Battery:   %.0f%%\n", stats.MinBattery)
			return nil
		},
	}

	var format string
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load recorded telemetry (CSV or JSON) into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := openArchive(cmd)
			if err != nil {
				return err
			}
			defer archive.Close()

			fmt.Printf("Parsing %s (format: %s)...\n", args[0], format)
			start := time.Now()

			samples, err := parser.NewParser(format).ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse error: %w", err)
			}
			parseTime := time.Since(start)

			start = time.Now()
			count, err := archive.InsertBatch(samples)
			if err != nil {
				return fmt.Errorf("insert error: %w", err)
			}
			insertTime := time.Since(start)

			fmt.Printf("Imported %d samples\n", count)
			fmt.Printf("  Parse time:  %v\n", parseTime)
			fmt.Printf("  Insert time: %v\n", insertTime)
			return nil
		},
	}
	importCmd.Flags().StringVarP(&format, "format", "f", "csv", "Input format (csv, json)")

	cmd.AddCommand(listCmd, statsCmd, importCmd)
	return cmd
}

func openArchive(cmd *cobra.Command) (*db.Database, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.ArchiveDB == "" {
		return nil, errors.New("no archive configured (set --archive or ARCHIVE_DB)")
	}

	archive, err := db.New(cfg.ArchiveDB)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return archive, nil
}
