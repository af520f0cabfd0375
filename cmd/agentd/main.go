// agentd is the workflow daemon and its operator CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentkit/agentd/pkg/api"
	"github.com/agentkit/agentd/pkg/client"
	"github.com/agentkit/agentd/pkg/config"
	"github.com/agentkit/agentd/pkg/doctor"
	"github.com/agentkit/agentd/pkg/engine"
	"github.com/agentkit/agentd/pkg/storage"
	"github.com/agentkit/agentd/pkg/telemetry"
	"github.com/agentkit/agentd/pkg/tools"
)

var (
	configFile string

	serveDBPath   string
	serveDataRoot string
	serveHost     string
	servePort     int
	serveReload   bool

	doctorBaseURL string
	doctorToken   string
	doctorJSON    bool
)

var rootCmd = &cobra.Command{
	Use:           "agentd",
	Short:         "Agent workflow daemon",
	Long:          "agentd runs multi-step agent plans against sandboxed tools, gated by plan and step approvals.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db-path") {
			cfg.DBPath = serveDBPath
		}
		if cmd.Flags().Changed("data-root") {
			cfg.DataRoot = serveDataRoot
		}
		if cmd.Flags().Changed("host") {
			cfg.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if serveReload {
			cfg.LogLevel = "debug"
		}

		logger := newLogger(cfg.LogLevel)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := storage.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		metrics := telemetry.New()
		e, err := engine.New(ctx, store, tools.DefaultRegistry(), cfg.DataRoot, metrics, logger)
		if err != nil {
			return err
		}

		server := api.NewServer(e, api.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			CORSOrigins: cfg.CORSOrigins,
			Metrics:     metrics,
			Logger:      logger,
		})
		logger.Info("agentd starting",
			"db_path", cfg.DBPath, "data_root", cfg.DataRoot, "reload", serveReload)
		return server.Serve(ctx)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Probe a running daemon end to end",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("base-url") {
			cfg.BaseURL = doctorBaseURL
		}
		if cmd.Flags().Changed("token") {
			cfg.Token = doctorToken
		}

		probe := client.New(client.Config{BaseURL: cfg.BaseURL, Token: cfg.Token})
		report := doctor.Run(cmd.Context(), cfg.BaseURL, cfg.Token, probe)

		if doctorJSON {
			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		} else {
			renderReport(cmd.OutOrStdout(), report)
		}
		if !report.OK {
			return fmt.Errorf("doctor found %d failing check(s)", report.Counts[doctor.StatusFail])
		}
		return nil
	},
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func renderReport(out io.Writer, report doctor.Report) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tDETAIL")
	for _, c := range report.Checks {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, strings.ToUpper(c.Status), c.Detail)
	}
	w.Flush()
	fmt.Fprintf(out, "\nok=%t pass=%d fail=%d warn=%d skip=%d\n",
		report.OK,
		report.Counts[doctor.StatusPass],
		report.Counts[doctor.StatusFail],
		report.Counts[doctor.StatusWarn],
		report.Counts[doctor.StatusSkip],
	)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	serveCmd.Flags().StringVar(&serveDBPath, "db-path", "", "SQLite database file")
	serveCmd.Flags().StringVar(&serveDataRoot, "data-root", "", "session workspace and artifact root")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port")
	serveCmd.Flags().BoolVar(&serveReload, "reload", false, "development mode: debug logging")

	doctorCmd.Flags().StringVar(&doctorBaseURL, "base-url", "", "daemon base URL")
	doctorCmd.Flags().StringVar(&doctorToken, "token", "", "daemon bearer token")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the raw report as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
