package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
	"github.com/ajitpratap0/strata/pkg/profiling"
	"github.com/ajitpratap0/strata/pkg/table"
)

var version = "0.1.0"

// app carries what every subcommand needs once the root command has loaded
// the configuration.
type app struct {
	cfg      *config.Config
	store    *table.Store
	log      *zap.Logger
	shutdown []func(context.Context) error
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.log.Warn("shutdown failed", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root, a := newRootCommand()
	err := root.Execute()
	if a.cfg != nil {
		a.close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}
	var configFile, dataDir, logLevel string
	var profileTypes, profileDir string

	root := &cobra.Command{
		Use:           "strata",
		Short:         "Strata - columnar segment storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `Strata stores tables as immutable columnar segments that are read through
memory mapping without copying. Use it to publish, inspect, export and archive
segments.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := a.setup(cmd, configFile, dataDir, logLevel); err != nil {
				return err
			}
			return a.startProfiling(profileTypes, profileDir)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("STRATA_CONFIG"), "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides configuration)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&profileTypes, "profile", "", "Profiles to capture (cpu,memory,block,mutex,goroutine,trace,all)")
	root.PersistentFlags().StringVar(&profileDir, "profile-dir", "./profiles", "Directory for profile output")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Strata v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(
		newDemoCommand(a),
		newTablesCommand(a),
		newInspectCommand(a),
		newReadCommand(a),
		newExportCommand(a),
		newColumnsCommand(a),
		newArchiveCommand(a),
	)
	return root, a
}

func (a *app) setup(cmd *cobra.Command, configFile, dataDir, logLevel string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.With(zap.String("component", "strata-cli"), zap.String("command", cmd.Name()))
	cmd.SetContext(logger.WithOperation(cmd.Context(), cmd.CommandPath()))

	shutdownTracing, err := observability.InitTracing(cfg.Tracing, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.shutdown = append(a.shutdown, shutdownTracing)

	if cfg.Metrics.Listen != "" {
		a.serveMetrics(cfg.Metrics.Listen)
	}

	a.store, err = table.Open(cfg.DataDir,
		table.WithLogger(logger.Get()),
		table.WithSync(cfg.Segment.Sync),
		table.WithColumnFiles(cfg.Segment.ColumnFiles),
		table.WithDecoderOptions(cfg.DecoderOptions()...))
	return err
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.shutdown = append(a.shutdown, srv.Shutdown)
	a.log.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) startProfiling(types, dir string) error {
	if types == "" {
		return nil
	}
	parsed, err := profiling.ParseTypes(types)
	if err != nil {
		return err
	}
	p := profiling.NewProfiler(profiling.Config{Types: parsed, OutputDir: dir}, logger.Get())
	if err := p.Start(); err != nil {
		return err
	}
	a.shutdown = append(a.shutdown, func(context.Context) error {
		_, err := p.Stop()
		return err
	})
	return nil
}
