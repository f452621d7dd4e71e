// Package cli wires the bgp-shortlived commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/config"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/logging"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/metrics"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/report"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	output  string

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer

	metricsServer *http.Server
}

// Execute runs the command named by args. The metrics server started for
// the run is shut down even when the command fails.
func Execute(ctx context.Context, version string, args []string) error {
	root, a := newRootCommand(version)
	return execute(ctx, root, a, args)
}

func execute(ctx context.Context, root *cobra.Command, a *app, args []string) error {
	defer a.shutdown()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	root, _ := newRootCommand(version)
	return root
}

func newRootCommand(version string) (*cobra.Command, *app) {
	a := &app{v: viper.New(), out: os.Stdout, errOut: os.Stderr}

	root := &cobra.Command{
		Use:   "bgp-shortlived",
		Short: "Hunt short-lived BGP announcements",
		Long: `bgp-shortlived loads BGP update files from public route collectors into
PostgreSQL and searches them for announcements withdrawn again within a
short window, the signature of many prefix hijacks.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (BGP_SHORTLIVED_*)
  3. Config file (./config.yaml or ~/.bgp-shortlived/config.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.shutdown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./config.yaml, then $HOME/.bgp-shortlived/config.yaml)")
	flags.StringVarP(&a.output, "output", "o", "auto", "output format: auto, table or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "log as JSON")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.String("database-url", "", "PostgreSQL URL")
	bindFlags(a.v, flags, map[string]string{
		"logging.level":   "log-level",
		"logging.json":    "log-json",
		"metrics.address": "metrics-addr",
		"database.url":    "database-url",
	})

	root.AddCommand(
		newReloadCommand(a),
		newShortLivedCommand(a),
		newSearchCommand(a),
		newReputationCommand(a),
		newConfigCommand(a),
		newVersionCommand(version),
	)
	return root, a
}

// bindFlags binds config keys to flags. Only flags set on the command line
// override the other sources.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func (a *app) init() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(a.errOut, cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(a.logger)

	if cfg.Metrics.Address != "" {
		a.startMetrics(cfg.Metrics.Address)
	}
	return nil
}

func (a *app) startMetrics(addr string) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.logger.Warn("metrics registration failed", "error", err)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	a.metricsServer = srv
	go func() {
		a.logger.Info("metrics server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server exited", "error", err)
		}
	}()
}

func (a *app) shutdown() {
	if a.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metricsServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Warn("metrics server shutdown", "error", err)
	}
	a.metricsServer = nil
}

func (a *app) writer() (*report.Writer, error) {
	format, err := report.ParseFormat(a.output)
	if err != nil {
		return nil, err
	}
	return report.NewWriter(a.out, format), nil
}
