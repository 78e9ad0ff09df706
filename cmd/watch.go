package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentic-research/graphmaster/internal/graph"
	"github.com/agentic-research/graphmaster/internal/watch"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var metricsAddr string

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load the configured rule files and keep the graph in step with them",
	Long: `Loads every configured rule file, then reloads files as they change on
disk and unloads files that are removed. SIGHUP rebuilds the whole graph
from the configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.logger.Error("Metrics server failed", slog.String("error", err.Error()))
				}
			}()
			defer func() { _ = srv.Close() }()
			s.logger.Info("Serving metrics", slog.String("addr", metricsAddr))
		}

		if _, err := s.engine.LoadAll(ctx); err != nil {
			s.logger.Warn("Some rule files failed to load", slog.String("error", err.Error()))
		}

		w, err := watch.New(s.engine, s.cfg.Watch.Debounce, s.logger)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		for _, bc := range s.cfg.Bots {
			for _, spec := range bc.Files {
				if err := w.AddSpec(spec); err != nil {
					s.logger.Warn("Cannot watch file spec", slog.String("spec", spec), slog.String("error", err.Error()))
				}
			}
		}
		for _, src := range s.hot.Sources() {
			_ = w.Remember(src) // ignore error; the file reloads on its next event
		}
		w.Start(ctx)
		defer func() { _ = w.Stop() }()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Shutting down")
				return nil
			case <-hup:
				if err := rebuild(ctx, s); err != nil {
					s.logger.Error("Rebuild failed", slog.String("error", err.Error()))
				}
			}
		}
	},
}

// rebuild reloads the whole configuration. A memory graph is rebuilt on the
// side and swapped in; a database-backed graph is reset and reloaded in
// place.
func rebuild(ctx context.Context, s *session) error {
	if s.cfg.Graph.Backend == graph.BackendSQLite {
		_, err := s.engine.Reload(ctx)
		return err
	}
	fresh, err := s.cfg.OpenGraph(s.engine.Bots, s.logger)
	if err != nil {
		return err
	}
	_, err = s.engine.Rebuild(ctx, s.hot, fresh)
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
