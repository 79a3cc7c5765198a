package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/manager"
	"github.com/Aman-CERP/subindex/internal/search"
	"github.com/Aman-CERP/subindex/internal/telemetry"
	"github.com/Aman-CERP/subindex/internal/watcher"
)

type watchOptions struct {
	addr      string
	interval  time.Duration
	noNotify  bool
	noSignals bool
}

func newWatchCmd(global *globalOptions) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep partition handles cached and pick up changes",
		Long: `Run the scheduled tasks of the index until interrupted: poll the cache
invalidation markers and checkpoint the segments. Marker changes wake the
loop early where the filesystem supports notifications.

With --addr, also serve searches from the cached handles:

  GET /search?q=<query>&limit=<n>&partition=<p>
  GET /status
  GET /metrics   (Prometheus)

Examples:
  subindex watch
  subindex watch --addr 127.0.0.1:7700 --interval 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !opts.noSignals {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}
			return runWatch(ctx, cmd, global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Serve search, status and metrics on this address")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Poll interval (default: cache.poll_interval)")
	cmd.Flags().BoolVar(&opts.noNotify, "no-fsnotify", false, "Poll only, ignore filesystem notifications")
	cmd.Flags().BoolVar(&opts.noSignals, "no-signals", false, "Do not stop on SIGINT/SIGTERM")
	_ = cmd.Flags().MarkHidden("no-signals")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, global *globalOptions, opts watchOptions) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(registry)

	p, err := openProject(global, manager.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if err := p.requireIndex(ctx); err != nil {
		return err
	}
	if err := p.manager.Start(); err != nil {
		return err
	}
	defer p.manager.Stop()

	schedOpts := watcher.DefaultOptions()
	schedOpts.PollInterval = p.cfg.Cache.PollInterval.D()
	if opts.interval > 0 {
		schedOpts.PollInterval = opts.interval
	}
	schedOpts.MarkerFile = manager.MarkerFile
	schedOpts.DisableNotify = opts.noNotify

	var searcher *search.Searcher
	if opts.addr != "" {
		searcher = search.New(p.manager,
			search.WithCacheSize(p.cfg.Cache.ResultCacheSize),
			search.WithMetrics(metrics),
			search.WithLogger(p.logger))
	}

	dirs := make([]string, 0, len(p.manager.SubIndexes()))
	for _, part := range p.manager.SubIndexes() {
		dirs = append(dirs, filepath.Join(p.store.Root(), part))
	}
	sched, err := watcher.NewScheduler(watchTasks{manager: p.manager, searcher: searcher}, dirs, schedOpts,
		watcher.WithMetrics(metrics),
		watcher.WithLogger(p.logger))
	if err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	go func() {
		for err := range sched.Errors() {
			slog.Warn("scheduled_run_failed", slog.String("error", err.Error()))
		}
	}()

	out := cmd.OutOrStdout()
	if searcher != nil {
		srv, listener, err := startServer(opts.addr, newWatchMux(ctx, p, searcher, registry))
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		_, _ = fmt.Fprintf(out, "Serving on http://%s\n", listener.Addr())
	}

	_, _ = fmt.Fprintf(out, "Watching %d partitions (%s, every %s)\n", len(dirs), sched.Mode(), schedOpts.PollInterval)
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchTasks runs the manager's scheduled tasks. Once every partition has
// been dropped from the handle cache, the searcher's result cache only holds
// entries for dead generations and is emptied.
type watchTasks struct {
	manager  *manager.Manager
	searcher *search.Searcher
}

func (t watchTasks) PerformScheduledTasks(ctx context.Context) error {
	err := t.manager.PerformScheduledTasks(ctx)
	if t.searcher != nil && !t.manager.IsAnyCached() {
		t.searcher.Purge()
	}
	return err
}

func startServer(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, ierrors.ValidationError(fmt.Sprintf("cannot listen on %s", addr), err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http_server_failed", slog.String("error", err.Error()))
		}
	}()
	return srv, listener, nil
}

func newWatchMux(ctx context.Context, p *project, searcher *search.Searcher, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
				return
			}
			limit = n
		}
		hits, err := searcher.Search(r.Context(), q.Get("q"), search.Options{
			Limit:      limit,
			Partitions: q["partition"],
		})
		if err != nil {
			status := http.StatusInternalServerError
			if ierrors.GetCategory(err) == ierrors.CategoryValidation {
				status = http.StatusBadRequest
			}
			writeJSONError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		info := collectStatus(r.Context(), p.store)
		cached := make(map[string]bool, len(info.Partitions))
		for _, part := range p.manager.SubIndexes() {
			cached[part] = p.manager.IsCached(part)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  info,
			"cached":  cached,
			"running": p.manager.IsRunning() && ctx.Err() == nil,
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  ierrors.GetCode(err),
	})
}
