/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/chazu/resourceloader/internal/cli"
	"github.com/chazu/resourceloader/pkg/loader"
)

type watchFlags struct {
	interval    time.Duration
	count       int
	mimetype    string
	parser      string
	output      string
	metricsAddr string
}

func newWatchCmd() *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch URL [URL...]",
		Short: "Reload resources periodically and print them when they change",
		Long: "watch loads each URL every interval through the cache. A value is printed\n" +
			"the first time and again whenever the resource was re-read because its\n" +
			"fingerprint changed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, flags)
		},
	}

	f := cmd.Flags()
	f.DurationVar(&flags.interval, "interval", 10*time.Second, "Time between load rounds.")
	f.IntVar(&flags.count, "count", 0, "Stop after this many rounds; 0 runs until interrupted.")
	f.StringVar(&flags.mimetype, "mimetype", "", "Override the mimetype guessed from the URL.")
	f.StringVar(&flags.parser, "parser", "", "Force a parser by type.")
	f.StringVarP(&flags.output, "output", "o", cli.FormatJSON, "Output format: json, yaml or raw.")
	f.StringVar(&flags.metricsAddr, "metrics-bind-address", "",
		"Serve Prometheus metrics on this address, e.g. :8080. Empty disables the endpoint.")

	return cmd
}

func runWatch(cmd *cobra.Command, urls []string, flags *watchFlags) error {
	if flags.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.FromContext(ctx).WithName("watch")
	cache := cli.CtxCache.MustValue(ctx)

	opts, err := loadOptions(flags.mimetype, flags.parser)
	if err != nil {
		return err
	}

	if flags.metricsAddr != "" {
		srv := serveMetrics(ctx, flags.metricsAddr)
		defer func() {
			_ = srv.Shutdown(context.Background())
		}()
		logger.Info("Serving metrics", "address", flags.metricsAddr)
	}

	w := &watcher{
		cache:  cache,
		urls:   urls,
		opts:   opts,
		output: flags.output,
		seen:   make(map[string]string, len(urls)),
	}

	ticker := time.NewTicker(flags.interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		if err := w.round(ctx, cmd); err != nil {
			return err
		}
		if flags.count > 0 && round >= flags.count {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// watcher prints a value whenever its cache entry was re-read since the
// previous round
type watcher struct {
	cache  *loader.Cache
	urls   []string
	opts   []loader.LoadOption
	output string
	seen   map[string]string
}

// revision identifies the content behind an entry. Without a fingerprint
// every re-read counts as a new revision.
func revision(entry loader.CacheEntry) string {
	if entry.Fingerprint != "" {
		return entry.Fingerprint
	}
	return entry.InsertedAt.Format(time.RFC3339Nano)
}

func (w *watcher) round(ctx context.Context, cmd *cobra.Command) error {
	logger := log.FromContext(ctx)
	out := cmd.OutOrStdout()

	values, err := w.cache.LoadAll(ctx, w.urls, w.opts...)
	if err != nil {
		// Failed loads keep their previous entry; report and carry on.
		logger.Error(err, "Some resources failed to load")
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}

	for _, url := range w.urls {
		value, ok := values[url]
		if !ok {
			continue
		}
		entry, ok := w.cache.Entry(url)
		if !ok {
			continue
		}
		rev := revision(entry)
		if last, seen := w.seen[url]; seen && last == rev {
			continue
		}
		w.seen[url] = rev

		fmt.Fprintf(out, "# %s (fingerprint %q)\n", url, entry.Fingerprint)
		if err := cli.Render(out, value, w.output); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.FromContext(ctx).Error(err, "Metrics server failed")
		}
	}()

	return srv
}
