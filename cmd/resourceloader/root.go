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
	"flag"
	"fmt"
	"net/http"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure configmap:// URLs work against any cluster.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/chazu/resourceloader/assets"
	"github.com/chazu/resourceloader/internal/cli"
	"github.com/chazu/resourceloader/internal/config"
	"github.com/chazu/resourceloader/pkg/loader"
	"github.com/chazu/resourceloader/pkg/reader"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// rootFlags override the configuration file and environment
type rootFlags struct {
	configPath        string
	timeout           string
	strategy          string
	maxEntries        int
	extendOnUnchanged bool
	kubernetes        bool
	namespace         string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	zapOpts := zap.Options{Development: true}

	cmd := &cobra.Command{
		Use:   "resourceloader",
		Short: "Load, parse and cache resources addressed by URL",
		Long: "resourceloader reads resources from files, HTTP(S), OCI registries, Git repositories,\n" +
			"Kubernetes ConfigMaps and data URLs, decodes them by mimetype and caches the result.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
			return setup(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to a YAML configuration file.")
	pf.StringVar(&flags.timeout, "timeout", "", "Serve cached values without I/O for this long (e.g. 5m).")
	pf.StringVar(&flags.strategy, "strategy", "", "Reader and parser resolution strategy: probe or exact.")
	pf.IntVar(&flags.maxEntries, "max-entries", 0, "Bound the cache size, evicting least recently used entries.")
	pf.BoolVar(&flags.extendOnUnchanged, "extend-on-unchanged", false,
		"Restart the timeout when an expired entry is confirmed unchanged.")
	pf.BoolVar(&flags.kubernetes, "kubernetes", false, "Enable configmap:// URLs using the ambient kubeconfig.")
	pf.StringVar(&flags.namespace, "namespace", "", "Namespace for configmap:// URLs without one.")

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(goFlags)
	pf.AddGoFlagSet(goFlags)

	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newMimetypeCmd())

	return cmd
}

// setup loads the configuration, applies flag overrides and stores the
// configuration and the cache on the command context
func setup(cmd *cobra.Command, flags *rootFlags) error {
	ctx := ctrl.LoggerInto(cmd.Context(), ctrl.Log.WithName("resourceloader"))

	cfg, err := config.NewFileLoader(flags.configPath).Load(ctx)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, flags, cfg); err != nil {
		return err
	}

	opts := reader.Options{
		HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
		Namespace:  cfg.Kubernetes.Namespace,
		FS:         assets.ExamplesFS,
	}

	if cfg.Kubernetes.Enabled {
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			return fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
		if err != nil {
			return fmt.Errorf("failed to create Kubernetes client: %w", err)
		}
		opts.K8sClient = k8sClient
		setupLog.V(1).Info("Kubernetes client enabled", "namespace", cfg.Kubernetes.Namespace)
	}

	cache, err := loader.New(cfg.LoaderConfig(), loader.WithReaderOptions(opts))
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	ctx = cli.CtxConfig.WithValue(ctx, cfg)
	ctx = cli.CtxCache.WithValue(ctx, cache)
	cmd.SetContext(ctx)

	return nil
}

// applyFlags overrides cfg with the flags set on the command line
func applyFlags(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("timeout") {
		d, err := parseDuration(flags.timeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if changed("strategy") {
		cfg.Strategy = flags.strategy
	}
	if changed("max-entries") {
		cfg.MaxEntries = flags.maxEntries
	}
	if changed("extend-on-unchanged") {
		cfg.ExtendOnUnchanged = flags.extendOnUnchanged
	}
	if changed("kubernetes") {
		cfg.Kubernetes.Enabled = flags.kubernetes
	}
	if changed("namespace") {
		cfg.Kubernetes.Namespace = flags.namespace
	}

	return cfg.Validate()
}
