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

package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chazu/resourceloader/pkg/loader"
	"github.com/chazu/resourceloader/pkg/reader"
)

// EnvPrefix prefixes every environment override, e.g. RESOURCELOADER_TIMEOUT
const EnvPrefix = "RESOURCELOADER"

// Config is the resourceloader configuration as read from file and
// environment
type Config struct {
	// Timeout is the window during which cached values are served without I/O
	Timeout time.Duration `mapstructure:"timeout"`

	// Strategy is the resolution strategy, "probe" or "exact"
	Strategy string `mapstructure:"strategy"`

	// MaxEntries bounds the cache size; 0 keeps every entry
	MaxEntries int `mapstructure:"maxEntries"`

	// ExtendOnUnchanged restarts the timeout on fingerprint-confirmed hits
	ExtendOnUnchanged bool `mapstructure:"extendOnUnchanged"`

	// LoadConcurrency bounds parallel loads
	LoadConcurrency int `mapstructure:"loadConcurrency"`

	// HTTPTimeout bounds each HTTP and OCI request
	HTTPTimeout time.Duration `mapstructure:"httpTimeout"`

	// Kubernetes configures configmap:// URLs
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
}

// KubernetesConfig configures access to ConfigMaps
type KubernetesConfig struct {
	// Enabled builds a client from the ambient kubeconfig
	Enabled bool `mapstructure:"enabled"`

	// Namespace is used by configmap URLs without a namespace
	Namespace string `mapstructure:"namespace"`
}

// Loader provides configuration loading capabilities
type Loader interface {
	Load(ctx context.Context) (*Config, error)
}

// FileLoader reads an optional YAML file and applies RESOURCELOADER_*
// environment overrides on top of it
type FileLoader struct {
	// path is the configuration file; empty means defaults and environment only
	path string
}

// NewFileLoader creates a loader for the file at path
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load implements Loader
func (l *FileLoader) Load(_ context.Context) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := loader.DefaultConfig()

	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("strategy", string(defaults.Strategy))
	v.SetDefault("maxEntries", defaults.MaxEntries)
	v.SetDefault("extendOnUnchanged", defaults.ExtendOnUnchanged)
	v.SetDefault("loadConcurrency", defaults.LoadConcurrency)
	v.SetDefault("httpTimeout", 30*time.Second)
	v.SetDefault("kubernetes.enabled", false)
	v.SetDefault("kubernetes.namespace", "default")
}

// Validate reports configuration errors
func (c *Config) Validate() error {
	var errs []error

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative"))
	}
	if _, err := reader.ParseStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("maxEntries must not be negative"))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("httpTimeout must not be negative"))
	}

	return errors.Join(errs...)
}

// LoaderConfig converts c to the cache configuration
func (c *Config) LoaderConfig() loader.Config {
	return loader.Config{
		Timeout:           c.Timeout,
		Strategy:          reader.Strategy(c.Strategy),
		MaxEntries:        c.MaxEntries,
		ExtendOnUnchanged: c.ExtendOnUnchanged,
		LoadConcurrency:   c.LoadConcurrency,
	}
}
