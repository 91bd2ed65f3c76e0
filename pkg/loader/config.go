package loader

import (
	"fmt"
	"time"

	"github.com/chazu/resourceloader/pkg/reader"
)

const (
	// DefaultTimeout is how long a cached value is served without probing the
	// resource fingerprint
	DefaultTimeout = 300 * time.Second

	// DefaultLoadConcurrency bounds the parallel loads of LoadAll
	DefaultLoadConcurrency = 10
)

// Config contains the cache configuration
type Config struct {
	// Timeout is the window after a refresh during which the cached value is
	// returned without any I/O. Zero is kept as is and means every load
	// probes the fingerprint; DefaultConfig sets DefaultTimeout.
	Timeout time.Duration

	// Strategy selects how readers and parsers are resolved
	// Default: probe
	Strategy reader.Strategy

	// MaxEntries bounds the number of cached URLs, evicting the least
	// recently used entry when exceeded. Zero means unbounded.
	MaxEntries int

	// ExtendOnUnchanged resets the timeout window when an expired entry is
	// confirmed unchanged by its fingerprint
	// Default: false
	ExtendOnUnchanged bool

	// LoadConcurrency is the maximum number of parallel loads in LoadAll
	// Default: 10
	LoadConcurrency int
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		Strategy:        reader.StrategyProbe,
		LoadConcurrency: DefaultLoadConcurrency,
	}
}

// withDefaults fills zero values and validates the result
func (c Config) withDefaults() (Config, error) {
	if c.Timeout < 0 {
		return c, fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.MaxEntries < 0 {
		return c, fmt.Errorf("max entries must not be negative, got %d", c.MaxEntries)
	}

	strategy, err := reader.ParseStrategy(string(c.Strategy))
	if err != nil {
		return c, err
	}
	c.Strategy = strategy

	if c.LoadConcurrency <= 0 {
		c.LoadConcurrency = DefaultLoadConcurrency
	}

	return c, nil
}
