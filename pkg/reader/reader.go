package reader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/resourceloader/pkg/locator"
)

var (
	// ErrUnsupportedScheme is returned when no reader accepts a locator
	ErrUnsupportedScheme = errors.New("unsupported reader scheme")

	// ErrFingerprintUnavailable is returned by Fingerprint when the backing
	// resource cannot be probed. Callers treat it as "must re-read".
	ErrFingerprintUnavailable = errors.New("fingerprint unavailable")
)

// Reader gives access to the bytes of one resolved resource
type Reader interface {
	// Locator returns the locator the reader was built for
	Locator() locator.Locator

	// Open returns a stream over the resource content. The caller must close
	// it on every path.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Fingerprint returns a cheap, comparable digest of the current content
	// (a sha256, an ETag, a manifest digest, a commit SHA). It never mutates
	// the resource.
	Fingerprint(ctx context.Context) (string, error)

	// Type returns the reader type (for logging and metrics)
	Type() string
}

// Factory builds Readers for the locators it accepts
type Factory interface {
	// Type returns the reader type produced by this factory
	Type() string

	// Schemes lists the URL schemes the factory serves, used to key the
	// exact-match registry
	Schemes() []string

	// Accepts reports whether the factory can serve loc. It must not have
	// side effects.
	Accepts(loc locator.Locator) bool

	// New builds a Reader bound to loc
	New(loc locator.Locator) (Reader, error)
}

// Resolver picks the Reader for a locator
type Resolver interface {
	Resolve(loc locator.Locator) (Reader, error)
}

// Strategy selects how a Resolver walks its factories
type Strategy string

const (
	// StrategyExact looks the scheme up in a map
	StrategyExact Strategy = "exact"

	// StrategyProbe asks each factory in order whether it accepts the locator
	StrategyProbe Strategy = "probe"
)

// ParseStrategy validates a strategy name. The empty string selects probe.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyProbe:
		return StrategyProbe, nil
	case StrategyExact:
		return StrategyExact, nil
	default:
		return "", fmt.Errorf("unknown resolution strategy %q", s)
	}
}

// NewResolver builds a Resolver of the given strategy over factories
func NewResolver(strategy Strategy, factories ...Factory) Resolver {
	if strategy == StrategyExact {
		return NewExactRegistry(factories...)
	}
	return NewProbeRegistry(factories...)
}

// ExactRegistry maps a scheme to exactly one factory
type ExactRegistry struct {
	factories map[string]Factory
}

// NewExactRegistry registers every scheme of every factory. Later factories
// replace earlier ones for a shared scheme.
func NewExactRegistry(factories ...Factory) *ExactRegistry {
	registry := &ExactRegistry{
		factories: make(map[string]Factory),
	}
	for _, f := range factories {
		registry.Register(f)
	}
	return registry
}

// Register adds f under each of its schemes
func (r *ExactRegistry) Register(f Factory) {
	for _, scheme := range f.Schemes() {
		r.factories[scheme] = f
	}
}

// Resolve implements Resolver. A registered factory that declines loc, for
// lack of a client or filesystem, reports the scheme as unsupported.
func (r *ExactRegistry) Resolve(loc locator.Locator) (Reader, error) {
	f, ok := r.factories[loc.Scheme()]
	if !ok || !f.Accepts(loc) {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, loc.Scheme())
	}
	return f.New(loc)
}

// ProbeRegistry tries each factory in registration order
type ProbeRegistry struct {
	factories []Factory
}

// NewProbeRegistry creates a probe registry; order is significant
func NewProbeRegistry(factories ...Factory) *ProbeRegistry {
	return &ProbeRegistry{factories: append([]Factory(nil), factories...)}
}

// Resolve implements Resolver. The first factory that accepts wins.
func (r *ProbeRegistry) Resolve(loc locator.Locator) (Reader, error) {
	for _, f := range r.factories {
		if f.Accepts(loc) {
			return f.New(loc)
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, loc.Scheme())
}

// acceptsScheme is the common Accepts precondition: the scheme is one of
// schemes.
func acceptsScheme(loc locator.Locator, schemes ...string) bool {
	for _, s := range schemes {
		if loc.Scheme() == s {
			return true
		}
	}
	return false
}
