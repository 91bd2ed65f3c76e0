package loader

import (
	"k8s.io/utils/clock"

	"github.com/chazu/resourceloader/pkg/parser"
	"github.com/chazu/resourceloader/pkg/reader"
)

// Handler post-processes a parsed value before it is cached. A handler
// error aborts the load and leaves the cache untouched.
type Handler func(value any) (any, error)

// Option configures a Cache at construction
type Option func(*Cache)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.PassiveClock) Option {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// WithReaderFactories replaces the bundled reader factories
func WithReaderFactories(factories ...reader.Factory) Option {
	return func(cache *Cache) {
		cache.readerFactories = factories
	}
}

// WithReaderOptions configures the bundled reader factories (HTTP client,
// Kubernetes client, embedded filesystem). Ignored when
// WithReaderFactories is given.
func WithReaderOptions(opts reader.Options) Option {
	return func(cache *Cache) {
		cache.readerOptions = opts
	}
}

// WithParserFactories replaces the bundled parser factories
func WithParserFactories(factories ...parser.Factory) Option {
	return func(cache *Cache) {
		cache.parserFactories = factories
	}
}

// LoadOption customizes a single Load call
type LoadOption func(*loadOptions)

type loadOptions struct {
	mimetype       string
	parser         parser.Factory
	reader         reader.Reader
	handler        Handler
	replaceHandler bool
}

// WithMimetype overrides the mimetype guessed from the URL extension
func WithMimetype(mimetype string) LoadOption {
	return func(o *loadOptions) {
		o.mimetype = mimetype
	}
}

// WithParser bypasses parser resolution
func WithParser(f parser.Factory) LoadOption {
	return func(o *loadOptions) {
		o.parser = f
	}
}

// WithReader bypasses reader resolution. A WithMimetype override still
// applies to parser resolution.
func WithReader(r reader.Reader) LoadOption {
	return func(o *loadOptions) {
		o.reader = r
	}
}

// WithHandler sets the handler applied to the parsed value. It only takes
// effect when the URL has no cache entry yet: once stored, the entry's
// handler is reused on every refresh.
func WithHandler(h Handler) LoadOption {
	return func(o *loadOptions) {
		o.handler = h
	}
}

// WithHandlerReplace sets the handler even when an entry already stores one.
// It applies from the next refresh of the entry on; a nil h clears it.
func WithHandlerReplace(h Handler) LoadOption {
	return func(o *loadOptions) {
		o.handler = h
		o.replaceHandler = true
	}
}
