package parser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/reader"
)

// ErrUnsupportedMimetype is returned when no parser accepts a reader
var ErrUnsupportedMimetype = errors.New("unsupported parser mimetype")

// Parser decodes the content of the reader it was built for
type Parser interface {
	Parse(ctx context.Context) (any, error)
}

// Factory builds Parsers for the readers it accepts
type Factory interface {
	// Type returns the parser type (for logging and metrics)
	Type() string

	// Mimetypes lists the mimetypes served, used to key the exact registry
	Mimetypes() []string

	// Accepts reports whether the factory can decode r. It must not read
	// from r.
	Accepts(r reader.Reader) bool

	// New builds a Parser bound to r
	New(r reader.Reader) Parser
}

// Resolver picks the Parser for a reader
type Resolver interface {
	Resolve(r reader.Reader) (Parser, Factory, error)
}

// NewResolver builds a Resolver of the given strategy over factories
func NewResolver(strategy reader.Strategy, factories ...Factory) Resolver {
	if strategy == reader.StrategyExact {
		return NewExactRegistry(factories...)
	}
	return NewProbeRegistry(factories...)
}

// ExactRegistry maps a mimetype to exactly one factory
type ExactRegistry struct {
	factories map[string]Factory
}

// NewExactRegistry registers every mimetype of every factory. Later factories
// replace earlier ones for a shared mimetype.
func NewExactRegistry(factories ...Factory) *ExactRegistry {
	registry := &ExactRegistry{
		factories: make(map[string]Factory),
	}
	for _, f := range factories {
		registry.Register(f)
	}
	return registry
}

// Register adds f under each of its mimetypes
func (r *ExactRegistry) Register(f Factory) {
	for _, mimetype := range f.Mimetypes() {
		r.factories[mimetype] = f
	}
}

// Resolve implements Resolver
func (r *ExactRegistry) Resolve(rd reader.Reader) (Parser, Factory, error) {
	mimetype := rd.Locator().Mimetype()
	f, ok := r.factories[mimetype]
	if !ok {
		return nil, nil, fmt.Errorf("%w %q", ErrUnsupportedMimetype, mimetype)
	}
	return f.New(rd), f, nil
}

// ProbeRegistry tries each factory in registration order
type ProbeRegistry struct {
	factories []Factory
}

// NewProbeRegistry creates a probe registry; order is significant and a
// Generic factory belongs last
func NewProbeRegistry(factories ...Factory) *ProbeRegistry {
	return &ProbeRegistry{factories: append([]Factory(nil), factories...)}
}

// Resolve implements Resolver. The first factory that accepts wins.
func (r *ProbeRegistry) Resolve(rd reader.Reader) (Parser, Factory, error) {
	for _, f := range r.factories {
		if f.Accepts(rd) {
			return f.New(rd), f, nil
		}
	}
	return nil, nil, fmt.Errorf("%w %q", ErrUnsupportedMimetype, rd.Locator().Mimetype())
}

// decodeFunc consumes a stream and returns the decoded value
type decodeFunc func(io.Reader) (any, error)

// parseStream opens r, decodes its content and closes the stream on every
// path. Decode errors are returned as produced by the decoder.
func parseStream(ctx context.Context, r reader.Reader, decode decodeFunc) (any, error) {
	logger := log.FromContext(ctx).WithValues("url", r.Locator().RawURL())

	rc, err := r.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	logger.V(1).Info("Started reading")
	value, err := decode(rc)
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("Finished reading")

	return value, nil
}

// mimeFactory is the shared Factory implementation of the bundled parsers
type mimeFactory struct {
	name      string
	mimetypes []string
	decode    decodeFunc
}

func (f *mimeFactory) Type() string        { return f.name }
func (f *mimeFactory) Mimetypes() []string { return f.mimetypes }

func (f *mimeFactory) Accepts(r reader.Reader) bool {
	mimetype := r.Locator().Mimetype()
	for _, m := range f.mimetypes {
		if m == mimetype {
			return true
		}
	}
	return false
}

func (f *mimeFactory) New(r reader.Reader) Parser {
	return &streamParser{reader: r, decode: f.decode}
}

type streamParser struct {
	reader reader.Reader
	decode decodeFunc
}

func (p *streamParser) Parse(ctx context.Context) (any, error) {
	return parseStream(ctx, p.reader, p.decode)
}
