package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/chazu/resourceloader/pkg/locator"
	"github.com/chazu/resourceloader/pkg/parser"
	"github.com/chazu/resourceloader/pkg/reader"
)

// memStore is an in-memory object store served under the mem:// scheme.
// Objects without a revision report ErrFingerprintUnavailable.
type memStore struct {
	mu      sync.Mutex
	objects map[string]memObject

	opens        atomic.Int64
	fingerprints atomic.Int64
	openErr      error
}

type memObject struct {
	content  []byte
	revision string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]memObject)}
}

func (s *memStore) put(path, content, revision string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = memObject{content: []byte(content), revision: revision}
}

func (s *memStore) get(path string) (memObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// factory returns a reader factory serving the store
func (s *memStore) factory() reader.Factory {
	return &memFactory{store: s}
}

type memFactory struct {
	store *memStore
}

func (f *memFactory) Type() string      { return "mem" }
func (f *memFactory) Schemes() []string { return []string{"mem"} }
func (f *memFactory) Accepts(loc locator.Locator) bool {
	return loc.Scheme() == "mem"
}
func (f *memFactory) New(loc locator.Locator) (reader.Reader, error) {
	return &memReader{loc: loc, store: f.store}, nil
}

type memReader struct {
	loc   locator.Locator
	store *memStore
}

func (r *memReader) Locator() locator.Locator { return r.loc }
func (r *memReader) Type() string             { return "mem" }

func (r *memReader) Open(context.Context) (io.ReadCloser, error) {
	r.store.opens.Add(1)
	if r.store.openErr != nil {
		return nil, r.store.openErr
	}
	obj, ok := r.store.get(r.loc.Path())
	if !ok {
		return nil, fmt.Errorf("object %s not found", r.loc.Path())
	}
	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

func (r *memReader) Fingerprint(context.Context) (string, error) {
	r.store.fingerprints.Add(1)
	obj, ok := r.store.get(r.loc.Path())
	if !ok || obj.revision == "" {
		return "", fmt.Errorf("%w: no revision for %s", reader.ErrFingerprintUnavailable, r.loc.Path())
	}
	return obj.revision, nil
}

// countingParsers wraps parser factories and counts Parse calls
type countingParsers struct {
	parses atomic.Int64
}

func (c *countingParsers) wrap(factories ...parser.Factory) []parser.Factory {
	out := make([]parser.Factory, len(factories))
	for i, f := range factories {
		out[i] = &countingFactory{Factory: f, counter: c}
	}
	return out
}

type countingFactory struct {
	parser.Factory
	counter *countingParsers
}

func (f *countingFactory) New(r reader.Reader) parser.Parser {
	return &countingParser{Parser: f.Factory.New(r), counter: f.counter}
}

type countingParser struct {
	parser.Parser
	counter *countingParsers
}

func (p *countingParser) Parse(ctx context.Context) (any, error) {
	p.counter.parses.Add(1)
	return p.Parser.Parse(ctx)
}
