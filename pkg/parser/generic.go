package parser

import (
	"context"
	"io"

	"github.com/chazu/resourceloader/pkg/locator"
	"github.com/chazu/resourceloader/pkg/reader"
)

// GenericType is the parser type for undecoded content
const GenericType = "generic"

// Generic returns the content unmodified as a []byte. It accepts every
// reader, so it must be the last entry of a probe registry. In an exact
// registry it serves application/octet-stream.
type Generic struct{}

// NewGeneric creates the fallback factory
func NewGeneric() *Generic {
	return &Generic{}
}

// Type returns the parser type
func (g *Generic) Type() string { return GenericType }

// Mimetypes returns the mimetypes the exact registry maps to Generic
func (g *Generic) Mimetypes() []string { return []string{locator.MimeBinary} }

// Accepts always returns true
func (g *Generic) Accepts(reader.Reader) bool { return true }

// New creates a parser returning the raw content of r
func (g *Generic) New(r reader.Reader) Parser {
	return &genericParser{reader: r}
}

type genericParser struct {
	reader reader.Reader
}

func (p *genericParser) Parse(ctx context.Context) (any, error) {
	return parseStream(ctx, p.reader, func(r io.Reader) (any, error) {
		return io.ReadAll(r)
	})
}
