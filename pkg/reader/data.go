package reader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/chazu/resourceloader/pkg/locator"
)

// DataType is the reader type for RFC 2397 data URLs
const DataType = "data"

// DataFactory builds readers for data: URLs, where the URL is the content
type DataFactory struct{}

// NewDataFactory creates a new data URL factory
func NewDataFactory() *DataFactory {
	return &DataFactory{}
}

// Type returns the reader type
func (f *DataFactory) Type() string { return DataType }

// Schemes returns the schemes served by this factory
func (f *DataFactory) Schemes() []string { return []string{"data"} }

// Accepts reports whether loc is a data: URL
func (f *DataFactory) Accepts(loc locator.Locator) bool {
	return acceptsScheme(loc, f.Schemes()...)
}

// New decodes the payload of loc and creates a DataReader
func (f *DataFactory) New(loc locator.Locator) (Reader, error) {
	content, err := decodeDataURL(loc.Opaque())
	if err != nil {
		return nil, fmt.Errorf("invalid data URL: %w", err)
	}
	return &DataReader{loc: loc, content: content}, nil
}

// decodeDataURL returns the payload after the comma, base64-decoded when
// the header says so and percent-decoded otherwise
func decodeDataURL(opaque string) ([]byte, error) {
	header, payload, ok := strings.Cut(opaque, ",")
	if !ok {
		return nil, fmt.Errorf("missing comma")
	}

	if strings.HasSuffix(header, ";base64") {
		if content, err := base64.StdEncoding.DecodeString(payload); err == nil {
			return content, nil
		}
		return base64.RawStdEncoding.DecodeString(payload)
	}

	if unescaped, err := url.PathUnescape(payload); err == nil {
		return []byte(unescaped), nil
	}
	return []byte(payload), nil
}

// DataReader serves the content embedded in the URL
type DataReader struct {
	loc     locator.Locator
	content []byte
}

// Locator returns the bound locator
func (r *DataReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *DataReader) Type() string { return DataType }

// Open returns the decoded payload
func (r *DataReader) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(r.content)), nil
}

// Fingerprint returns a content-based digest
func (r *DataReader) Fingerprint(_ context.Context) (string, error) {
	return fmt.Sprintf("data:%x", xxhash.Sum64(r.content)), nil
}
