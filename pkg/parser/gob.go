package parser

import (
	"encoding/gob"
	"io"

	"github.com/chazu/resourceloader/pkg/locator"
)

// GobType is the parser type for binary object streams
const GobType = "gob"

func init() {
	// Generic containers are not registered by encoding/gob itself
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// NewGob returns a factory for application/pickle, the binary object
// encoding. Streams must hold one interface value, as written by EncodeGob.
func NewGob() Factory {
	return &mimeFactory{
		name:      GobType,
		mimetypes: []string{locator.MimePickle},
		decode:    decodeGob,
	}
}

func decodeGob(r io.Reader) (any, error) {
	var value any
	if err := gob.NewDecoder(r).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// EncodeGob writes value in the form the gob parser reads back
func EncodeGob(w io.Writer, value any) error {
	return gob.NewEncoder(w).Encode(&value)
}
