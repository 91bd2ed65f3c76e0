package parser

import (
	"fmt"
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/chazu/resourceloader/pkg/locator"
)

// CUEType is the parser type for CUE files
const CUEType = "cue"

// NewCUE returns a factory for application/cue. The file is compiled and
// evaluated on its own (no imports) and must be concrete; the result is
// decoded into plain Go values.
func NewCUE() Factory {
	return &mimeFactory{
		name:      CUEType,
		mimetypes: []string{locator.MimeCUE},
		decode:    decodeCUE,
	}
}

func decodeCUE(r io.Reader) (any, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// A cue.Context is not safe for concurrent use, so each parse gets one
	value := cuecontext.New().CompileBytes(content)
	if value.Err() != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", value.Err())
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE value is not concrete: %w", err)
	}

	var out any
	if err := value.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode CUE value: %w", err)
	}

	return out, nil
}
