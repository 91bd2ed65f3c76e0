package parser

import (
	"errors"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/chazu/resourceloader/pkg/locator"
)

// YAMLType is the parser type for YAML documents
const YAMLType = "yaml"

// NewYAML returns a factory for application/yaml. Only the first document of
// a multi-document stream is decoded; an empty stream decodes to nil.
func NewYAML() Factory {
	return &mimeFactory{
		name:      YAMLType,
		mimetypes: []string{locator.MimeYAML, "application/x-yaml", "text/yaml"},
		decode:    decodeYAML,
	}
}

func decodeYAML(r io.Reader) (any, error) {
	var value any
	if err := yaml.NewDecoder(r).Decode(&value); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}
