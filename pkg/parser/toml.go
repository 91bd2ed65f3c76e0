package parser

import (
	"io"

	"github.com/pelletier/go-toml/v2"

	"github.com/chazu/resourceloader/pkg/locator"
)

// TOMLType is the parser type for TOML documents
const TOMLType = "toml"

// NewTOML returns a factory for application/toml
func NewTOML() Factory {
	return &mimeFactory{
		name:      TOMLType,
		mimetypes: []string{locator.MimeTOML},
		decode:    decodeTOML,
	}
}

func decodeTOML(r io.Reader) (any, error) {
	value := map[string]any{}
	if err := toml.NewDecoder(r).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
