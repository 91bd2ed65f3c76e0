package parser

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/resourceloader/pkg/locator"
)

// CBORType is the parser type for CBOR documents
const CBORType = "cbor"

// cborDecMode decodes maps with text keys into map[string]any so CBOR values
// have the same shape as JSON and YAML ones
var cborDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// NewCBOR returns a factory for application/cbor
func NewCBOR() Factory {
	return &mimeFactory{
		name:      CBORType,
		mimetypes: []string{locator.MimeCBOR},
		decode:    decodeCBOR,
	}
}

func decodeCBOR(r io.Reader) (any, error) {
	var value any
	if err := cborDecMode.NewDecoder(r).Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
