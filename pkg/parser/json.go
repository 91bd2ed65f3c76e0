package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/chazu/resourceloader/pkg/locator"
)

// JSONType is the parser type for JSON documents
const JSONType = "json"

// NewJSON returns a factory for application/json. Numbers decode to int64
// when integral and float64 otherwise.
func NewJSON() Factory {
	return &mimeFactory{
		name:      JSONType,
		mimetypes: []string{locator.MimeJSON},
		decode:    decodeJSON,
	}
}

func decodeJSON(r io.Reader) (any, error) {
	// UseNumber keeps integers from collapsing into float64
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after top-level JSON value")
	}

	return convertJSONNumbers(value), nil
}

// convertJSONNumbers replaces json.Number values with int64 or float64
func convertJSONNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(val), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(string(val), 64); err == nil {
			return f
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = convertJSONNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = convertJSONNumbers(item)
		}
		return val
	default:
		return v
	}
}
