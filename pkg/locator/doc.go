// Package locator parses resource URLs into a scheme, a path and a mimetype.
// It also registers the non-standard extensions (YAML, pickle, CBOR, TOML, CUE)
// with the process-wide mime table.
package locator
