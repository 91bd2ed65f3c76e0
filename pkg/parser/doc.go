// Package parser decodes the byte stream of a reader.Reader into Go values.
// Parsers are picked by mimetype through an exact or a probe registry; the
// Generic parser returns raw bytes and terminates every probe list.
package parser
