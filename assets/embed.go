// Package assets provides the example resources bundled with the binary.
package assets

import "embed"

// ExamplesFS contains the bundled example resources and configuration.
// The CLI serves it under the embed:// scheme, e.g.
// embed://examples/settings.yaml.
//
//go:embed examples/*
var ExamplesFS embed.FS

// ExamplesDir is the root directory within the embedded filesystem.
const ExamplesDir = "examples"
