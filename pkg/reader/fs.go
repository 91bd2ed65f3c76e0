package reader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/chazu/resourceloader/pkg/locator"
)

// FSType is the reader type for files inside an fs.FS
const FSType = "fs"

// DefaultFSScheme is the scheme FSFactory serves when none is given
const DefaultFSScheme = "embed"

// FSFactory builds readers for files in an fs.FS, typically an embed.FS
// bundled with the binary
type FSFactory struct {
	fsys   fs.FS
	scheme string
}

// NewFSFactory creates a factory serving fsys under scheme. An empty scheme
// selects DefaultFSScheme.
func NewFSFactory(fsys fs.FS, scheme string) *FSFactory {
	if scheme == "" {
		scheme = DefaultFSScheme
	}
	return &FSFactory{fsys: fsys, scheme: scheme}
}

// Type returns the reader type
func (f *FSFactory) Type() string { return FSType }

// Schemes returns the schemes served by this factory
func (f *FSFactory) Schemes() []string { return []string{f.scheme} }

// Accepts reports whether loc uses the factory scheme
func (f *FSFactory) Accepts(loc locator.Locator) bool {
	return f.fsys != nil && acceptsScheme(loc, f.scheme)
}

// New creates an FSReader. Host and path are joined, so both
// embed://configs/app.yaml and embed:///configs/app.yaml name configs/app.yaml.
func (f *FSFactory) New(loc locator.Locator) (Reader, error) {
	if f.fsys == nil {
		return nil, fmt.Errorf("no filesystem configured for %s", loc.RawURL())
	}

	name := strings.TrimPrefix(path.Join(loc.Host(), loc.DecodedPath()), "/")
	if !fs.ValidPath(name) || name == "." {
		return nil, fmt.Errorf("invalid path %q in %s", name, loc.RawURL())
	}

	return &FSReader{loc: loc, fsys: f.fsys, name: name}, nil
}

// FSReader reads one file from an fs.FS and fingerprints it with xxhash
type FSReader struct {
	loc  locator.Locator
	fsys fs.FS
	name string
}

// Locator returns the bound locator
func (r *FSReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *FSReader) Type() string { return FSType }

// Open opens the file
func (r *FSReader) Open(_ context.Context) (io.ReadCloser, error) {
	return r.fsys.Open(r.name)
}

// Fingerprint returns a content-based digest
func (r *FSReader) Fingerprint(_ context.Context) (string, error) {
	file, err := r.fsys.Open(r.name)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", r.name, err)
	}
	defer file.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", r.name, err)
	}

	return fmt.Sprintf("%s:%x", r.name, h.Sum64()), nil
}
