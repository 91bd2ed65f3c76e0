package reader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
)

// FileType is the reader type for local files
const FileType = "file"

// hashBufferSize matches the block size used when hashing local files
const hashBufferSize = 128 * 1024

// FileFactory builds readers for local files
type FileFactory struct{}

// NewFileFactory creates a new local file factory
func NewFileFactory() *FileFactory {
	return &FileFactory{}
}

// Type returns the reader type
func (f *FileFactory) Type() string { return FileType }

// Schemes returns the schemes served by this factory
func (f *FileFactory) Schemes() []string { return []string{"file"} }

// Accepts reports whether loc addresses a local file
func (f *FileFactory) Accepts(loc locator.Locator) bool {
	return acceptsScheme(loc, f.Schemes()...)
}

// New creates a FileReader for loc. file: URLs are percent-decoded; bare
// paths name the file as written.
func (f *FileFactory) New(loc locator.Locator) (Reader, error) {
	p := loc.Path()
	if loc.HasScheme() {
		p = loc.DecodedPath()
	}
	return &FileReader{loc: loc, path: p}, nil
}

// FileReader reads a file from local storage and fingerprints it with sha256
type FileReader struct {
	loc  locator.Locator
	path string
}

// Locator returns the bound locator
func (r *FileReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *FileReader) Type() string { return FileType }

// Open opens the file for reading
func (r *FileReader) Open(_ context.Context) (io.ReadCloser, error) {
	return os.Open(r.path)
}

// Fingerprint returns the hex sha256 of the file content
func (r *FileReader) Fingerprint(ctx context.Context) (string, error) {
	logger := log.FromContext(ctx).WithValues("path", r.path)
	logger.V(1).Info("Started calculating sha256sum")

	file, err := os.Open(r.path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", r.path, err)
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", r.path, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	logger.V(1).Info("Finished calculating sha256sum", "sha256sum", sum)
	return sum, nil
}
