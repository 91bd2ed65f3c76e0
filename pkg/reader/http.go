package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
)

// HTTPType is the reader type for plain HTTP(S) objects
const HTTPType = "http"

// HTTPFactory builds readers for http and https URLs
type HTTPFactory struct {
	client *http.Client
}

// NewHTTPFactory creates an HTTP factory. A nil client selects
// http.DefaultClient.
func NewHTTPFactory(client *http.Client) *HTTPFactory {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFactory{client: client}
}

// Type returns the reader type
func (f *HTTPFactory) Type() string { return HTTPType }

// Schemes returns the schemes served by this factory
func (f *HTTPFactory) Schemes() []string { return []string{"http", "https"} }

// Accepts reports whether loc is an http or https URL
func (f *HTTPFactory) Accepts(loc locator.Locator) bool {
	return acceptsScheme(loc, f.Schemes()...)
}

// New creates an HTTPReader for loc
func (f *HTTPFactory) New(loc locator.Locator) (Reader, error) {
	return &HTTPReader{loc: loc, client: f.client}, nil
}

// HTTPReader reads an object over HTTP. Its fingerprint is the object's ETag,
// falling back to Last-Modified for servers that do not send one.
type HTTPReader struct {
	loc    locator.Locator
	client *http.Client
}

// Locator returns the bound locator
func (r *HTTPReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *HTTPReader) Type() string { return HTTPType }

// Open issues a GET and returns the response body
func (r *HTTPReader) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.loc.RawURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to get %s: status %d", r.loc.RawURL(), resp.StatusCode)
	}

	return resp.Body, nil
}

// Fingerprint issues a HEAD and returns the revision tag of the object. A
// missing object or a server without revision headers yields
// ErrFingerprintUnavailable.
func (r *HTTPReader) Fingerprint(ctx context.Context) (string, error) {
	logger := log.FromContext(ctx).WithValues("url", r.loc.RawURL())

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.loc.RawURL(), nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		logger.Info("Object not found while probing fingerprint")
		return "", fmt.Errorf("%w: %s not found", ErrFingerprintUnavailable, r.loc.RawURL())
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to probe %s: status %d", r.loc.RawURL(), resp.StatusCode)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag, nil
	}
	if modified := resp.Header.Get("Last-Modified"); modified != "" {
		return "last-modified:" + modified, nil
	}

	return "", fmt.Errorf("%w: %s sent no ETag or Last-Modified", ErrFingerprintUnavailable, r.loc.RawURL())
}
