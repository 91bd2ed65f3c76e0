package reader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
)

// OCIType is the reader type for OCI registry artifacts
const OCIType = "oci"

const (
	manifestAccept = "application/vnd.oci.image.manifest.v1+json, application/vnd.docker.distribution.manifest.v2+json"

	// layerTarGzip and its docker sibling are extracted as archives
	layerTarGzip       = ocispec.MediaTypeImageLayerGzip
	layerDockerTarGzip = "application/vnd.docker.image.rootfs.diff.tar.gzip"
	layerZip           = "application/zip"
)

// OCIFactory builds readers for oci:// references
type OCIFactory struct {
	client *http.Client
}

// NewOCIFactory creates an OCI factory. A nil client selects
// http.DefaultClient.
func NewOCIFactory(client *http.Client) *OCIFactory {
	if client == nil {
		client = http.DefaultClient
	}
	return &OCIFactory{client: client}
}

// Type returns the reader type
func (f *OCIFactory) Type() string { return OCIType }

// Schemes returns the schemes served by this factory
func (f *OCIFactory) Schemes() []string { return []string{"oci"} }

// Accepts reports whether loc is an oci:// reference
func (f *OCIFactory) Accepts(loc locator.Locator) bool {
	return acceptsScheme(loc, f.Schemes()...)
}

// New parses the reference in loc and creates an OCIReader.
// loc format: oci://registry/repo:tag or oci://registry/repo@sha256:...,
// with optional query parameters file=<name inside the layer> and
// plain-http=true.
func (f *OCIFactory) New(loc locator.Locator) (Reader, error) {
	registry, repo, tag, dgst, err := parseOCIRef(loc.Host() + loc.Path())
	if err != nil {
		return nil, fmt.Errorf("invalid OCI reference: %w", err)
	}

	query := loc.Query()
	scheme := "https"
	if query.Get("plain-http") == "true" {
		scheme = "http"
	}

	return &OCIReader{
		loc:      loc,
		client:   f.client,
		baseURL:  fmt.Sprintf("%s://%s/v2/%s", scheme, registry, repo),
		tag:      tag,
		digest:   dgst,
		fileName: query.Get("file"),
	}, nil
}

// OCIReader reads a single file out of an OCI artifact. Its fingerprint is
// the manifest digest.
type OCIReader struct {
	loc      locator.Locator
	client   *http.Client
	baseURL  string
	tag      string
	digest   string
	fileName string
}

// Locator returns the bound locator
func (r *OCIReader) Locator() locator.Locator { return r.loc }

// Type returns the reader type
func (r *OCIReader) Type() string { return OCIType }

// Fingerprint returns the manifest digest. Pinned references return their
// digest without any network round trip.
func (r *OCIReader) Fingerprint(ctx context.Context) (string, error) {
	if r.digest != "" {
		return r.digest, nil
	}
	return r.resolveTag(ctx)
}

// Open fetches the manifest, picks a layer and returns its content
func (r *OCIReader) Open(ctx context.Context) (io.ReadCloser, error) {
	manifestRef := r.digest
	if manifestRef == "" {
		manifestRef = r.tag
	}

	manifest, err := r.fetchManifest(ctx, manifestRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	layer, err := r.findLayer(manifest)
	if err != nil {
		return nil, err
	}

	content, err := r.fetchLayer(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer: %w", err)
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// parseOCIRef parses an OCI reference into its components
// Supports formats:
//   - registry/repo:tag
//   - registry/repo@sha256:...
//   - registry:port/repo:tag
func parseOCIRef(ref string) (registry, repo, tag, dgst string, err error) {
	if idx := strings.LastIndex(ref, "@"); idx != -1 {
		dgst = ref[idx+1:]
		ref = ref[:idx]
		if _, err := digest.Parse(dgst); err != nil {
			return "", "", "", "", fmt.Errorf("invalid digest %q: %w", dgst, err)
		}
	}

	if idx := strings.LastIndex(ref, ":"); idx != -1 {
		afterColon := ref[idx+1:]
		if !strings.Contains(afterColon, "/") {
			if dgst == "" {
				tag = afterColon
			}
			ref = ref[:idx]
		}
	}

	if tag == "" && dgst == "" {
		tag = "latest"
	}

	parts := strings.SplitN(ref, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", "", fmt.Errorf("invalid OCI reference format: %s", ref)
	}

	return parts[0], parts[1], tag, dgst, nil
}

func (r *OCIReader) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", manifestAccept)
	return req, nil
}

// resolveTag resolves the tag to a manifest digest with a HEAD request
func (r *OCIReader) resolveTag(ctx context.Context) (string, error) {
	req, err := r.newRequest(ctx, http.MethodHead, r.baseURL+"/manifests/"+r.tag)
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
		log.FromContext(ctx).Info("Artifact not found while probing fingerprint", "ref", r.loc.RawURL())
		return "", fmt.Errorf("%w: %s not found", ErrFingerprintUnavailable, r.loc.RawURL())
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to resolve tag: status %d", resp.StatusCode)
	}

	dgst := resp.Header.Get("Docker-Content-Digest")
	if dgst == "" {
		return "", fmt.Errorf("%w: no digest in response headers", ErrFingerprintUnavailable)
	}

	return dgst, nil
}

// fetchManifest fetches and parses an OCI manifest
func (r *OCIReader) fetchManifest(ctx context.Context, ref string) (*ocispec.Manifest, error) {
	req, err := r.newRequest(ctx, http.MethodGet, r.baseURL+"/manifests/"+ref)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}

	var manifest ocispec.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return &manifest, nil
}

// findLayer picks the layer holding the requested file: the one whose title
// annotation matches, else the first layer.
func (r *OCIReader) findLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	if len(manifest.Layers) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("no layers found in manifest")
	}

	if r.fileName != "" {
		for _, layer := range manifest.Layers {
			if layer.Annotations[ocispec.AnnotationTitle] == r.fileName {
				return layer, nil
			}
		}
	}

	return manifest.Layers[0], nil
}

// fetchLayer downloads and verifies a blob, extracting archives
func (r *OCIReader) fetchLayer(ctx context.Context, layer ocispec.Descriptor) ([]byte, error) {
	req, err := r.newRequest(ctx, http.MethodGet, r.baseURL+"/blobs/"+layer.Digest.String())
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer body: %w", err)
	}

	if err := layer.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid layer digest: %w", err)
	}
	verifier := layer.Digest.Verifier()
	verifier.Write(body)
	if !verifier.Verified() {
		return nil, fmt.Errorf("layer digest verification failed")
	}

	switch {
	case layer.MediaType == layerZip || strings.HasSuffix(layer.MediaType, "+zip"):
		return extractZipFile(body, r.fileName)
	case layer.MediaType == layerTarGzip || layer.MediaType == layerDockerTarGzip:
		return extractTarGzipFile(body, r.fileName)
	default:
		return body, nil
	}
}

// matchesName reports whether an archive member is the wanted file. An empty
// want matches the first regular file.
func matchesName(member, want string) bool {
	if want == "" {
		return true
	}
	return path.Clean(strings.TrimPrefix(member, "./")) == path.Clean(want)
}

// extractZipFile returns one file from a ZIP archive
func extractZipFile(data []byte, want string) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP archive: %w", err)
	}

	for _, file := range zipReader.File {
		if file.FileInfo().IsDir() || !matchesName(file.Name, want) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
		}
		defer rc.Close()

		return io.ReadAll(rc)
	}

	return nil, fmt.Errorf("file %q not found in ZIP archive", want)
}

// extractTarGzipFile returns one file from a tar.gz archive
func extractTarGzipFile(data []byte, want string) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg || !matchesName(header.Name, want) {
			continue
		}

		return io.ReadAll(tr)
	}

	return nil, fmt.Errorf("file %q not found in tar.gz archive", want)
}
