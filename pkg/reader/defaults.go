package reader

import (
	"io/fs"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Options configures the bundled factories
type Options struct {
	// HTTPClient is shared by the http and oci readers (nil: http.DefaultClient)
	HTTPClient *http.Client

	// K8sClient enables configmap:// URLs (nil: the factory declines them)
	K8sClient client.Reader

	// Namespace is used for configmap URLs without a namespace
	Namespace string

	// FS enables the fs reader (nil: the factory declines)
	FS fs.FS

	// FSScheme is the scheme served by FS (default "embed")
	FSScheme string
}

// DefaultFactories returns every bundled factory in probe order
func DefaultFactories(opts Options) []Factory {
	return []Factory{
		NewFileFactory(),
		NewHTTPFactory(opts.HTTPClient),
		NewOCIFactory(opts.HTTPClient),
		NewGitFactory(),
		NewConfigMapFactory(opts.K8sClient, opts.Namespace),
		NewDataFactory(),
		NewFSFactory(opts.FS, opts.FSScheme),
	}
}
