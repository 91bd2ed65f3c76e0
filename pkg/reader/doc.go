// Package reader provides the Reader capability used by the loader: opening a
// resource as a byte stream and computing a content fingerprint. It ships
// readers for local files, HTTP(S), OCI registries, Git repositories,
// Kubernetes ConfigMaps, data URLs and arbitrary fs.FS trees, plus the exact
// and probe registries that pick one for a locator.
package reader
