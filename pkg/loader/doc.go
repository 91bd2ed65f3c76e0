// Package loader is the load orchestrator: it resolves a reader and a parser
// for a URL, caches the parsed value and decides on every call whether the
// cached value can be served, must be verified with the reader fingerprint,
// or must be read and parsed again.
//
// Typical use:
//
//	cache, err := loader.New(loader.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	value, err := cache.Load(ctx, "/etc/app/config.yaml")
package loader
