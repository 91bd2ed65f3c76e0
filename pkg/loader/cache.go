package loader

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/resourceloader/pkg/locator"
	"github.com/chazu/resourceloader/pkg/parser"
	"github.com/chazu/resourceloader/pkg/reader"
)

// CacheEntry is a snapshot of one cached URL
type CacheEntry struct {
	// URL is the cache key, the raw URL exactly as passed to Load
	URL string

	// InsertedAt is the time of the last read and parse
	InsertedAt time.Time

	// Fingerprint is the fingerprint observed when Value was computed, empty
	// when the reader could not provide one
	Fingerprint string

	// Value is the parsed value after the handler ran
	Value any

	// Handler is reused on every refresh of the entry
	Handler Handler
}

// Stats contains cache counters since construction or the last Clear
type Stats struct {
	Entries   int
	Hits      int64 // served inside the timeout window
	Unchanged int64 // expired but confirmed by fingerprint
	Misses    int64 // first load of a URL
	Refreshes int64 // re-read after the fingerprint changed
	Evictions int64
}

// Cache loads resources by URL and keeps the parsed values in memory.
//
// A cached value is returned as is while it is younger than the configured
// timeout. Past that, the reader fingerprint is compared with the stored
// one and the resource is only read and parsed again when it differs. Loads
// of the same URL are serialized; loads of different URLs run in parallel.
type Cache struct {
	cfg   Config
	clock clock.PassiveClock

	readerFactories []reader.Factory
	readerOptions   reader.Options
	parserFactories []parser.Factory

	readers reader.Resolver
	parsers parser.Resolver

	locks *keyLocks

	mu      sync.RWMutex
	entries map[string]*list.Element
	lru     *list.List

	hits      atomic.Int64
	unchanged atomic.Int64
	misses    atomic.Int64
	refreshes atomic.Int64
	evictions atomic.Int64
}

// New creates a cache. Readers and parsers default to the bundled factories
// resolved with cfg.Strategy.
func New(cfg Config, opts ...Option) (*Cache, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:     cfg,
		clock:   clock.RealClock{},
		locks:   newKeyLocks(),
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.readerFactories == nil {
		c.readerFactories = reader.DefaultFactories(c.readerOptions)
	}
	if c.parserFactories == nil {
		c.parserFactories = parser.DefaultFactories()
	}

	c.readers = reader.NewResolver(cfg.Strategy, c.readerFactories...)
	c.parsers = parser.NewResolver(cfg.Strategy, c.parserFactories...)

	return c, nil
}

// Config returns the effective configuration
func (c *Cache) Config() Config {
	return c.cfg
}

// Load returns the parsed value of the resource at rawURL, reading and
// parsing it only when the cache holds no current value.
//
// Resolution failures are reported as reader.ErrUnsupportedScheme and
// parser.ErrUnsupportedMimetype. Transport, parse and handler errors are
// returned exactly as produced. No failure modifies the cache.
func (c *Cache) Load(ctx context.Context, rawURL string, opts ...LoadOption) (any, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := log.FromContext(ctx).WithValues("url", rawURL)

	rd, err := c.resolveReader(rawURL, o)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(rawURL)
	defer unlock()

	entry, cached := c.lookup(rawURL)

	var fingerprint string
	var fingerprinted bool

	if cached {
		elapsed := c.clock.Since(entry.InsertedAt)
		if elapsed < c.cfg.Timeout {
			logger.V(1).Info("Serving cached value", "age", elapsed, "timeout", c.cfg.Timeout)
			c.hits.Add(1)
			cacheHitsTotal.Inc()
			c.touch(rawURL, false)
			return entry.Value, nil
		}

		fingerprint, err = c.fingerprint(ctx, rd)
		if err != nil {
			return nil, err
		}
		fingerprinted = true

		if fingerprint != "" && fingerprint == entry.Fingerprint {
			logger.V(1).Info("Cached value unchanged", "fingerprint", fingerprint)
			c.unchanged.Add(1)
			cacheUnchangedTotal.Inc()
			c.touch(rawURL, c.cfg.ExtendOnUnchanged)
			return entry.Value, nil
		}
	}

	// The stored handler outlives the call that supplied it
	handler := o.handler
	if cached && !o.replaceHandler {
		handler = entry.Handler
	}

	if !fingerprinted {
		fingerprint, err = c.fingerprint(ctx, rd)
		if err != nil {
			return nil, err
		}
	}

	p, parserType, err := c.resolveParser(rd, o)
	if err != nil {
		return nil, err
	}

	start := c.clock.Now()
	value, err := p.Parse(ctx)
	recordParse(rd.Type(), parserType, err, c.clock.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if handler != nil {
		if value, err = handler(value); err != nil {
			return nil, err
		}
	}

	if cached {
		c.refreshes.Add(1)
		cacheRefreshesTotal.Inc()
	} else {
		c.misses.Add(1)
		cacheMissesTotal.Inc()
	}

	c.store(&CacheEntry{
		URL:         rawURL,
		InsertedAt:  c.clock.Now(),
		Fingerprint: fingerprint,
		Value:       value,
		Handler:     handler,
	})
	logger.V(1).Info("Upserted cache entry", "fingerprint", fingerprint, "parser", parserType)

	return value, nil
}

func (c *Cache) resolveReader(rawURL string, o *loadOptions) (reader.Reader, error) {
	if o.reader != nil {
		return o.reader, nil
	}
	return c.readers.Resolve(locator.Parse(rawURL, o.mimetype))
}

// resolveParser returns the parser for rd and its type. A mimetype override
// is applied to caller-supplied readers here, since their locator was built
// without it.
func (c *Cache) resolveParser(rd reader.Reader, o *loadOptions) (parser.Parser, string, error) {
	if o.reader != nil && o.mimetype != "" {
		rd = &mimetypeReader{Reader: rd, loc: locator.Parse(rd.Locator().RawURL(), o.mimetype)}
	}

	if o.parser != nil {
		return o.parser.New(rd), o.parser.Type(), nil
	}

	p, f, err := c.parsers.Resolve(rd)
	if err != nil {
		return nil, "", err
	}
	return p, f.Type(), nil
}

// fingerprint probes rd. An unavailable fingerprint is logged and returned
// as "", which never matches a stored fingerprint.
func (c *Cache) fingerprint(ctx context.Context, rd reader.Reader) (string, error) {
	start := c.clock.Now()
	fingerprint, err := rd.Fingerprint(ctx)
	recordFingerprint(rd.Type(), err, c.clock.Since(start).Seconds())

	if errors.Is(err, reader.ErrFingerprintUnavailable) {
		log.FromContext(ctx).Info("Fingerprint unavailable, resource will be re-read",
			"url", rd.Locator().RawURL(), "reader", rd.Type(), "reason", err.Error())
		recordFingerprintUnavailable(rd.Type())
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return fingerprint, nil
}

// lookup returns a copy of the entry for key
func (c *Cache) lookup(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	return *elem.Value.(*CacheEntry), true
}

// touch marks key as recently used and optionally restarts its timeout
// window
func (c *Cache) touch(key string, restart bool) {
	if c.cfg.MaxEntries == 0 && !restart {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return
	}
	c.lru.MoveToFront(elem)
	if restart {
		elem.Value.(*CacheEntry).InsertedAt = c.clock.Now()
	}
}

// store upserts entry and evicts the least recently used entries beyond
// MaxEntries
func (c *Cache) store(entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[entry.URL]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
	} else {
		c.entries[entry.URL] = c.lru.PushFront(entry)
		cacheEntriesGauge.Inc()
	}

	for c.cfg.MaxEntries > 0 && c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*CacheEntry).URL)
		c.evictions.Add(1)
		cacheEvictionsTotal.Inc()
		cacheEntriesGauge.Dec()
	}
}

// Entry returns a snapshot of the entry cached for rawURL
func (c *Cache) Entry(rawURL string) (CacheEntry, bool) {
	return c.lookup(rawURL)
}

// Invalidate drops the entry for rawURL, including its stored handler. It
// reports whether an entry existed.
func (c *Cache) Invalidate(rawURL string) bool {
	unlock := c.locks.lock(rawURL)
	defer unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[rawURL]
	if !ok {
		return false
	}
	c.lru.Remove(elem)
	delete(c.entries, rawURL)
	cacheEntriesGauge.Dec()

	return true
}

// Clear removes every entry and resets the counters
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheEntriesGauge.Sub(float64(len(c.entries)))
	c.entries = make(map[string]*list.Element)
	c.lru.Init()

	c.hits.Store(0)
	c.unchanged.Store(0)
	c.misses.Store(0)
	c.refreshes.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Stats returns the cache counters
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Unchanged: c.unchanged.Load(),
		Misses:    c.misses.Load(),
		Refreshes: c.refreshes.Load(),
		Evictions: c.evictions.Load(),
	}
}

// mimetypeReader overrides the locator of a caller-supplied reader
type mimetypeReader struct {
	reader.Reader
	loc locator.Locator
}

func (r *mimetypeReader) Locator() locator.Locator { return r.loc }
