package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/chazu/resourceloader/pkg/locator"
	"github.com/chazu/resourceloader/pkg/parser"
	"github.com/chazu/resourceloader/pkg/reader"
)

// sameObject reports whether two map values share their backing storage
func sameObject(a, b any) bool {
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

var _ = Describe("Cache", func() {
	const (
		url     = "mem://bucket/a.json"
		timeout = 5 * time.Minute
	)

	var (
		ctx      context.Context
		fakeTime *testingclock.FakeClock
		store    *memStore
		counter  *countingParsers
		cfg      Config
		cache    *Cache
	)

	newCache := func() *Cache {
		c, err := New(cfg,
			WithClock(fakeTime),
			WithReaderFactories(store.factory(), reader.NewFileFactory()),
			WithParserFactories(counter.wrap(parser.DefaultFactories()...)...),
		)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		fakeTime = testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		store = newMemStore()
		counter = &countingParsers{}
		cfg = DefaultConfig()
		cfg.Timeout = timeout
	})

	JustBeforeEach(func() {
		cache = newCache()
	})

	Context("When loading a URL for the first time", func() {
		It("should read, parse and cache the value", func() {
			store.put("/a.json", `{"k":1}`, "rev1")

			value, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(1)}))

			entry, ok := cache.Entry(url)
			Expect(ok).To(BeTrue())
			Expect(entry.Fingerprint).To(Equal("rev1"))
			Expect(entry.InsertedAt).To(Equal(fakeTime.Now()))
			Expect(cache.Stats().Misses).To(Equal(int64(1)))
		})

		It("should surface transport errors unwrapped and cache nothing", func() {
			transportErr := errors.New("connection reset by peer")
			store.put("/a.json", `{"k":1}`, "rev1")
			store.openErr = transportErr

			_, err := cache.Load(ctx, url)
			Expect(err).To(BeIdenticalTo(transportErr))
			Expect(cache.Len()).To(Equal(0))
		})

		It("should surface parse errors and cache nothing", func() {
			store.put("/a.json", `{"k":`, "rev1")

			_, err := cache.Load(ctx, url)
			Expect(err).To(HaveOccurred())
			Expect(cache.Len()).To(Equal(0))
		})

		It("should abort on handler errors and cache nothing", func() {
			store.put("/a.json", `{"k":1}`, "rev1")
			handlerErr := errors.New("invalid config")

			_, err := cache.Load(ctx, url, WithHandler(func(any) (any, error) {
				return nil, handlerErr
			}))
			Expect(err).To(BeIdenticalTo(handlerErr))
			Expect(cache.Len()).To(Equal(0))
		})
	})

	Context("When the entry is inside the timeout window", func() {
		It("should return the identical value without probing or parsing", func() {
			store.put("/a.json", `{"k":1}`, "rev1")

			first, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			fingerprints := store.fingerprints.Load()

			store.put("/a.json", `{"k":2}`, "rev2")
			fakeTime.Step(timeout - time.Second)

			second, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(sameObject(first, second)).To(BeTrue())
			Expect(second).To(Equal(map[string]any{"k": int64(1)}))
			Expect(store.fingerprints.Load()).To(Equal(fingerprints))
			Expect(counter.parses.Load()).To(Equal(int64(1)))
			Expect(cache.Stats().Hits).To(Equal(int64(1)))
		})
	})

	Context("When the timeout has elapsed", func() {
		BeforeEach(func() {
			store.put("/a.json", `{"k":1}`, "rev1")
		})

		It("should keep the value when the fingerprint is unchanged", func() {
			first, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			insertedAt := fakeTime.Now()

			fakeTime.Step(timeout)
			second, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(sameObject(first, second)).To(BeTrue())
			Expect(counter.parses.Load()).To(Equal(int64(1)))
			Expect(cache.Stats().Unchanged).To(Equal(int64(1)))

			By("not restarting the timeout window")
			entry, _ := cache.Entry(url)
			Expect(entry.InsertedAt).To(Equal(insertedAt))

			fingerprints := store.fingerprints.Load()
			fakeTime.Step(time.Second)
			_, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.fingerprints.Load()).To(Equal(fingerprints + 1))
		})

		It("should re-read and re-parse when the fingerprint changed", func() {
			_, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())

			store.put("/a.json", `{"k":2}`, "rev2")
			fakeTime.Step(timeout)

			value, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(2)}))
			Expect(counter.parses.Load()).To(Equal(int64(2)))

			entry, _ := cache.Entry(url)
			Expect(entry.Fingerprint).To(Equal("rev2"))
			Expect(entry.InsertedAt).To(Equal(fakeTime.Now()))
			Expect(cache.Stats().Refreshes).To(Equal(int64(1)))
		})

		It("should re-read when the fingerprint is unavailable", func() {
			store.put("/a.json", `{"k":1}`, "")

			_, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			entry, _ := cache.Entry(url)
			Expect(entry.Fingerprint).To(BeEmpty())

			fakeTime.Step(timeout)
			_, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(counter.parses.Load()).To(Equal(int64(2)))
		})
	})

	Context("When ExtendOnUnchanged is set", func() {
		BeforeEach(func() {
			cfg.ExtendOnUnchanged = true
			store.put("/a.json", `{"k":1}`, "rev1")
		})

		It("should restart the timeout window on a confirmed hit", func() {
			_, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())

			fakeTime.Step(timeout)
			_, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())

			entry, _ := cache.Entry(url)
			Expect(entry.InsertedAt).To(Equal(fakeTime.Now()))

			fingerprints := store.fingerprints.Load()
			fakeTime.Step(time.Second)
			_, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(store.fingerprints.Load()).To(Equal(fingerprints))
		})
	})

	Context("When a handler is supplied", func() {
		double := func(v any) (any, error) {
			m := v.(map[string]any)
			return map[string]any{"k": m["k"].(int64) * 2}, nil
		}
		negate := func(v any) (any, error) {
			m := v.(map[string]any)
			return map[string]any{"k": -m["k"].(int64)}, nil
		}

		BeforeEach(func() {
			store.put("/a.json", `{"k":1}`, "rev1")
		})

		It("should cache the post-handler value", func() {
			value, err := cache.Load(ctx, url, WithHandler(double))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(2)}))

			entry, _ := cache.Entry(url)
			Expect(entry.Value).To(Equal(map[string]any{"k": int64(2)}))
		})

		It("should reapply the stored handler on refresh", func() {
			_, err := cache.Load(ctx, url, WithHandler(double))
			Expect(err).NotTo(HaveOccurred())

			store.put("/a.json", `{"k":5}`, "rev2")
			fakeTime.Step(timeout)

			value, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(10)}))
		})

		It("should prefer the stored handler over a new one", func() {
			_, err := cache.Load(ctx, url, WithHandler(double))
			Expect(err).NotTo(HaveOccurred())

			store.put("/a.json", `{"k":5}`, "rev2")
			fakeTime.Step(timeout)

			value, err := cache.Load(ctx, url, WithHandler(negate))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(10)}))
		})

		It("should replace the stored handler when asked to", func() {
			_, err := cache.Load(ctx, url, WithHandler(double))
			Expect(err).NotTo(HaveOccurred())

			store.put("/a.json", `{"k":5}`, "rev2")
			fakeTime.Step(timeout)

			value, err := cache.Load(ctx, url, WithHandlerReplace(negate))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(-5)}))

			store.put("/a.json", `{"k":7}`, "rev3")
			fakeTime.Step(timeout)

			value, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(-7)}))
		})
	})

	Context("When resolution fails", func() {
		It("should report an unsupported scheme", func() {
			_, err := cache.Load(ctx, "unknownscheme://x")
			Expect(err).To(MatchError(reader.ErrUnsupportedScheme))
			Expect(err.Error()).To(ContainSubstring("unknownscheme"))
			Expect(cache.Len()).To(Equal(0))
		})

		It("should fall back to the Generic parser when probing", func() {
			store.put("/blob.unknownext", "raw", "rev1")

			value, err := cache.Load(ctx, "mem://bucket/blob.unknownext")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal([]byte("raw")))
		})

		Context("with exact matching", func() {
			BeforeEach(func() {
				cfg.Strategy = reader.StrategyExact
			})

			It("should report an unsupported mimetype", func() {
				store.put("/blob.unknownext", "raw", "rev1")

				_, err := cache.Load(ctx, "mem://bucket/blob.unknownext")
				Expect(err).To(MatchError(parser.ErrUnsupportedMimetype))
				Expect(cache.Len()).To(Equal(0))
			})

			It("should leave a cached value untouched", func() {
				store.put("/a.json", `{"k":1}`, "rev1")
				_, err := cache.Load(ctx, url)
				Expect(err).NotTo(HaveOccurred())

				store.put("/a.json", `{"k":2}`, "rev2")
				fakeTime.Step(timeout)

				_, err = cache.Load(ctx, url, WithMimetype("application/x-unknown"))
				Expect(err).To(MatchError(parser.ErrUnsupportedMimetype))

				entry, ok := cache.Entry(url)
				Expect(ok).To(BeTrue())
				Expect(entry.Value).To(Equal(map[string]any{"k": int64(1)}))
				Expect(entry.Fingerprint).To(Equal("rev1"))
			})

			It("should report an unsupported scheme", func() {
				_, err := cache.Load(ctx, "unknownscheme://x")
				Expect(err).To(MatchError(reader.ErrUnsupportedScheme))
			})
		})
	})

	Context("When overrides are supplied", func() {
		It("should use the mimetype override for parser selection", func() {
			store.put("/config", "k: 1\n", "rev1")

			value, err := cache.Load(ctx, "mem://bucket/config", WithMimetype("application/yaml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": 1}))
		})

		It("should use the parser override", func() {
			store.put("/a.json", `{"k":1}`, "rev1")

			value, err := cache.Load(ctx, url, WithParser(parser.NewGeneric()))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal([]byte(`{"k":1}`)))
		})

		It("should use the reader override without resolving the scheme", func() {
			store.put("/a.json", `{"k":1}`, "rev1")
			rd, err := store.factory().New(locator.Parse(url, ""))
			Expect(err).NotTo(HaveOccurred())

			value, err := cache.Load(ctx, "unknownscheme://alias", WithReader(rd))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(1)}))

			_, ok := cache.Entry("unknownscheme://alias")
			Expect(ok).To(BeTrue())
		})

		It("should apply a mimetype override to a supplied reader", func() {
			store.put("/config", "k: 1\n", "rev1")
			rd, err := store.factory().New(locator.Parse("mem://bucket/config", ""))
			Expect(err).NotTo(HaveOccurred())

			value, err := cache.Load(ctx, "mem://bucket/config",
				WithReader(rd), WithMimetype("application/yaml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": 1}))
		})
	})

	Context("When MaxEntries is set", func() {
		BeforeEach(func() {
			cfg.MaxEntries = 2
			for _, name := range []string{"a", "b", "c"} {
				store.put("/"+name+".json", `{}`, "rev1")
			}
		})

		It("should evict the least recently used entry", func() {
			for _, name := range []string{"a", "b"} {
				_, err := cache.Load(ctx, "mem://bucket/"+name+".json")
				Expect(err).NotTo(HaveOccurred())
			}

			By("touching a so that b becomes the oldest")
			_, err := cache.Load(ctx, "mem://bucket/a.json")
			Expect(err).NotTo(HaveOccurred())

			_, err = cache.Load(ctx, "mem://bucket/c.json")
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Len()).To(Equal(2))
			_, ok := cache.Entry("mem://bucket/b.json")
			Expect(ok).To(BeFalse())
			_, ok = cache.Entry("mem://bucket/a.json")
			Expect(ok).To(BeTrue())
			Expect(cache.Stats().Evictions).To(Equal(int64(1)))
		})
	})

	Context("When entries are dropped", func() {
		BeforeEach(func() {
			store.put("/a.json", `{"k":1}`, "rev1")
		})

		It("should forget the entry and its handler on Invalidate", func() {
			_, err := cache.Load(ctx, url, WithHandler(func(v any) (any, error) { return "handled", nil }))
			Expect(err).NotTo(HaveOccurred())

			Expect(cache.Invalidate(url)).To(BeTrue())
			Expect(cache.Invalidate(url)).To(BeFalse())

			value, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(1)}))
		})

		It("should empty the cache and reset the counters on Clear", func() {
			_, err := cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())
			_, err = cache.Load(ctx, url)
			Expect(err).NotTo(HaveOccurred())

			cache.Clear()
			Expect(cache.Stats()).To(Equal(Stats{}))
		})
	})

	Context("When loading concurrently", func() {
		It("should read and parse a URL once", func() {
			store.put("/a.json", `{"k":1}`, "rev1")

			var wg sync.WaitGroup
			errs := make(chan error, 50)
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := cache.Load(ctx, url); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)

			Expect(errs).To(BeEmpty())
			Expect(counter.parses.Load()).To(Equal(int64(1)))
			Expect(store.opens.Load()).To(Equal(int64(1)))
			Expect(cache.locks.inFlight()).To(Equal(0))
		})

		It("should load a batch in parallel and report failures", func() {
			store.put("/a.json", `{"k":1}`, "rev1")
			store.put("/b.json", `{"k":2}`, "rev1")

			urls := []string{"mem://bucket/a.json", "mem://bucket/b.json", "mem://bucket/missing.json"}
			values, err := cache.LoadAll(ctx, urls)

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("missing.json"))
			Expect(values).To(HaveLen(2))
			Expect(values["mem://bucket/b.json"]).To(Equal(map[string]any{"k": int64(2)}))
		})
	})

	Context("When loading local files", func() {
		It("should serve the cached mapping until the timeout elapses", func() {
			path := filepath.Join(GinkgoT().TempDir(), "a.json")
			Expect(os.WriteFile(path, []byte(`{"k":1}`), 0o644)).To(Succeed())

			value, err := cache.Load(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(1)}))

			Expect(os.WriteFile(path, []byte(`{"k":2}`), 0o644)).To(Succeed())

			value, err = cache.Load(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(1)}))

			fakeTime.Step(timeout)

			value, err = cache.Load(ctx, path)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal(map[string]any{"k": int64(2)}))
		})

		It("should report a missing file as a transport error", func() {
			_, err := cache.Load(ctx, fmt.Sprintf("%s/missing.json", GinkgoT().TempDir()))
			Expect(err).To(MatchError(os.ErrNotExist))
		})
	})
})
