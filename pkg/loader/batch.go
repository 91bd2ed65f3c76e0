package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"
)

// LoadAll loads every URL in parallel, at most Config.LoadConcurrency at a
// time, applying opts to each load. It returns the values of the loads that
// succeeded together with the joined errors of those that failed; one
// failure does not stop the others.
func (c *Cache) LoadAll(ctx context.Context, urls []string, opts ...LoadOption) (map[string]any, error) {
	var mu sync.Mutex
	results := make(map[string]any, len(urls))

	p := pool.New().WithMaxGoroutines(c.cfg.LoadConcurrency).WithErrors()

	for _, url := range urls {
		p.Go(func() error {
			value, err := c.Load(ctx, url, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", url, err)
			}

			mu.Lock()
			results[url] = value
			mu.Unlock()
			return nil
		})
	}

	err := p.Wait()
	return results, err
}
