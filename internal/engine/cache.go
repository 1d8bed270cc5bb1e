package engine

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/corvus-labs/hybridcore/internal/store"
)

// queryCache is a bounded FIFO cache of search results keyed on the
// canonical (query, num_results, filters) tuple. Unlike an LRU cache, a
// cache hit never changes eviction order — the oldest *inserted* entry is
// always the first evicted, per §3 invariant 7.
type queryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = oldest inserted
	entries  map[string]*list.Element // key -> element holding *cacheEntry
}

type cacheEntry struct {
	key     string
	results []*store.SearchResult
}

func newQueryCache(capacity int) *queryCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &queryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// DefaultCacheCapacity is the cache size used when none is configured.
const DefaultCacheCapacity = 1000

func cacheKey(query string, numResults int, filter *store.Filter) string {
	var b strings.Builder
	b.WriteString(query)
	b.WriteByte('\x00')
	fmt.Fprintf(&b, "%d", numResults)
	b.WriteByte('\x00')
	writeFilterKey(&b, filter)
	return b.String()
}

func writeFilterKey(b *strings.Builder, f *store.Filter) {
	if f == nil {
		b.WriteString("-")
		return
	}
	if f.MinExperience != nil {
		fmt.Fprintf(b, "min=%d;", *f.MinExperience)
	}
	if f.MaxExperience != nil {
		fmt.Fprintf(b, "max=%d;", *f.MaxExperience)
	}
	writeSortedSet(b, "sen", f.SeniorityLevels)
	writeSortedSet(b, "req", f.RequiredSkills)
	writeSortedSet(b, "exc", f.ExcludedSkills)
}

func writeSortedSet(b *strings.Builder, label string, set map[string]struct{}) {
	if len(set) == 0 {
		return
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s=%s;", label, strings.Join(keys, ","))
}

// Get returns a cached result list and true on a hit. Hit or miss, the
// entry's position in the eviction order is never touched.
func (c *queryCache) Get(key string) ([]*store.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).results, true
}

// Put inserts results under key, evicting the oldest entry if the cache is
// at capacity. Re-inserting an existing key replaces its value without
// moving it in eviction order.
func (c *queryCache) Put(key string, results []*store.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).results = results
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	el := c.order.PushBack(&cacheEntry{key: key, results: results})
	c.entries[key] = el
}

// Invalidate drops every cached entry.
func (c *queryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}

// Len reports the number of cached entries.
func (c *queryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
