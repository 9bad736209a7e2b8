package cgroup

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Per-field TTLs (spec.md §4.C). Each field gets its own typed cache rather
// than a single type-erased store, trading a little boilerplate for the
// simpler invariants spec.md §9 calls for.
const (
	ttlMemoryUsage    = 1 * time.Second
	ttlMemoryPressure = 2 * time.Second
	ttlIOPressure     = 2 * time.Second
	ttlPIDs           = 2 * time.Second
	ttlMemoryLimit    = 5 * time.Second
	ttlMemoryStat     = 5 * time.Second
	ttlIOStat         = 5 * time.Second
	ttlPopulated      = 5 * time.Second
	ttlChildren       = 10 * time.Second
	ttlSystemPressure = 1 * time.Second
)

// fieldCache memoizes a single field's reads for a single source, keyed by
// the cgroup's root-relative path. A lookup younger than the configured TTL
// returns the cached value with no filesystem access; otherwise load is
// invoked, its result cached, and returned. Concurrent misses for the same
// key are not collapsed into one in-flight read -- ttlcache.v3's internal
// locking makes concurrent Set/Get safe, but two goroutines racing a miss on
// the same key may both call load; that is an accepted, documented
// imprecision (spec.md §4.C allows it).
type fieldCache[V any] struct {
	ttl   time.Duration
	cache *ttlcache.Cache[string, V]
}

func newFieldCache[V any](ttl time.Duration) *fieldCache[V] {
	c := ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)

	return &fieldCache[V]{ttl: ttl, cache: c}
}

// GetOrLoad returns the cached value for key if it is still fresh, or calls
// load, caches the result (even on error the zero value is not cached), and
// returns it.
func (c *fieldCache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	v, err := load()
	if err != nil {
		var zero V

		return zero, err
	}

	c.cache.Set(key, v, c.ttl)

	return v, nil
}

// Invalidate drops a single key, forcing the next GetOrLoad to re-read.
func (c *fieldCache[V]) Invalidate(key string) {
	c.cache.Delete(key)
}

// sourceCache bundles one typed fieldCache per field a cgroup source reads,
// plus the two system-level pressure caches which are keyed by a constant
// rather than a cgroup path.
type sourceCache struct {
	memoryUsage    *fieldCache[uint64]
	memoryLimit    *fieldCache[uint64]
	memoryPressure *fieldCache[Pressure]
	ioPressure     *fieldCache[Pressure]
	memoryStat     *fieldCache[MemoryStat]
	ioStat         *fieldCache[IOStat]
	pids           *fieldCache[[]int32]
	children       *fieldCache[[]string]
	populated      *fieldCache[bool]
	systemMemory   *fieldCache[Pressure]
	systemIO       *fieldCache[Pressure]
}

const systemKey = "__system__"

func newSourceCache() *sourceCache {
	return &sourceCache{
		memoryUsage:    newFieldCache[uint64](ttlMemoryUsage),
		memoryLimit:    newFieldCache[uint64](ttlMemoryLimit),
		memoryPressure: newFieldCache[Pressure](ttlMemoryPressure),
		ioPressure:     newFieldCache[Pressure](ttlIOPressure),
		memoryStat:     newFieldCache[MemoryStat](ttlMemoryStat),
		ioStat:         newFieldCache[IOStat](ttlIOStat),
		pids:           newFieldCache[[]int32](ttlPIDs),
		children:       newFieldCache[[]string](ttlChildren),
		populated:      newFieldCache[bool](ttlPopulated),
		systemMemory:   newFieldCache[Pressure](ttlSystemPressure),
		systemIO:       newFieldCache[Pressure](ttlSystemPressure),
	}
}
