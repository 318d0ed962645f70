package dbus

import (
	"errors"
	"fmt"
	"sync"
)

var errNotFound = errors.New("not found in cache")

// cache is a concurrency-safe memo table. It remembers both
// successful results and errors, so that failing lookups don't get
// recomputed either.
type cache[K comparable, V any] struct {
	m sync.Map
}

type cacheEntry[V any] struct {
	val V
	err error
}

// Get returns the cached value for k. If no entry exists, Get returns
// errNotFound. If an error was cached for k, Get returns that error.
func (c *cache[K, V]) Get(k K) (V, error) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	e, ok := ent.(cacheEntry[V])
	if !ok {
		panic(fmt.Sprintf("mystery value %v (%T) in cache", ent, ent))
	}
	return e.val, e.err
}

// Set caches val for k. If k already has an entry, the existing entry
// is kept.
func (c *cache[K, V]) Set(k K, val V) {
	c.m.LoadOrStore(k, cacheEntry[V]{val: val})
}

// SetErr caches err for k.
func (c *cache[K, V]) SetErr(k K, err error) {
	c.m.LoadOrStore(k, cacheEntry[V]{err: err})
}
