package dedup

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// CacheConfig defines Cache configuration.
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	ErrorTTL        time.Duration `yaml:"error_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

func (c CacheConfig) applyDefaults() CacheConfig {
	if c.TTL == 0 {
		c.TTL = 12 * time.Hour
	}
	if c.ErrorTTL == 0 {
		c.ErrorTTL = 30 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 15 * time.Second
	}
	return c
}

// Resolver resolves cache misses.
type Resolver interface {
	Resolve(key interface{}) (val interface{}, err error)
}

type entry struct {
	done      chan struct{}
	val       interface{}
	err       error
	expiresAt time.Time
}

func (e *entry) resolved() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// expired may only be called once e is resolved.
func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache memoizes key lookups through a Resolver and collapses concurrent
// lookups of the same key into a single inflight resolution. Peer enrichment
// uses it to bound GeoIP / reverse-DNS lookups to one per address no matter
// how many items reference the peer.
type Cache struct {
	mu        sync.Mutex
	config    CacheConfig
	clk       clock.Clock
	resolver  Resolver
	entries   map[interface{}]*entry
	nextSweep time.Time
}

// NewCache creates a Cache which resolves misses with resolver.
func NewCache(config CacheConfig, clk clock.Clock, resolver Resolver) *Cache {
	config = config.applyDefaults()
	return &Cache{
		config:    config,
		clk:       clk,
		resolver:  resolver,
		entries:   make(map[interface{}]*entry),
		nextSweep: clk.Now().Add(config.CleanupInterval),
	}
}

// Get returns the cached value for key, resolving it on miss or expiry.
// Callers arriving while a resolution is inflight block on it and share its
// result. Errors are cached too, under the shorter ErrorTTL.
func (c *Cache) Get(key interface{}) (interface{}, error) {
	c.mu.Lock()
	c.maybeSweep()
	e, ok := c.entries[key]
	if ok && !(e.resolved() && e.expired(c.clk.Now())) {
		c.mu.Unlock()
		<-e.done
		return e.val, e.err
	}
	e = &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.val, e.err = c.resolver.Resolve(key)
	ttl := c.config.TTL
	if e.err != nil {
		ttl = c.config.ErrorTTL
	}
	e.expiresAt = c.clk.Now().Add(ttl)
	close(e.done)
	return e.val, e.err
}

// maybeSweep drops expired entries at most once per CleanupInterval. Caller
// must hold mu.
func (c *Cache) maybeSweep() {
	now := c.clk.Now()
	if now.Before(c.nextSweep) {
		return
	}
	c.nextSweep = now.Add(c.config.CleanupInterval)
	for k, e := range c.entries {
		if e.resolved() && e.expired(now) {
			delete(c.entries, k)
		}
	}
}
