//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package cache memoizes permission decisions keyed by
// (entity, uri, verb).
//
// Entries expire on a TTL and are bounded by an LRU. Mutations never
// patch cached values in place; instead the command dispatcher bumps a
// generation counter, either globally or for one entity, and stale
// generations miss on their next lookup.
//
// Readers insert under the Version they captured before computing the
// decision, so a decision computed against pre-mutation state can never
// be stored as current: the intervening bump leaves the entry behind the
// live generation and it misses on lookup.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mohae/deepcopy"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var logger = logging.GetLogger("acs.cache")

// Key addresses one cached decision.
type Key struct {
	EntityID int64
	URI      string
	Verb     model.Verb
}

type entry struct {
	decision model.Decision
	version  Version
}

// Version pins a cache insert to the generations current when the
// decision computation began. Capture it with [Cache.Version] before
// evaluating; Put stores the entry under it, and Get rejects entries
// whose version trails the live generations.
type Version struct {
	globalGen uint64
	entityGen uint64
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Evictions     uint64 `json:"evictions"`
	Entries       int    `json:"entries"`
}

// Cache is a TTL+LRU decision cache with generation invalidation.
type Cache struct {
	lru *lru.LRU[Key, entry]

	globalGen atomic.Uint64

	mu         sync.Mutex
	entityGens map[int64]uint64

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
	evictions     atomic.Uint64
}

// New creates a cache bounded to maxEntries entries whose entries expire
// after ttl.
func New(maxEntries int, ttl time.Duration) *Cache {
	c := &Cache{entityGens: map[int64]uint64{}}
	// the eviction callback also fires for TTL expiry and explicit removes
	c.lru = lru.NewLRU[Key, entry](maxEntries, func(Key, entry) { c.evictions.Add(1) }, ttl)
	return c
}

// Get returns the cached decision for key, if present and current. The
// returned decision is a deep copy; callers may mutate it freely.
func (c *Cache) Get(key Key) (model.Decision, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return model.Decision{}, false
	}
	if e.version.globalGen != c.globalGen.Load() || e.version.entityGen != c.entityGen(key.EntityID) {
		c.lru.Remove(key)
		c.misses.Add(1)
		return model.Decision{}, false
	}
	c.hits.Add(1)
	return deepcopy.Copy(e.decision).(model.Decision), true
}

// Version captures the generations current for entityID right now.
func (c *Cache) Version(entityID int64) Version {
	return Version{
		globalGen: c.globalGen.Load(),
		entityGen: c.entityGen(entityID),
	}
}

// Put stores a decision under the version captured before it was
// computed. An insert whose version already trails the live generations
// is stored dead and misses on its next lookup.
func (c *Cache) Put(key Key, d model.Decision, v Version) {
	c.lru.Add(key, entry{
		decision: deepcopy.Copy(d).(model.Decision),
		version:  v,
	})
}

// Invalidate drops every cached decision by advancing the global
// generation. Existing entries age out of the LRU on their own.
func (c *Cache) Invalidate() {
	c.globalGen.Add(1)
	c.invalidations.Add(1)
	logger.SysDebug("cache invalidated globally")
}

// InvalidateEntity drops the cached decisions of one entity.
func (c *Cache) InvalidateEntity(entityID int64) {
	c.mu.Lock()
	c.entityGens[entityID]++
	c.mu.Unlock()
	c.invalidations.Add(1)
	logger.SysDebugf("cache invalidated for entity %d", entityID)
}

func (c *Cache) entityGen(entityID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entityGens[entityID]
}

// Statistics returns a snapshot of the cache counters.
func (c *Cache) Statistics() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Entries:       c.lru.Len(),
	}
}
