package inode

import (
	"sync"
	"time"

	"github.com/xoriors/cryptfs/internal/clock"
	"github.com/xoriors/cryptfs/ttlcache"
)

// AttrCache sits in front of a Registry: reads are served from an
// in-memory TTL cache when possible, and writes mark an entry dirty and
// arm a write-back timer instead of hitting the host filesystem
// synchronously on every set_attr.
type AttrCache struct {
	reg   *Registry
	cache *ttlcache.Cache[ID, Attr]
	clk   clock.Clock

	mu        sync.Mutex
	dirty     map[ID]Attr
	armed     map[ID]bool
	writeBack time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAttrCache builds an attribute cache with the given TTL for clean reads
// and writeBack delay before a dirty entry is committed to the registry on
// its own, if nothing explicitly flushes it sooner. writeBack <= 0 disables
// the timer; entries then sit dirty until Flush/FlushAll is called.
func NewAttrCache(reg *Registry, clk clock.Clock, ttl, writeBack time.Duration) *AttrCache {
	return &AttrCache{
		reg:       reg,
		cache:     ttlcache.New[ID, Attr](ttl, ttl),
		clk:       clk,
		dirty:     make(map[ID]Attr),
		armed:     make(map[ID]bool),
		writeBack: writeBack,
		stopCh:    make(chan struct{}),
	}
}

// Get returns id's attributes, consulting the dirty entries and the cache
// first. It does not consult any write handle: fs.FileSystem copies an open
// write handle's in-memory size into the cached attributes on Write and on
// flush, and Get returns whatever was last Set.
func (c *AttrCache) Get(id ID) (Attr, error) {
	c.mu.Lock()
	if a, ok := c.dirty[id]; ok {
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	if a, ok := c.cache.Get(id); ok {
		return a, nil
	}
	a, err := c.reg.Get(id)
	if err != nil {
		return Attr{}, err
	}
	c.cache.Set(id, a)
	return a, nil
}

// Set records attr as id's current value, invalidating the clean cache and
// marking the entry dirty for write-back. Unless a timer is already armed
// for id, Set starts one: it commits the entry after writeBack elapses if
// nothing flushes it sooner. Callers that need a durability guarantee on
// flush/release must still call Flush directly rather than waiting on the
// timer.
func (c *AttrCache) Set(id ID, attr Attr) {
	c.cache.Delete(id)

	c.mu.Lock()
	c.dirty[id] = attr
	needsTimer := c.writeBack > 0 && !c.armed[id]
	if needsTimer {
		c.armed[id] = true
	}
	c.mu.Unlock()

	if needsTimer {
		fire := c.clk.After(c.writeBack)
		c.wg.Add(1)
		go c.awaitWriteBack(id, fire)
	}
}

// awaitWriteBack flushes id once fire (the writeBack timer Set armed)
// delivers, unless the cache is stopped first. It always runs to completion
// (never canceled by an intervening explicit Flush) so the armed bookkeeping
// for id is freed exactly once.
func (c *AttrCache) awaitWriteBack(id ID, fire <-chan time.Time) {
	defer c.wg.Done()
	select {
	case <-fire:
		_ = c.Flush(id)
	case <-c.stopCh:
	}
	c.mu.Lock()
	delete(c.armed, id)
	c.mu.Unlock()
}

// Flush commits id's dirty attributes (if any) to the registry.
func (c *AttrCache) Flush(id ID) error {
	c.mu.Lock()
	attr, ok := c.dirty[id]
	if ok {
		delete(c.dirty, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.reg.Set(id, attr); err != nil {
		return err
	}
	c.cache.Set(id, attr)
	return nil
}

// FlushAll commits every dirty entry, used at instance teardown.
func (c *AttrCache) FlushAll() error {
	c.mu.Lock()
	ids := make([]ID, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if err := c.Flush(id); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops any cached (clean or dirty) entry for id without writing
// it back, used after Registry.Remove.
func (c *AttrCache) Invalidate(id ID) {
	c.cache.Delete(id)
	c.mu.Lock()
	delete(c.dirty, id)
	c.mu.Unlock()
}

// Stop cancels any pending write-back timers, waits for their goroutines to
// exit, and releases the cache's background cleanup goroutine.
func (c *AttrCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.cache.Stop()
}
