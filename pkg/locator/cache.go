// SPDX-License-Identifier: MPL-2.0

package locator

import "sync"

// Cache memoizes successful lookups by package name. It is safe for
// concurrent use. Misses are never stored, so a package installed after a
// failed lookup is found by the next Resolve.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]PackageLocation
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]PackageLocation)}
}

// Get returns the memoized location of name.
func (c *Cache) Get(name string) (PackageLocation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.entries[name]
	return loc, ok
}

// Put stores loc under its package name.
func (c *Cache) Put(loc PackageLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[loc.PackageName] = loc
}

// Clear forgets every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of memoized locations.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
