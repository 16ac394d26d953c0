package auth

import "sync"

// Cache maps host identities to the scheme presented preemptively on every
// request to that host. It is safe for concurrent use; the last Put for a
// host wins and entries are never expired.
type Cache struct {
	mu      sync.RWMutex
	entries map[Host]Scheme
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Host]Scheme)}
}

// Put installs s for h, replacing any previous entry. A nil scheme is
// stored as None.
func (c *Cache) Put(h Host, s Scheme) {
	if s == nil {
		s = None
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[h] = s
}

// Get returns the scheme cached for h.
func (c *Cache) Get(h Host) (Scheme, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.entries[h]
	return s, ok
}

// Len returns the number of cached hosts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// EnableBasic installs Basic for host. It does nothing and returns false
// when host is empty or cannot be parsed.
func (c *Cache) EnableBasic(host string) bool {
	h, err := ParseHost(host)
	if err != nil {
		return false
	}

	c.Put(h, Basic)
	return true
}

// EnableDigest installs a Digest scheme carrying realm and nonce for host.
// It does nothing and returns false when host is empty or cannot be parsed.
func (c *Cache) EnableDigest(host, realm, nonce string) bool {
	h, err := ParseHost(host)
	if err != nil {
		return false
	}

	c.Put(h, NewDigest(realm, nonce))
	return true
}
