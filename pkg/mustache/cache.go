package mustache

import (
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

type cacheKey struct {
	source string
	tags   Tags
}

// flight returns the singleflight key for k. Delimiters are length-prefixed
// so distinct keys never share a string.
func (k cacheKey) flight() string {
	return strconv.Itoa(len(k.tags.Open)) + ":" + k.tags.Open +
		strconv.Itoa(len(k.tags.Close)) + ":" + k.tags.Close + k.source
}

// Cache maps (source, delimiters) to parsed templates. Concurrent misses on
// the same key are collapsed into a single parse, and failed parses are never
// stored. Entries live until Clear is called.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*Template
	group   singleflight.Group
	parses  atomic.Int64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Template)}
}

func (c *Cache) get(k cacheKey) (*Template, bool) {
	c.mu.RLock()
	t, ok := c.entries[k]
	c.mu.RUnlock()
	return t, ok
}

// GetOrParse returns the cached template for source parsed with tags, parsing
// and storing it on a miss. Repeated calls with the same inputs return the
// same *Template.
func (c *Cache) GetOrParse(source string, tags Tags) (*Template, error) {
	k := cacheKey{source: source, tags: tags}
	if t, ok := c.get(k); ok {
		return t, nil
	}
	v, err, _ := c.group.Do(k.flight(), func() (any, error) {
		if t, ok := c.get(k); ok {
			return t, nil
		}
		t, err := Parse(source, tags)
		if err != nil {
			return nil, err
		}
		c.parses.Add(1)
		c.mu.Lock()
		c.entries[k] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// Clear drops every cached template. Templates already handed out stay valid.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]*Template)
	c.mu.Unlock()
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Parses returns how many successful parses the cache has performed.
func (c *Cache) Parses() int64 {
	return c.parses.Load()
}
