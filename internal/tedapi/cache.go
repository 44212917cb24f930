package tedapi

import (
	"sync"
	"time"
)

// DocumentKind names a cacheable gateway document.
type DocumentKind string

// Document kinds.
const (
	KindConfig     DocumentKind = "config"
	KindStatus     DocumentKind = "status"
	KindComponents DocumentKind = "components"
	KindController DocumentKind = "controller"
	KindFirmware   DocumentKind = "firmware"
)

// Kinds lists every document kind in a stable order.
func Kinds() []DocumentKind {
	return []DocumentKind{KindConfig, KindStatus, KindComponents, KindController, KindFirmware}
}

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	switch k {
	case KindConfig, KindStatus, KindComponents, KindController, KindFirmware:
		return true
	}
	return false
}

// Document is one cached gateway document.
type Document struct {
	Kind      DocumentKind
	Value     any
	FetchedAt time.Time
}

// TTLPolicy maps document kinds to freshness windows. Config and components
// change rarely and share the config TTL; everything else uses the status TTL.
type TTLPolicy struct {
	Status time.Duration
	Config time.Duration
}

// For returns the TTL that applies to kind.
func (p TTLPolicy) For(kind DocumentKind) time.Duration {
	switch kind {
	case KindConfig, KindComponents:
		return p.Config
	default:
		return p.Status
	}
}

// Cache holds the last committed value of each document kind.
//
// A stale entry is still returned by Get (with fresh=false) so callers can
// fall back to it when the gateway cannot be reached.
//
// Thread Safety:
//   - All methods are safe for concurrent use; one mutex guards all entries.
type Cache struct {
	mu       sync.Mutex
	docs     map[DocumentKind]Document
	ttl      TTLPolicy
	now      func() time.Time
	onCommit func(Document)
}

// NewCache creates an empty cache with the given TTL policy.
func NewCache(ttl TTLPolicy) *Cache {
	return &Cache{
		docs: make(map[DocumentKind]Document),
		ttl:  ttl,
		now:  time.Now,
	}
}

// OnCommit registers fn to be called after every Put with the committed
// document. fn runs outside the cache lock.
func (c *Cache) OnCommit(fn func(Document)) {
	c.mu.Lock()
	c.onCommit = fn
	c.mu.Unlock()
}

// Get returns the cached value of kind and whether it is still fresh.
// A missing entry returns (nil, false).
func (c *Cache) Get(kind DocumentKind) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[kind]
	if !ok {
		return nil, false
	}
	return doc.Value, c.now().Sub(doc.FetchedAt) < c.ttl.For(kind)
}

// Put stores value as the current document of kind, stamped with now.
// Concurrent puts are last-writer-wins.
func (c *Cache) Put(kind DocumentKind, value any) {
	c.mu.Lock()
	doc := Document{Kind: kind, Value: value, FetchedAt: c.now()}
	c.docs[kind] = doc
	hook := c.onCommit
	c.mu.Unlock()

	if hook != nil {
		hook(doc)
	}
}

// Restore stores a previously committed document with its original
// timestamp. It does not trigger the commit hook.
func (c *Cache) Restore(doc Document) {
	c.mu.Lock()
	c.docs[doc.Kind] = doc
	c.mu.Unlock()
}

// Invalidate removes the given kinds, or every entry when none are given.
func (c *Cache) Invalidate(kinds ...DocumentKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(kinds) == 0 {
		clear(c.docs)
		return
	}
	for _, k := range kinds {
		delete(c.docs, k)
	}
}

// Snapshot returns a copy of every cached document.
func (c *Cache) Snapshot() []Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Document, 0, len(c.docs))
	for _, k := range Kinds() {
		if doc, ok := c.docs[k]; ok {
			out = append(out, doc)
		}
	}
	return out
}
