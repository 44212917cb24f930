package tedapi

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(clock *fakeClock) *Cache {
	c := NewCache(TTLPolicy{Status: 5 * time.Second, Config: 30 * time.Second})
	c.now = clock.now
	return c
}

func TestCache_PutGet(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestCache(clock)

	c.Put(KindStatus, map[string]any{"a": 1.0})

	v, fresh := c.Get(KindStatus)
	if !fresh {
		t.Error("Get() fresh = false immediately after Put")
	}
	if m, ok := v.(map[string]any); !ok || m["a"] != 1.0 {
		t.Errorf("Get() = %v", v)
	}

	if v, fresh := c.Get(KindConfig); v != nil || fresh {
		t.Errorf("Get(missing) = %v, %v; want nil, false", v, fresh)
	}
}

func TestCache_TTLPerKind(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestCache(clock)

	c.Put(KindStatus, "status")
	c.Put(KindConfig, "config")
	c.Put(KindComponents, "components")

	clock.advance(6 * time.Second)

	tests := []struct {
		kind      DocumentKind
		wantFresh bool
	}{
		{KindStatus, false},
		{KindConfig, true},
		{KindComponents, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			v, fresh := c.Get(tt.kind)
			if fresh != tt.wantFresh {
				t.Errorf("fresh = %v, want %v", fresh, tt.wantFresh)
			}
			if v == nil {
				t.Error("stale entry should still return its value")
			}
		})
	}
}

func TestCache_FreshBoundary(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestCache(clock)
	c.Put(KindStatus, "x")

	clock.advance(5 * time.Second)
	if _, fresh := c.Get(KindStatus); fresh {
		t.Error("entry exactly one TTL old should be stale")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(TTLPolicy{Status: time.Minute, Config: time.Minute})
	for _, k := range Kinds() {
		c.Put(k, string(k))
	}

	c.Invalidate(KindStatus)
	if v, _ := c.Get(KindStatus); v != nil {
		t.Errorf("status after Invalidate(status) = %v", v)
	}
	if v, _ := c.Get(KindConfig); v == nil {
		t.Error("config should survive Invalidate(status)")
	}

	c.Invalidate()
	if got := len(c.Snapshot()); got != 0 {
		t.Errorf("Snapshot() after Invalidate() has %d entries, want 0", got)
	}
}

func TestCache_OnCommit(t *testing.T) {
	c := NewCache(TTLPolicy{Status: time.Minute, Config: time.Minute})

	var committed []Document
	c.OnCommit(func(d Document) { committed = append(committed, d) })

	c.Put(KindConfig, "a")
	c.Restore(Document{Kind: KindStatus, Value: "b", FetchedAt: time.Now()})

	if len(committed) != 1 {
		t.Fatalf("commit hook called %d times, want 1", len(committed))
	}
	if committed[0].Kind != KindConfig || committed[0].Value != "a" {
		t.Errorf("committed = %+v", committed[0])
	}
}

func TestCache_RestoreKeepsTimestamp(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := newTestCache(clock)

	c.Restore(Document{Kind: KindConfig, Value: "old", FetchedAt: time.Unix(0, 0)})

	v, fresh := c.Get(KindConfig)
	if v != "old" || fresh {
		t.Errorf("Get() = %v, %v; want old, stale", v, fresh)
	}
}

func TestDocumentKind_Valid(t *testing.T) {
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false", k)
		}
	}
	if DocumentKind("din").Valid() {
		t.Error(`"din".Valid() = true`)
	}
}
