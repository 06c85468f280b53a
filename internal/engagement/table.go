package engagement

import (
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// table holds records either in a plain map (unbounded) or in an LRU.
// Callers hold Store.mu.
type table struct {
	m        map[string]*record
	lru      *simplelru.LRU[string, *record]
	capacity int
}

func newTable(capacity int) *table {
	if capacity <= 0 {
		return &table{m: make(map[string]*record)}
	}
	l, err := simplelru.NewLRU[string, *record](capacity, nil)
	if err != nil {
		return &table{m: make(map[string]*record)}
	}
	return &table{lru: l, capacity: capacity}
}

func (t *table) get(key string) (*record, bool) {
	if t.lru != nil {
		return t.lru.Get(key)
	}
	r, ok := t.m[key]
	return r, ok
}

func (t *table) put(key string, r *record) {
	if t.lru == nil {
		t.m[key] = r
		return
	}
	if !t.lru.Contains(key) && t.lru.Len() >= t.capacity {
		t.evictOne()
	}
	t.lru.Add(key, r)
}

// evictOne removes the least recently used record without a pending
// toggle. When every record is pending the table grows by one instead, so
// an in-flight toggle can always be reconciled.
func (t *table) evictOne() {
	for _, k := range t.lru.Keys() {
		r, ok := t.lru.Peek(k)
		if ok && !r.Pending {
			t.lru.Remove(k)
			return
		}
	}
	t.lru.Resize(t.lru.Len() + 1)
}

func (t *table) len() int {
	if t.lru != nil {
		return t.lru.Len()
	}
	return len(t.m)
}

func (t *table) each(fn func(string, *record)) {
	if t.lru != nil {
		for _, k := range t.lru.Keys() {
			if r, ok := t.lru.Peek(k); ok {
				fn(k, r)
			}
		}
		return
	}
	for k, r := range t.m {
		fn(k, r)
	}
}

func (t *table) reset() {
	if t.lru != nil {
		t.lru.Purge()
		t.lru.Resize(t.capacity)
		return
	}
	t.m = make(map[string]*record)
}
