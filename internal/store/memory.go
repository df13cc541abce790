package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raulk/clock"
)

// Memory keeps documents in process. It enforces the same unique and version
// rules as Postgres.
type Memory struct {
	clk clock.Clock

	mu          sync.Mutex
	counters    map[string]int64
	collections map[string]*memCollection
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{clk: clk, counters: map[string]int64{}, collections: map[string]*memCollection{}}
}

func (m *Memory) clock() clock.Clock { return m.clk }

func (m *Memory) Next(_ context.Context, name string, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%d", name, year)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) open(spec Spec) rawCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[spec.Name]; ok {
		return c
	}
	c := &memCollection{spec: spec, docs: map[string]*memDoc{}}
	m.collections[spec.Name] = c
	return c
}

type memDoc struct {
	version int64
	created time.Time
	seq     int
	raw     []byte
	fields  map[string]any
}

type memCollection struct {
	spec Spec

	mu   sync.RWMutex
	seq  int
	docs map[string]*memDoc
}

func decodeFields(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func lookup(fields map[string]any, path string) (any, bool) {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// checkUnique must be called with mu held.
func (c *memCollection) checkUnique(id string, fields map[string]any) error {
	for _, path := range c.spec.Unique {
		v, ok := lookup(fields, path)
		if !ok || text(v) == "" {
			continue
		}
		for otherID, d := range c.docs {
			if otherID == id {
				continue
			}
			if ov, ok := lookup(d.fields, path); ok && text(ov) == text(v) {
				return &DuplicateError{Collection: c.spec.Name, Field: path}
			}
		}
	}
	return nil
}

func (c *memCollection) insert(_ context.Context, id string, createdAt time.Time, doc []byte) error {
	fields, err := decodeFields(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[id]; ok {
		return &DuplicateError{Collection: c.spec.Name, Field: "_id"}
	}
	if err := c.checkUnique(id, fields); err != nil {
		return err
	}
	c.seq++
	c.docs[id] = &memDoc{version: 1, created: createdAt, seq: c.seq, raw: doc, fields: fields}
	return nil
}

func (c *memCollection) get(_ context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.raw, nil
}

func (c *memCollection) update(_ context.Context, id string, version int64, doc []byte) error {
	fields, err := decodeFields(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[id]
	if !ok {
		return ErrNotFound
	}
	if d.version != version {
		return ErrVersionConflict
	}
	if err := c.checkUnique(id, fields); err != nil {
		return err
	}
	d.version = version + 1
	d.raw = doc
	d.fields = fields
	return nil
}

func matches(fields map[string]any, f Filter) bool {
	for path, want := range f {
		v, _ := lookup(fields, path)
		if text(v) != text(want) {
			return false
		}
	}
	return true
}

func (c *memCollection) find(_ context.Context, q Query) ([][]byte, error) {
	c.mu.RLock()
	var hits []*memDoc
	for _, d := range c.docs {
		if !matches(d.fields, q.Where) {
			continue
		}
		if len(q.AnyOf) > 0 {
			hit := false
			for _, f := range q.AnyOf {
				if matches(d.fields, f) {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		if q.Search != "" && !searchHit(d.fields, q.Search, q.SearchFields) {
			continue
		}
		hits = append(hits, d)
	}
	c.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].created.Equal(hits[j].created) {
			return hits[i].created.After(hits[j].created)
		}
		return hits[i].seq > hits[j].seq
	})
	if q.Offset > 0 {
		if q.Offset >= len(hits) {
			hits = nil
		} else {
			hits = hits[q.Offset:]
		}
	}
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([][]byte, len(hits))
	for i, d := range hits {
		out[i] = d.raw
	}
	return out, nil
}

func searchHit(fields map[string]any, term string, paths []string) bool {
	term = strings.ToLower(term)
	for _, p := range paths {
		v, ok := lookup(fields, p)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(text(v)), term) {
			return true
		}
	}
	return false
}
