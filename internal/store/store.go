// Package store persists marketplace entities as versioned JSON documents.
//
// Every write is a compare-and-swap on the document version (`__v`), so two
// concurrent writers that loaded the same version cannot both succeed.
// Backends: PostgreSQL (JSONB, one table per collection) and an in-memory
// map used by tests and local runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/shopspring/decimal"
)

func init() {
	// amounts travel as JSON numbers in stored documents and API responses
	decimal.MarshalJSONWithoutQuotes = true
}

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document was modified concurrently")
)

// DuplicateError reports a unique index violation on Field.
type DuplicateError struct {
	Collection string
	Field      string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s.%s", e.Collection, e.Field)
}

// IsDuplicate reports whether err is a unique violation, on field when
// field is non-empty.
func IsDuplicate(err error, field string) bool {
	var d *DuplicateError
	if !errors.As(err, &d) {
		return false
	}
	return field == "" || d.Field == field
}

// Meta is embedded by every stored entity.
type Meta struct {
	ID        string    `json:"_id"`
	Version   int64     `json:"__v"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) DocMeta() *Meta { return m }

type Document interface {
	DocMeta() *Meta
}

// Spec describes a collection. Unique holds dotted JSON paths that must be
// unique among documents where the value is non-empty.
type Spec struct {
	Name   string
	Unique []string
}

// Filter matches documents whose dotted JSON paths equal the given values.
type Filter map[string]any

type Query struct {
	Where Filter
	// AnyOf matches when at least one filter matches (in addition to Where).
	AnyOf        []Filter
	Search       string
	SearchFields []string
	Limit        int
	Offset       int
}

// Counters hands out dense per-(name, year) sequence numbers.
type Counters interface {
	Next(ctx context.Context, name string, year int) (int64, error)
}

type rawCollection interface {
	insert(ctx context.Context, id string, createdAt time.Time, doc []byte) error
	get(ctx context.Context, id string) ([]byte, error)
	update(ctx context.Context, id string, version int64, doc []byte) error
	find(ctx context.Context, q Query) ([][]byte, error)
}

// Backend is implemented by Postgres and Memory.
type Backend interface {
	Counters
	open(spec Spec) rawCollection
	clock() clock.Clock
}

type Collection[T any] struct {
	spec Spec
	raw  rawCollection
	clk  clock.Clock
}

func NewCollection[T any](b Backend, spec Spec) *Collection[T] {
	return &Collection[T]{spec: spec, raw: b.open(spec), clk: b.clock()}
}

func (c *Collection[T]) Name() string { return c.spec.Name }

func metaOf[T any](doc *T) *Meta {
	d, ok := any(doc).(Document)
	if !ok {
		panic(fmt.Sprintf("store: %T does not embed store.Meta", doc))
	}
	return d.DocMeta()
}

// Insert assigns an id when missing and stores doc at version 1.
func (c *Collection[T]) Insert(ctx context.Context, doc *T) error {
	m := metaOf(doc)
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := c.clk.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	m.Version = 1
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.spec.Name, err)
	}
	if err := c.raw.insert(ctx, m.ID, m.CreatedAt, b); err != nil {
		m.Version = 0
		return err
	}
	return nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	b, err := c.raw.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.decode(b)
}

// Update writes doc if the stored version still equals doc's version, then
// bumps the version.
func (c *Collection[T]) Update(ctx context.Context, doc *T) error {
	m := metaOf(doc)
	prev, prevUpdated := m.Version, m.UpdatedAt
	m.Version = prev + 1
	m.UpdatedAt = c.clk.Now().UTC()
	b, err := json.Marshal(doc)
	if err != nil {
		m.Version, m.UpdatedAt = prev, prevUpdated
		return fmt.Errorf("encode %s: %w", c.spec.Name, err)
	}
	if err := c.raw.update(ctx, m.ID, prev, b); err != nil {
		m.Version, m.UpdatedAt = prev, prevUpdated
		return err
	}
	return nil
}

func (c *Collection[T]) FindOne(ctx context.Context, where Filter) (*T, error) {
	docs, err := c.Find(ctx, Query{Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Find returns matches newest first.
func (c *Collection[T]) Find(ctx context.Context, q Query) ([]*T, error) {
	raws, err := c.raw.find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for _, b := range raws {
		doc, err := c.decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Collection[T]) decode(b []byte) (*T, error) {
	doc := new(T)
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.spec.Name, err)
	}
	return doc, nil
}

// Number formats the next sequence for prefix in at's calendar year, e.g.
// CTR-2026-000042.
func Number(ctx context.Context, c Counters, prefix string, at time.Time) (string, error) {
	year := at.UTC().Year()
	seq, err := c.Next(ctx, prefix, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, seq), nil
}
