package catalog

import (
	"errors"
	"time"
)

var (
	ErrInvalidURL       = errors.New("url must be an absolute http(s) url")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrChallenge        = errors.New("bot challenge page")
	ErrFetchExhausted   = errors.New("fetch attempts exhausted")
	ErrDisallowed       = errors.New("disallowed by robots.txt")
)

// field names emitted for every card regardless of its spec rows
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldOldPrice     = "old price"
	FieldCurrentPrice = "current price"
	FieldImage        = "image link"
)

// ProductRecord maps field names to raw text values for one item card.
// It has no fixed schema. Keys remember the order they were first set in
// so that derived column orders are deterministic.
type ProductRecord struct {
	keys   []string
	values map[string]string
}

// NewProductRecord builds a record out of key, value pairs, a trailing key
// without a value is ignored.
func NewProductRecord(pairs ...string) ProductRecord {
	var b recordBuilder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.set(pairs[i], pairs[i+1])
	}
	return b.build()
}

func (r ProductRecord) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r ProductRecord) Len() int {
	return len(r.keys)
}

func (r ProductRecord) Empty() bool {
	return len(r.keys) == 0
}

// Keys returns the record's keys in insertion order.
func (r ProductRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Map returns a copy of the record's contents.
func (r ProductRecord) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

type recordBuilder struct {
	keys   []string
	values map[string]string
}

// set keeps the position of a key that was already set and replaces its value.
func (b *recordBuilder) set(key, value string) {
	if b.values == nil {
		b.values = map[string]string{}
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

func (b *recordBuilder) build() ProductRecord {
	return ProductRecord{keys: b.keys, values: b.values}
}

type CursorKind int

const (
	CURSOR_END CursorKind = iota
	CURSOR_NEXT
	CURSOR_FETCH_FAILED
)

func (k CursorKind) String() string {
	switch k {
	case CURSOR_END:
		return "END"
	case CURSOR_NEXT:
		return "NEXT"
	case CURSOR_FETCH_FAILED:
		return "FETCH_FAILED"
	}
	return "UNKNOWN"
}

// Cursor is the pagination outcome of one listing page, URL is only set
// when Kind is CURSOR_NEXT.
type Cursor struct {
	Kind CursorKind
	URL  string
}

func NextCursor(url string) Cursor {
	return Cursor{Kind: CURSOR_NEXT, URL: url}
}

type PageResult struct {
	Records []ProductRecord
	Cursor  Cursor
}

// Fields returns every distinct key of the page's records in first-seen order.
func (p PageResult) Fields() []string {
	registry := NewFieldRegistry()
	registry.Merge(p.Records...)
	return registry.Columns()
}

type State int

const (
	STATE_RUNNING State = iota
	STATE_TERMINATED_NO_NEXT
	STATE_TERMINATED_PAGE_LIMIT
	STATE_TERMINATED_FETCH_FAILED
	STATE_TERMINATED_CANCELLED
)

func (s State) String() string {
	switch s {
	case STATE_RUNNING:
		return "RUNNING"
	case STATE_TERMINATED_NO_NEXT:
		return "TERMINATED_NO_NEXT"
	case STATE_TERMINATED_PAGE_LIMIT:
		return "TERMINATED_PAGE_LIMIT"
	case STATE_TERMINATED_FETCH_FAILED:
		return "TERMINATED_FETCH_FAILED"
	case STATE_TERMINATED_CANCELLED:
		return "TERMINATED_CANCELLED"
	}
	return "UNKNOWN"
}

func (s State) Terminal() bool {
	return s != STATE_RUNNING
}

// CrawlResult is everything a finished crawl produced.
type CrawlResult struct {
	RunID   string
	State   State
	Pages   int
	Records []ProductRecord
	// Columns is the field registry of the crawl in first-seen order.
	Columns    []string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r CrawlResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
