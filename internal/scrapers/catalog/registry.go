package catalog

// FieldRegistry is the ordered set of every field name seen during a crawl.
// It only grows. It is not safe for concurrent use, the crawler merges each
// page into it after that page's extraction has finished.
type FieldRegistry struct {
	order []string
	set   map[string]struct{}
}

func NewFieldRegistry() *FieldRegistry {
	return &FieldRegistry{set: map[string]struct{}{}}
}

func (r *FieldRegistry) Add(keys ...string) {
	for _, k := range keys {
		if _, ok := r.set[k]; ok {
			continue
		}
		r.set[k] = struct{}{}
		r.order = append(r.order, k)
	}
}

func (r *FieldRegistry) Merge(records ...ProductRecord) {
	for _, rec := range records {
		r.Add(rec.keys...)
	}
}

func (r *FieldRegistry) Contains(key string) bool {
	_, ok := r.set[key]
	return ok
}

func (r *FieldRegistry) Len() int {
	return len(r.order)
}

// Columns returns the registered names in first-seen order.
func (r *FieldRegistry) Columns() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
