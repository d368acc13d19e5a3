package docstore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Entry is a document together with its insertion sequence. Backends use it to
// break ordering ties by arrival order.
type Entry struct {
	Document
	Seq uint64
}

// Clock hands out strictly increasing server timestamps.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewClock builds a clock on top of now (time.Now when nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a timestamp strictly after every previous one.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// Advance makes every later timestamp fall after t.
func (c *Clock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

// Prepare copies fields, resolving ServerTimestamp and normalising value types.
func (c *Clock) Prepare(fields Fields) (Fields, error) {
	out := make(Fields, len(fields))
	var ts time.Time
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			if ts.IsZero() {
				ts = c.Next()
			}
			out[k] = ts
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case time.Time:
		return x.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// MergeFields returns base overlaid with patch.
func MergeFields(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// CloneFields returns a shallow copy; values are immutable scalars.
func CloneFields(f Fields) Fields {
	return MergeFields(f, nil)
}

// Matches reports whether the document satisfies every filter of q.
func (q Query) Matches(d Document) bool {
	for _, f := range q.Where {
		nv, err := normalize(f.Value)
		if err != nil {
			return false
		}
		if compareValues(d.Fields[f.Field], nv) != 0 {
			return false
		}
	}
	return true
}

// Select filters, orders and limits entries according to q.
func Select(entries []Entry, q Query) []Document {
	matched := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if q.Matches(e.Document) {
			matched = append(matched, e)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(matched[i].Fields[q.OrderBy], matched[j].Fields[q.OrderBy])
			if q.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		if q.Direction == Desc {
			return matched[i].Seq > matched[j].Seq
		}
		return matched[i].Seq < matched[j].Seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	docs := make([]Document, len(matched))
	for i, e := range matched {
		docs[i] = e.Document
	}
	return docs
}

// rank orders values of different types: nil < bool < number < string < time.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	default:
		return 5
	}
}

func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case int64, float64:
		fx, fy := toFloat(a), toFloat(b)
		switch {
		case fx < fy:
			return -1
		case fx > fy:
			return 1
		}
		return 0
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
