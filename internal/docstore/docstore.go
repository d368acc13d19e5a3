// Package docstore defines the durable real-time document store the chat core is
// built on: collection-scoped CRUD, ordered queries, live change subscriptions and
// server-assigned timestamps. Backends live in sub-packages.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned by every operation once the store is closed.
	ErrClosed = errors.New("store closed")
	// ErrInvalidPath is returned for malformed collection or document paths.
	ErrInvalidPath = errors.New("invalid path")
	// ErrUnsupportedValue is returned when a field holds a type the store cannot persist.
	ErrUnsupportedValue = errors.New("unsupported field value")
	// ErrWatchOverflow terminates a watch whose consumer fell too far behind.
	ErrWatchOverflow = errors.New("watch fell behind")
)

// Fields is the untyped content of a document.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store clock at write time.
var ServerTimestamp = serverTimestamp{}

// Document is a stored document.
type Document struct {
	ID     string
	Path   string
	Fields Fields
}

// String returns a string field.
func (d Document) String(key string) (string, bool) {
	v, ok := d.Fields[key].(string)
	return v, ok
}

// Time returns a timestamp field.
func (d Document) Time(key string) (time.Time, bool) {
	v, ok := d.Fields[key].(time.Time)
	return v, ok
}

// Direction is the sort direction of a query.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality predicate on a field.
type Filter struct {
	Field string
	Value any
}

// Query selects and orders documents of one collection.
type Query struct {
	Where     []Filter
	OrderBy   string
	Direction Direction
	Limit     int
}

// ChangeKind describes how a document changed relative to a watch.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a single document change delivered by a watch.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Snapshot is one delivery of a watch: the full ordered result set plus the changes
// that produced it. A snapshot with Err set is the last one on its channel.
type Snapshot struct {
	Docs    []Document
	Changes []Change
	Err     error
}

type setOptions struct {
	merge bool
}

// SetOption configures Set.
type SetOption func(*setOptions)

// Merge makes Set merge the given fields into an existing document instead of
// replacing it.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// ApplySetOptions resolves options for backends.
func ApplySetOptions(opts []SetOption) (merge bool) {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.merge
}

// Store is the capability every backend provides.
type Store interface {
	// Create adds a document with a store-assigned id to the collection.
	Create(ctx context.Context, collection string, fields Fields) (string, error)

	// Set writes the document at docPath, creating it if needed.
	Set(ctx context.Context, docPath string, fields Fields, opts ...SetOption) error

	// Get reads one document. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, docPath string) (Document, error)

	// Delete removes one document. Deleting a missing document is not an error.
	// Sub-collections are left untouched.
	Delete(ctx context.Context, docPath string) error

	// Query returns the documents of a collection matching q.
	Query(ctx context.Context, collection string, q Query) ([]Document, error)

	// Watch streams snapshots of q until ctx is done or the watch fails.
	Watch(ctx context.Context, collection string, q Query) (<-chan Snapshot, error)

	// Close releases the store. Open watches end with ErrClosed.
	Close() error
}

// Collection joins path segments into a collection path.
func Collection(segments ...string) string {
	return strings.Join(segments, "/")
}

// Doc returns the path of document id inside collection.
func Doc(collection, id string) string {
	return collection + "/" + id
}

// ValidID reports whether id can be used as a single path segment.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\x00")
}

// CheckCollection validates a collection path.
func CheckCollection(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection", ErrInvalidPath, path)
	}
	for _, s := range segs {
		if !ValidID(s) {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// SplitDoc splits a document path into its collection and id.
func SplitDoc(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is not a document", ErrInvalidPath, path)
	}
	for _, s := range segs {
		if !ValidID(s) {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	i := strings.LastIndexByte(path, '/')
	return path[:i], path[i+1:], nil
}
