package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"gateway/pkg/errors"
)

// Table maps path prefixes to route values. Lookup picks the longest
// matching prefix, so /api/users wins over /api for /api/users/42.
// The table is built at startup and swapped wholesale on reload;
// Match is safe for concurrent use.
type Table[T any] struct {
	mu      sync.RWMutex
	entries []entry[T]
}

type entry[T any] struct {
	prefix string
	value  T
}

// NewTable creates an empty route table
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Add registers a prefix. Duplicate prefixes are a configuration error.
func (t *Table[T]) Add(prefix string, value T) error {
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("route prefix %q must start with /", prefix)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.prefix == prefix {
			return fmt.Errorf("duplicate route prefix %q", prefix)
		}
	}

	t.entries = append(t.entries, entry[T]{prefix: prefix, value: value})
	// Longest prefix first so Match can return the first hit
	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].prefix) > len(t.entries[j].prefix)
	})
	return nil
}

// Match returns the value for the longest prefix matching the path,
// along with the remaining path suffix.
func (t *Table[T]) Match(path string) (T, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if strings.HasPrefix(path, e.prefix) {
			suffix := path[len(e.prefix):]
			if suffix == "" {
				suffix = "/"
			}
			return e.value, suffix, true
		}
	}
	var zero T
	return zero, "", false
}

// Len returns the number of registered prefixes
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Prefixes returns the registered prefixes, longest first
func (t *Table[T]) Prefixes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefixes := make([]string, len(t.entries))
	for i, e := range t.entries {
		prefixes[i] = e.prefix
	}
	return prefixes
}

// ErrRouteNotFound is returned for paths no prefix matches
var ErrRouteNotFound = errors.NewError(errors.ErrorTypeNotFound, "no route matches the request path")
