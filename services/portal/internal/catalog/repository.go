package catalog

import (
	"sort"
	"time"
)

// Repository is a read-only collection built once at start-up. Items are kept
// newest first according to the timestamp func.
type Repository[T any] struct {
	items []T
	index map[string]int
}

func NewRepository[T any](items []T, id func(T) string, timestamp func(T) time.Time) *Repository[T] {
	sorted := append([]T(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return timestamp(sorted[i]).After(timestamp(sorted[j]))
	})
	index := make(map[string]int, len(sorted))
	for i, item := range sorted {
		index[id(item)] = i
	}
	return &Repository[T]{items: sorted, index: index}
}

func (r *Repository[T]) List() []T {
	return append([]T(nil), r.items...)
}

func (r *Repository[T]) Get(id string) (T, bool) {
	i, ok := r.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return r.items[i], true
}

func (r *Repository[T]) Len() int {
	return len(r.items)
}
