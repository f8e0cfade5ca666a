package window

import "fmt"

// EntitySeries is one entity's values aligned to Snapshot.Labels.
type EntitySeries struct {
	ID     string
	Values []Value
}

// Snapshot is an immutable copy of a Store, safe to pass between goroutines.
type Snapshot struct {
	Labels    []Timestamp
	Aggregate []float64
	Entities  []EntitySeries
	Last      Timestamp
	HasLast   bool
	MaxPoints int
	Evicted   uint64
}

// Len returns the number of points in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Labels)
}

// Entity returns the series for id.
func (s Snapshot) Entity(id string) (EntitySeries, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntitySeries{}, false
}

// Verify checks length sync, ordering, capacity and the last-label invariant.
func (s Snapshot) Verify() error {
	n := len(s.Labels)
	if len(s.Aggregate) != n {
		return fmt.Errorf("%w: aggregate has %d values, %d labels", ErrLengthMismatch, len(s.Aggregate), n)
	}
	for _, e := range s.Entities {
		if len(e.Values) != n {
			return fmt.Errorf("%w: entity %q has %d values, %d labels", ErrLengthMismatch, e.ID, len(e.Values), n)
		}
	}
	for i := 1; i < n; i++ {
		if !s.Labels[i].After(s.Labels[i-1]) {
			return fmt.Errorf("%w: index %d %q after %q", ErrUnordered, i, s.Labels[i], s.Labels[i-1])
		}
	}
	if s.MaxPoints > 0 && n > s.MaxPoints {
		return fmt.Errorf("%w: %d > %d", ErrOverCapacity, n, s.MaxPoints)
	}
	if n > 0 && (!s.HasLast || s.Labels[n-1] != s.Last) {
		return fmt.Errorf("%w: last %q, final label %q", ErrStaleLast, s.Last, s.Labels[n-1])
	}
	return nil
}
