package window

import (
	"fmt"
	"sort"

	"github.com/gammazero/deque"
)

// Store holds the bounded, label-aligned window of aggregate and per-entity
// values. It is not safe for concurrent use; the merge engine owns it and
// hands out Snapshots to readers.
type Store struct {
	maxPoints int
	last      Timestamp
	hasLast   bool

	labels    *deque.Deque[Timestamp]
	aggregate *deque.Deque[float64]
	entities  map[string]*deque.Deque[Value]
	order     []string // first-seen entity order

	evicted uint64
}

// NewStore returns an empty store bounded to capacity points.
func NewStore(capacity int) (*Store, error) {
	s := &Store{}
	if err := s.Reset(capacity); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset clears all state and sets a new capacity.
func (s *Store) Reset(capacity int) error {
	if capacity < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	s.maxPoints = capacity
	s.last = ""
	s.hasLast = false
	s.labels = deque.New[Timestamp](capacity + 1)
	s.aggregate = deque.New[float64](capacity + 1)
	s.entities = make(map[string]*deque.Deque[Value])
	s.order = nil
	s.evicted = 0
	return nil
}

// Len returns the number of labels currently held.
func (s *Store) Len() int {
	return s.labels.Len()
}

// Empty reports whether the store holds no points.
func (s *Store) Empty() bool {
	return s.labels.Len() == 0
}

// Capacity returns the configured maximum number of points.
func (s *Store) Capacity() int {
	return s.maxPoints
}

// Last returns the most recent label, if any.
func (s *Store) Last() (Timestamp, bool) {
	return s.last, s.hasLast
}

// Entities returns tracked entity ids in first-seen order.
func (s *Store) Entities() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Track registers an entity with a sequence of absences covering every
// current label. Tracking an entity twice is a no-op.
func (s *Store) Track(id string) {
	if _, ok := s.entities[id]; ok {
		return
	}
	seq := deque.New[Value](s.maxPoints + 1)
	for i := 0; i < s.labels.Len(); i++ {
		seq.PushBack(Absent())
	}
	s.entities[id] = seq
	s.order = append(s.order, id)
}

// AppendAt appends one point at ts. Tracked entities missing from perEntity
// receive an absence; unseen entities are backfilled with absences first.
// Points are evicted from the front while the window exceeds its capacity.
// It returns the number of evicted points.
func (s *Store) AppendAt(ts Timestamp, aggregate float64, perEntity map[string]float64) (int, error) {
	if s.hasLast && !ts.After(s.last) {
		return 0, fmt.Errorf("%w: %q <= %q", ErrNonIncreasingTimestamp, ts, s.last)
	}

	if len(perEntity) > 0 {
		var fresh []string
		for id := range perEntity {
			if _, ok := s.entities[id]; !ok {
				fresh = append(fresh, id)
			}
		}
		sort.Strings(fresh)
		for _, id := range fresh {
			s.Track(id)
		}
	}

	for _, id := range s.order {
		if v, ok := perEntity[id]; ok {
			s.entities[id].PushBack(Of(v))
		} else {
			s.entities[id].PushBack(Absent())
		}
	}
	s.labels.PushBack(ts)
	s.aggregate.PushBack(aggregate)
	s.last = ts
	s.hasLast = true

	evicted := 0
	for s.labels.Len() > s.maxPoints {
		s.labels.PopFront()
		s.aggregate.PopFront()
		for _, id := range s.order {
			s.entities[id].PopFront()
		}
		evicted++
	}
	s.evicted += uint64(evicted)
	return evicted, nil
}

// Snapshot returns a deep copy of the current window.
func (s *Store) Snapshot() Snapshot {
	n := s.labels.Len()
	snap := Snapshot{
		Labels:    make([]Timestamp, n),
		Aggregate: make([]float64, n),
		Entities:  make([]EntitySeries, 0, len(s.order)),
		Last:      s.last,
		HasLast:   s.hasLast,
		MaxPoints: s.maxPoints,
		Evicted:   s.evicted,
	}
	for i := 0; i < n; i++ {
		snap.Labels[i] = s.labels.At(i)
		snap.Aggregate[i] = s.aggregate.At(i)
	}
	for _, id := range s.order {
		seq := s.entities[id]
		vals := make([]Value, seq.Len())
		for i := range vals {
			vals[i] = seq.At(i)
		}
		snap.Entities = append(snap.Entities, EntitySeries{ID: id, Values: vals})
	}
	return snap
}

// Verify checks the window invariants and returns the first violation found.
func (s *Store) Verify() error {
	return s.Snapshot().Verify()
}
