// ABOUTME: Set of selected record ids for bulk actions
// ABOUTME: Reconciled explicitly against the visible view after filtering

package selection

import (
	"sort"
	"sync"
)

// Set holds selected ids. The zero value is an empty, ready to use set.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// New creates an empty set
func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Toggle flips membership and reports whether id is now selected
func (s *Set) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// SelectAll replaces the selection with ids
func (s *Set) SelectAll(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// SelectRange adds every id between fromID and toID inclusive, in view order.
// It reports false and changes nothing when either id is not visible.
func (s *Set) SelectRange(visibleIDs []string, fromID, toID string) bool {
	from, to := -1, -1
	for i, id := range visibleIDs {
		if id == fromID {
			from = i
		}
		if id == toID {
			to = i
		}
	}
	if from < 0 || to < 0 {
		return false
	}
	if from > to {
		from, to = to, from
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	for _, id := range visibleIDs[from : to+1] {
		s.ids[id] = struct{}{}
	}
	return true
}

// Clear empties the selection
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// IsSelected reports membership
func (s *Set) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Size returns the number of selected ids
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Values returns selected ids in sorted order
func (s *Set) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AllSelected reports whether every visible id is selected; false for an empty view
func (s *Set) AllSelected(visibleIDs []string) bool {
	if len(visibleIDs) == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range visibleIDs {
		if _, ok := s.ids[id]; !ok {
			return false
		}
	}
	return true
}

// Reconcile drops ids no longer visible and returns them sorted
func (s *Set) Reconcile(visibleIDs []string) []string {
	visible := make(map[string]struct{}, len(visibleIDs))
	for _, id := range visibleIDs {
		visible[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for id := range s.ids {
		if _, ok := visible[id]; !ok {
			delete(s.ids, id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// init allocates the map for a zero value Set; caller holds mu
func (s *Set) init() {
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
}
