// Package narrative tracks which whisper nodes have triggered their
// fragment and whether the mystery narrative has unlocked, per spec.md
// §3 and §4.3.
//
// Ported from original_source/hub/narrative_state.py. The Go shape adds
// a mutex around the same triggered-set/unlocked fields, matching the
// guarded-state idiom in internal/agent/controller.go.
package narrative

import (
	"sort"
	"sync"
)

// State tracks triggered whisper fragments and the mystery unlock flag.
//
// Unlock is a rising edge: once Unlocked() returns true it stays true
// until an explicit Reset, even if fragments are later re-triggered or
// a late-joining node replays the retained unlock state (spec.md §9).
type State struct {
	mu               sync.Mutex
	requiredFragments int
	triggered        map[string]struct{}
	unlocked         bool
}

// New creates a State requiring the given number of distinct fragment
// triggers before the narrative unlocks.
func New(requiredFragments int) *State {
	return &State{
		requiredFragments: requiredFragments,
		triggered:         make(map[string]struct{}),
	}
}

// RegisterTrigger records that nodeID has triggered its fragment.
// Returns true when the trigger is newly recorded, false for a
// duplicate from a node that already triggered.
func (s *State) RegisterTrigger(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggered[nodeID]; ok {
		return false
	}
	s.triggered[nodeID] = struct{}{}
	if !s.unlocked && len(s.triggered) >= s.requiredFragments {
		s.unlocked = true
	}
	return true
}

// Reset clears all triggers and the unlock flag.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggered = make(map[string]struct{})
	s.unlocked = false
}

// Unlocked reports whether the narrative has unlocked.
func (s *State) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked
}

// TriggeredList returns the triggered node identifiers in sorted order.
func (s *State) TriggeredList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggeredListLocked()
}

func (s *State) triggeredListLocked() []string {
	list := make([]string, 0, len(s.triggered))
	for id := range s.triggered {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}

// Snapshot is the serialisable view published on state/hub.
type Snapshot struct {
	Unlocked  bool     `json:"unlocked"`
	Triggered []string `json:"triggered"`
}

// Snapshot returns the current unlock flag and sorted triggered list.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Unlocked:  s.unlocked,
		Triggered: s.triggeredListLocked(),
	}
}

// ApplyRetained forces the state to match a retained state/hub snapshot,
// used by a node re-hydrating from a retained message rather than by the
// hub itself. It never clears Unlocked except via an explicit
// unlocked:false payload, matching the latch rule decided in spec.md §9.
func (s *State) ApplyRetained(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.triggered = make(map[string]struct{}, len(snapshot.Triggered))
	for _, id := range snapshot.Triggered {
		s.triggered[id] = struct{}{}
	}
	s.unlocked = snapshot.Unlocked
}
