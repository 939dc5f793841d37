// Package accessibility loads, persists, and derives per-node
// accessibility/runtime payloads, per spec.md §3 and §4.4.
//
// Ported from original_source/hub/accessibility_store.py. Persistence
// uses gopkg.in/yaml.v3, the teacher's own YAML library for config-shaped
// state (see internal/config).
package accessibility

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrPresetNotFound is returned by ApplyPreset when the named preset is
// absent from the store.
var ErrPresetNotFound = errors.New("accessibility: preset not found")

// Profiles is the on-disk accessibility configuration: global settings,
// named presets, and per-node overrides.
type Profiles struct {
	Global           map[string]any            `yaml:"global"`
	Presets          map[string]map[string]any `yaml:"presets"`
	PerNodeOverrides map[string]map[string]any `yaml:"per_node_overrides"`
}

// Store wraps a Profiles value with the on-disk path it was loaded from
// and persists every mutation synchronously, per spec.md §4.4. mu guards
// profiles, which is read and mutated from concurrent request-handling
// goroutines in internal/httpapi.
type Store struct {
	mu       sync.Mutex
	path     string
	profiles Profiles
}

// Load reads profiles from path, tolerating a missing file (returns an
// empty Store) but treating a non-mapping top-level YAML document as a
// fatal error.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Store{path: path, profiles: emptyProfiles()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("accessibility: reading %s: %w", path, err)
	}

	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("accessibility: %s must contain a mapping: %w", path, err)
	}
	if profiles.Global == nil {
		profiles.Global = map[string]any{}
	}
	if profiles.Presets == nil {
		profiles.Presets = map[string]map[string]any{}
	}
	if profiles.PerNodeOverrides == nil {
		profiles.PerNodeOverrides = map[string]map[string]any{}
	}
	return &Store{path: path, profiles: profiles}, nil
}

func emptyProfiles() Profiles {
	return Profiles{
		Global:           map[string]any{},
		Presets:          map[string]map[string]any{},
		PerNodeOverrides: map[string]map[string]any{},
	}
}

// Save persists the current profiles to the store's path.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked persists the current profiles; callers must hold s.mu.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("accessibility: creating directory for %s: %w", s.path, err)
	}
	data, err := yaml.Marshal(s.profiles)
	if err != nil {
		return fmt.Errorf("accessibility: marshaling profiles: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("accessibility: writing %s: %w", s.path, err)
	}
	return nil
}

// ApplyPreset overwrite-merges a named preset into the global settings
// and persists the result.
func (s *Store) ApplyPreset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	preset, ok := s.profiles.Presets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	for k, v := range preset {
		s.profiles.Global[k] = v
	}
	return s.saveLocked()
}

// SetGlobal overwrite-merges values directly into the global settings
// and persists the result, for the `{global:{...}}` form of
// POST /api/apply-preset (as opposed to the named-preset form handled
// by ApplyPreset).
func (s *Store) SetGlobal(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.profiles.Global[k] = v
	}
	return s.saveLocked()
}

// SetPerNodeOverride replaces nodeID's override mapping, dropping any
// entry whose value is nil or an empty string, and removing the node's
// entry entirely if the filtered result is empty.
func (s *Store) SetPerNodeOverride(nodeID string, overrides map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalised := make(map[string]any, len(overrides))
	for k, v := range overrides {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		normalised[k] = v
	}
	if len(normalised) > 0 {
		s.profiles.PerNodeOverrides[nodeID] = normalised
	} else {
		delete(s.profiles.PerNodeOverrides, nodeID)
	}
	return s.saveLocked()
}

// Profiles returns a copy of the current in-memory profiles, for
// inspection by the operator API.
func (s *Store) Profiles() Profiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Profiles{
		Global:           copyAnyMap(s.profiles.Global),
		Presets:          copyNestedMap(s.profiles.Presets),
		PerNodeOverrides: copyNestedMap(s.profiles.PerNodeOverrides),
	}
}

// DeriveRuntimePayloads computes a RuntimePayload for every node-id in
// nodeIDs by composing global settings with that node's override.
func (s *Store) DeriveRuntimePayloads(nodeIDs []string) map[string]RuntimePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads := make(map[string]RuntimePayload, len(nodeIDs))
	for _, id := range nodeIDs {
		payloads[id] = buildNodePayload(s.profiles.Global, s.profiles.PerNodeOverrides[id])
	}
	return payloads
}

func copyAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyNestedMap(m map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(m))
	for k, v := range m {
		out[k] = copyAnyMap(v)
	}
	return out
}
