// Package content resolves (node, language) pairs to on-disk audio and
// transcript assets for a loaded content pack, per spec.md §3 and §4.5.
//
// Grounded on original_source/hub/content_manager.py and
// original_source/tests/test_content_manager.py, which fix the on-disk
// pack.yaml shape (name / nodes / media) the stub ContentManager itself
// never spells out. logrus provides the fallback/drop warnings, matching
// the teacher's structured-logging idiom.
package content

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Role is the closed set of node roles a pack manifest may declare.
type Role string

const (
	RoleWhisper Role = "whisper"
	RoleMystery Role = "mystery"
)

type manifestNode struct {
	Role            string `yaml:"role"`
	DefaultLanguage string `yaml:"default_language"`
}

type manifestMedia struct {
	Audio      string `yaml:"audio"`
	Transcript string `yaml:"transcript"`
}

type manifestFile struct {
	Name  string                              `yaml:"name"`
	Nodes map[string]manifestNode             `yaml:"nodes"`
	Media map[string]map[string]manifestMedia `yaml:"media"`
}

type nodeEntry struct {
	role            Role
	defaultLanguage string
}

type mediaEntry struct {
	audioPath      string
	transcriptPath string
}

// Manifest is a loaded, validated content pack.
type Manifest struct {
	name  string
	root  string
	nodes map[string]nodeEntry
	media map[string]map[string]mediaEntry // node -> language -> entry
	log   *logrus.Logger
}

// Resolver loads and serves content packs from a root directory.
type Resolver struct {
	packsRoot string
	log       *logrus.Logger
	packs     map[string]*Manifest
}

// NewResolver creates a Resolver rooted at packsRoot.
func NewResolver(packsRoot string, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{packsRoot: packsRoot, log: log, packs: map[string]*Manifest{}}
}

// PacksRoot returns the root directory packs are loaded from, for
// callers (such as the transcript file server) that need to resolve
// paths within a pack without going through the manifest.
func (r *Resolver) PacksRoot() string {
	return r.packsRoot
}

// ListPacks returns the discovered content pack directory names.
func (r *Resolver) ListPacks() []string {
	entries, err := os.ReadDir(r.packsRoot)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// LoadPack parses name's pack.yaml, dropping malformed node or media
// entries rather than aborting the whole load, per spec.md §4.5.
func (r *Resolver) LoadPack(name string) (*Manifest, error) {
	packDir := filepath.Join(r.packsRoot, name)
	manifestPath := filepath.Join(packDir, "pack.yaml")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("content: pack %q not found at %s: %w", name, packDir, err)
	}

	var raw manifestFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("content: parsing %s: %w", manifestPath, err)
	}

	manifest := &Manifest{
		name:  name,
		root:  packDir,
		nodes: map[string]nodeEntry{},
		media: map[string]map[string]mediaEntry{},
		log:   r.log,
	}

	for nodeID, n := range raw.Nodes {
		role := Role(n.Role)
		if role != RoleWhisper && role != RoleMystery {
			r.log.WithFields(logrus.Fields{"pack": name, "node": nodeID, "role": n.Role}).
				Warn("content: dropping node entry with missing or unsupported role")
			continue
		}
		if n.DefaultLanguage == "" {
			r.log.WithFields(logrus.Fields{"pack": name, "node": nodeID}).
				Warn("content: dropping node entry with missing default_language")
			continue
		}
		manifest.nodes[nodeID] = nodeEntry{role: role, defaultLanguage: n.DefaultLanguage}
	}

	for nodeID, byLang := range raw.Media {
		for lang, m := range byLang {
			if m.Audio == "" || m.Transcript == "" {
				r.log.WithFields(logrus.Fields{"pack": name, "node": nodeID, "language": lang}).
					Warn("content: dropping media entry missing audio or transcript path")
				continue
			}
			if manifest.media[nodeID] == nil {
				manifest.media[nodeID] = map[string]mediaEntry{}
			}
			manifest.media[nodeID][lang] = mediaEntry{
				audioPath:      filepath.Join(packDir, filepath.FromSlash(m.Audio)),
				transcriptPath: filepath.Join(packDir, filepath.FromSlash(m.Transcript)),
			}
		}
	}

	r.packs[name] = manifest
	return manifest, nil
}

// GetFragment resolves the audio asset path for (nodeID, language) in
// the loaded pack, following the fallback chain of spec.md §4.5.
func (m *Manifest) GetFragment(nodeID, language string) (string, bool) {
	entry, ok := m.resolveMedia(nodeID, language)
	if !ok {
		return "", false
	}
	if !fileExists(entry.audioPath) {
		m.log.WithFields(logrus.Fields{"pack": m.name, "node": nodeID, "path": entry.audioPath}).
			Warn("content: resolved audio path does not exist on disk")
		return "", false
	}
	return entry.audioPath, true
}

// GetTranscriptURL resolves the transcript asset path for
// (nodeID, language), following the same fallback chain.
func (m *Manifest) GetTranscriptURL(nodeID, language string) (string, bool) {
	entry, ok := m.resolveMedia(nodeID, language)
	if !ok {
		return "", false
	}
	if !fileExists(entry.transcriptPath) {
		m.log.WithFields(logrus.Fields{"pack": m.name, "node": nodeID, "path": entry.transcriptPath}).
			Warn("content: resolved transcript path does not exist on disk")
		return "", false
	}
	return "/transcripts/" + m.name + "/" + filepath.Base(entry.transcriptPath), true
}

func (m *Manifest) resolveMedia(nodeID, language string) (mediaEntry, bool) {
	byLang, ok := m.media[nodeID]
	if !ok {
		return mediaEntry{}, false
	}
	if entry, ok := byLang[language]; ok {
		return entry, true
	}
	node, ok := m.nodes[nodeID]
	if !ok || node.defaultLanguage == "" || node.defaultLanguage == language {
		return mediaEntry{}, false
	}
	if entry, ok := byLang[node.defaultLanguage]; ok {
		m.log.WithFields(logrus.Fields{"node": nodeID, "requested": language, "fallback": node.defaultLanguage}).
			Info("content: falling back to node default_language")
		return entry, true
	}
	return mediaEntry{}, false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
