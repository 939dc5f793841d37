package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeRole is the closed set of node roles, per spec.md §3.
type NodeRole string

const (
	RoleWhisper NodeRole = "whisper"
	RoleMystery NodeRole = "mystery"
)

// AudioConfig is the node-side audio block of the runtime config.
type AudioConfig struct {
	Volume       float64 `yaml:"volume"`
	FragmentFile string  `yaml:"fragment_file"`
}

// ProximityConfig is the node-side proximity trigger-threshold block.
type ProximityConfig struct {
	StoryThresholdMm int     `yaml:"story_threshold_mm"`
	HysteresisMm     int     `yaml:"hysteresis_mm"`
	MinMm            int     `yaml:"min_mm"`
	MaxMm            int     `yaml:"max_mm"`
	Loop             bool    `yaml:"loop"`
}

// AccessibilityConfig is the node-side accessibility runtime block,
// mirroring the derived payload shape of internal/accessibility.
type AccessibilityConfig struct {
	Captions         bool    `yaml:"captions"`
	VisualPulse      bool    `yaml:"visual_pulse"`
	ProximityGlow    bool    `yaml:"proximity_glow"`
	MobilityBufferMs int     `yaml:"mobility_buffer_ms"`
	Repeat           int     `yaml:"repeat"`
	Pace             float64 `yaml:"pace"`
	SafetyLimiter    bool    `yaml:"safety_limiter"`
}

// NodeConfig is the full node-side runtime configuration, per spec.md
// §4.7 and §6's config/<node> payload shape.
type NodeConfig struct {
	NodeID        string              `yaml:"node_id"`
	Role          NodeRole            `yaml:"role"`
	Language      string              `yaml:"language"`
	ContentPack   string              `yaml:"content_pack"`
	Audio         AudioConfig         `yaml:"audio"`
	Proximity     ProximityConfig     `yaml:"proximity"`
	Accessibility AccessibilityConfig `yaml:"accessibility"`
}

// DefaultNodeConfig returns a NodeConfig with the teacher's defaults
// applied: museum-default thresholds and a fully-open runtime payload.
func DefaultNodeConfig(nodeID string, role NodeRole) NodeConfig {
	return NodeConfig{
		NodeID:      nodeID,
		Role:        role,
		Language:    "en",
		ContentPack: "default",
		Audio: AudioConfig{
			Volume: 0.7,
		},
		Proximity: ProximityConfig{
			StoryThresholdMm: 700,
			HysteresisMm:     50,
			MinMm:            100,
			MaxMm:            1200,
		},
		Accessibility: AccessibilityConfig{
			ProximityGlow:    true,
			MobilityBufferMs: 800,
			Pace:             1.0,
			SafetyLimiter:    true,
		},
	}
}

// LoadNodeConfig reads a node's on-disk YAML configuration at path,
// overlaying whatever keys are present onto DefaultNodeConfig(nodeID,
// role). A missing file is not an error — a node with no config file
// simply runs with the museum defaults, per spec.md §7's recovered-
// locally set ("missing content assets" is surfaced the same way).
func LoadNodeConfig(path, nodeID string, role NodeRole) (NodeConfig, error) {
	cfg := DefaultNodeConfig(nodeID, role)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return NodeConfig{}, newConfigError("reading node config %s: %v", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return NodeConfig{}, newConfigError("parsing node config %s: %v", path, err)
	}
	cfg.NodeID = nodeID
	cfg.Role = role
	return cfg, nil
}
