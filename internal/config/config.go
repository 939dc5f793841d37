// Package config loads and validates hub and node configuration files,
// per spec.md §7's ConfigurationError taxonomy.
//
// Ported from original_source/hub/config_loader.py: same keys, same
// defaults, same "fatal at startup, before any network activity"
// validation discipline. Uses gopkg.in/yaml.v3, the teacher's YAML
// library for config-shaped state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Error is returned for any malformed configuration file, missing
// required key, or out-of-range value. Fatal at startup.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func newConfigError(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// AnalyticsConfig governs analytics logging.
type AnalyticsConfig struct {
	EnableCSV      bool `yaml:"enable_csv"`
	RotationDaily  bool `yaml:"rotation_daily"`
}

// NarrativeConfig controls narrative unlock behavior.
type NarrativeConfig struct {
	RequiredFragmentsToUnlock int `yaml:"required_fragments_to_unlock"`
}

// SecurityConfig secures access to the operator HTTP surface.
type SecurityConfig struct {
	RequireBasicAuth bool   `yaml:"require_basic_auth"`
	AdminUserEnv     string `yaml:"admin_user_env"`
	AdminPassEnv     string `yaml:"admin_pass_env"`
}

// HubConfig is the top-level hub configuration.
type HubConfig struct {
	BrokerHost      string          `yaml:"broker_host"`
	BrokerPort      int             `yaml:"broker_port"`
	DashboardHost   string          `yaml:"dashboard_host"`
	DashboardPort   int             `yaml:"dashboard_port"`
	DefaultLanguage string          `yaml:"default_language"`
	LogsDir         string          `yaml:"logs_dir"`
	Analytics       AnalyticsConfig `yaml:"analytics"`
	Narrative       NarrativeConfig `yaml:"narrative"`
	Security        SecurityConfig  `yaml:"security"`
}

type rawHubConfig struct {
	BrokerHost      *string        `yaml:"broker_host"`
	BrokerPort      *int           `yaml:"broker_port"`
	DashboardHost   *string        `yaml:"dashboard_host"`
	DashboardPort   *int           `yaml:"dashboard_port"`
	DefaultLanguage *string        `yaml:"default_language"`
	LogsDir         *string        `yaml:"logs_dir"`
	Analytics       map[string]any `yaml:"analytics"`
	Narrative       map[string]any `yaml:"narrative"`
	Security        map[string]any `yaml:"security"`
}

// LoadHubConfig loads and validates the hub configuration file at path.
func LoadHubConfig(path string) (HubConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HubConfig{}, newConfigError("configuration file not found: %s", path)
	}

	var raw rawHubConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return HubConfig{}, newConfigError("failed to parse configuration: %v", err)
	}

	cfg := HubConfig{
		BrokerHost:      stringOrDefault(raw.BrokerHost, "localhost"),
		BrokerPort:      intOrDefault(raw.BrokerPort, 1883),
		DashboardHost:   stringOrDefault(raw.DashboardHost, "0.0.0.0"),
		DashboardPort:   intOrDefault(raw.DashboardPort, 8080),
		DefaultLanguage: stringOrDefault(raw.DefaultLanguage, "en"),
		LogsDir:         stringOrDefault(raw.LogsDir, "hub/logs"),
	}
	if cfg.BrokerHost == "" {
		return HubConfig{}, newConfigError("configuration key 'broker_host' must be a non-empty string")
	}
	if cfg.BrokerPort < 1 {
		return HubConfig{}, newConfigError("configuration key 'broker_port' must be >= 1")
	}
	if cfg.DashboardPort < 1 {
		return HubConfig{}, newConfigError("configuration key 'dashboard_port' must be >= 1")
	}

	cfg.Analytics = loadAnalytics(raw.Analytics)
	cfg.Narrative, err = loadNarrative(raw.Narrative)
	if err != nil {
		return HubConfig{}, err
	}
	cfg.Security = loadSecurity(raw.Security)

	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return HubConfig{}, newConfigError("unable to create logs_dir %s: %v", cfg.LogsDir, err)
	}

	return cfg, nil
}

func loadAnalytics(section map[string]any) AnalyticsConfig {
	return AnalyticsConfig{
		EnableCSV:     boolFromMap(section, "enable_csv", true),
		RotationDaily: boolFromMap(section, "rotation_daily", true),
	}
}

func loadNarrative(section map[string]any) (NarrativeConfig, error) {
	required := intFromMap(section, "required_fragments_to_unlock", 4)
	if required < 1 {
		return NarrativeConfig{}, newConfigError("configuration key 'required_fragments_to_unlock' must be >= 1")
	}
	return NarrativeConfig{RequiredFragmentsToUnlock: required}, nil
}

func loadSecurity(section map[string]any) SecurityConfig {
	return SecurityConfig{
		RequireBasicAuth: boolFromMap(section, "require_basic_auth", true),
		AdminUserEnv:     stringFromMap(section, "admin_user_env", "ECHOTRACE_ADMIN_USER"),
		AdminPassEnv:     stringFromMap(section, "admin_pass_env", "ECHOTRACE_ADMIN_PASS"),
	}
}

func stringOrDefault(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolFromMap(m map[string]any, key string, def bool) bool {
	if m == nil {
		return def
	}
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func intFromMap(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch n := m[key].(type) {
	case int:
		return n
	default:
		return def
	}
}

func stringFromMap(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
