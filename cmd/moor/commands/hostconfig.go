package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// HostConfig is the moor host configuration, read from moor.yaml. It wires
// paths and endpoints; entity definitions live in the CUE sources it names.
type HostConfig struct {
	// StatePath is the SQLite state database path.
	StatePath string `yaml:"state_path"`

	// SecretsPath is the file-backed secret store path.
	SecretsPath string `yaml:"secrets_path"`

	// Sources are the default CUE entity sources for apply and watch.
	Sources []string `yaml:"sources"`

	// PolicyPaths are directories or files with additional policies.
	PolicyPaths []string `yaml:"policy_paths"`

	// Vendor configures the vendor API endpoint and credentials.
	Vendor VendorConfig `yaml:"vendor"`

	// Telemetry selects the telemetry profile (development, production).
	Telemetry string `yaml:"telemetry"`

	// MetricsListen overrides the metrics endpoint address.
	MetricsListen string `yaml:"metrics_listen"`
}

// VendorConfig locates the vendor API. The token is a secret reference
// resolved through the secret store, never an inline value.
type VendorConfig struct {
	// BaseURL is the vendor API root.
	BaseURL string `yaml:"base_url"`

	// TokenRef is the secret store key holding the API token.
	TokenRef string `yaml:"token_ref"`
}

// loadHostConfig reads the host config from path, falling back to
// moor.yaml in the working directory. A missing default file yields the
// zero config with defaults applied.
func loadHostConfig(path string) (*HostConfig, error) {
	explicit := path != ""
	if path == "" {
		path = "moor.yaml"
	}

	cfg := &HostConfig{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read host config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse host config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *HostConfig) applyDefaults() {
	if c.StatePath == "" {
		c.StatePath = defaultDataPath("state.db")
	}
	if c.SecretsPath == "" {
		c.SecretsPath = defaultDataPath("secrets.yaml")
	}
	if c.Vendor.TokenRef == "" {
		c.Vendor.TokenRef = "vendor/api-token"
	}
	if c.Telemetry == "" {
		c.Telemetry = "development"
	}
}

// Validate checks the parts every command needs.
func (c *HostConfig) Validate() error {
	if c.Vendor.BaseURL == "" {
		return fmt.Errorf("vendor.base_url is required in the host config")
	}
	return nil
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".cloudmoor", name)
}
