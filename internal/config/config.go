// Package config loads and validates the shuttle configuration. A
// config is resolved once at startup and never mutated mid-run.
package config

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/amf-flx/fluxnet-shuttle/pkg/errors"
)

// DefaultParallelRequests bounds concurrent hub requests when the file
// does not say otherwise.
const DefaultParallelRequests = 3

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// HubConfig holds per-data-hub settings. Hubs listed in the file are
// enabled unless explicitly disabled; UserInfo carries hub-specific
// extras (tracking identity, tokens) passed through to the plugin
// factory untouched.
type HubConfig struct {
	Enabled  bool              `yaml:"enabled"`
	UserInfo map[string]string `yaml:"user_info,omitempty"`
}

// UnmarshalYAML defaults Enabled to true when the key is absent.
func (c *HubConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Enabled  *bool             `yaml:"enabled"`
		UserInfo map[string]string `yaml:"user_info"`
	}

	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	c.Enabled = true
	if r.Enabled != nil {
		c.Enabled = *r.Enabled
	}
	c.UserInfo = r.UserInfo
	return nil
}

// AsMap flattens a hub config into the loose map a plugin factory takes.
func (c HubConfig) AsMap() map[string]any {
	m := map[string]any{"enabled": c.Enabled}
	for key, value := range c.UserInfo {
		m[key] = value
	}
	return m
}

// Config is the full shuttle configuration document.
type Config struct {
	DataHubs         map[string]HubConfig `yaml:"data_hubs" validate:"required,min=1"`
	ParallelRequests int                  `yaml:"parallel_requests" validate:"min=1,max=32"`
}

// Default returns the built-in configuration: the three FLUXNET data
// hubs enabled.
func Default() *Config {
	return &Config{
		DataHubs: map[string]HubConfig{
			"ameriflux": {Enabled: true},
			"icos":      {Enabled: true},
			"tern":      {Enabled: true},
		},
		ParallelRequests: DefaultParallelRequests,
	}
}

// Load reads a YAML config file and overlays it on the defaults: hubs
// named in the file replace the default entry of the same name, other
// defaults stay. The result is validated before being returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	type raw struct {
		DataHubs         map[string]HubConfig `yaml:"data_hubs"`
		ParallelRequests *int                 `yaml:"parallel_requests"`
	}

	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.NewParseError(path, 0, err)
	}

	cfg := Default()
	for name, hub := range r.DataHubs {
		cfg.DataHubs[name] = hub
	}
	if r.ParallelRequests != nil {
		cfg.ParallelRequests = *r.ParallelRequests
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return errors.NewValidationError("", "invalid shuttle configuration", err)
	}
	return nil
}

// HubNames returns the configured hub names in sorted order, regardless
// of their enabled state.
func (c *Config) HubNames() []string {
	names := make([]string, 0, len(c.DataHubs))
	for name := range c.DataHubs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
