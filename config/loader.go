package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AASBRIDGE"

// Loader builds a Config from defaults, file layers and the environment.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader reading AASBRIDGE_* variables.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix, lookupEnv: os.LookupEnv}
}

// AddLayer appends a file. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation runs Config.Validate at the end of Load.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads path as the only layer.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, every layer in order, then the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := decodeLayer(path, cfg); err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "read config layer")
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// decodeLayer decodes path on top of cfg. Fields absent from the file keep
// their current value.
func decodeLayer(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	}
	return nil
}

type envOverride struct {
	key   string
	apply func(cfg *Config, value string) error
}

func setString(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*target(cfg) = v
		return nil
	}
}

func setBool(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*target(cfg) = b
		return nil
	}
}

func setDuration(target func(*Config) *Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		return target(cfg).set(v)
	}
}

func setList(target func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*target(cfg) = out
		return nil
	}
}

var envOverrides = []envOverride{
	{"PARTICIPANT_ID", setString(func(c *Config) *string { return &c.ParticipantID })},
	{"SYNC_PERIOD", setDuration(func(c *Config) *Duration { return &c.Sync.Period })},
	{"ONLY_SUBMODELS", setBool(func(c *Config) *bool { return &c.Sync.OnlySubmodels })},
	{"ALLOW_SELF_SIGNED", setBool(func(c *Config) *bool { return &c.Sync.AllowSelfSigned })},
	{"REMOTE_AAS_LOCATIONS", setList(func(c *Config) *[]string { return &c.Sync.RemoteAASLocations })},
	{"MANAGEMENT_URL", setString(func(c *Config) *string { return &c.Negotiation.ManagementURL })},
	{"WAIT_FOR_CATALOG_TIMEOUT", setDuration(func(c *Config) *Duration { return &c.Negotiation.WaitForCatalogTimeout })},
	{"WAIT_FOR_AGREEMENT_TIMEOUT", setDuration(func(c *Config) *Duration { return &c.Negotiation.WaitForAgreementTimeout })},
	{"ACCEPT_ALL_PROVIDER_OFFERS", setBool(func(c *Config) *bool { return &c.Negotiation.AcceptAllProviderOffers })},
	{"STORAGE_MODE", setString(func(c *Config) *string { return &c.Storage.Mode })},
	{"NATS_URLS", setList(func(c *Config) *[]string { return &c.NATS.URLs })},
	{"NATS_USERNAME", setString(func(c *Config) *string { return &c.NATS.Username })},
	{"NATS_PASSWORD", setString(func(c *Config) *string { return &c.NATS.Password })},
	{"NATS_TOKEN", setString(func(c *Config) *string { return &c.NATS.Token })},
	{"AGREEMENTS_DRIVER", setString(func(c *Config) *string { return &c.Agreements.Driver })},
	{"AGREEMENTS_DSN", setString(func(c *Config) *string { return &c.Agreements.DSN })},
	{"METRICS_PORT", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.HTTP.MetricsPort = port
		return nil
	}},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", setString(func(c *Config) *string { return &c.Log.Format })},
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		key := l.envPrefix + "_" + o.key
		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := validateEnvVar(key, value); err != nil {
			return err
		}
		if err := o.apply(cfg, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
