package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/tlsutil"
)

// Storage modes for self-descriptions.
const (
	StorageModeMemory = "memory"
	StorageModeKV     = "kv"
)

// Agreement store drivers.
const (
	AgreementDriverMemory   = "memory"
	AgreementDriverSQLite   = "sqlite"
	AgreementDriverPostgres = "postgres"
)

// Config is the complete bridge configuration.
type Config struct {
	// ParticipantID identifies this connector as the consumer in negotiations.
	ParticipantID string            `json:"participant_id" yaml:"participant_id"`
	Sync          SyncConfig        `json:"sync" yaml:"sync"`
	Negotiation   NegotiationConfig `json:"negotiation" yaml:"negotiation"`
	Storage       StorageConfig     `json:"storage" yaml:"storage"`
	NATS          NATSConfig        `json:"nats" yaml:"nats"`
	Agreements    AgreementsConfig  `json:"agreements" yaml:"agreements"`
	HTTP          HTTPConfig        `json:"http" yaml:"http"`
	Security      SecurityConfig    `json:"security" yaml:"security"`
	Log           LogConfig         `json:"log" yaml:"log"`
}

// SyncConfig controls the periodic reconciliation of remote services.
type SyncConfig struct {
	Period       Duration `json:"period" yaml:"period"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	// OnlySubmodels ignores shells and concept descriptions.
	OnlySubmodels bool `json:"only_submodels" yaml:"only_submodels"`
	// AllowSelfSigned pins the certificate a service presents at registration.
	AllowSelfSigned    bool     `json:"allow_self_signed" yaml:"allow_self_signed"`
	RemoteAASLocations []string `json:"remote_aas_locations,omitempty" yaml:"remote_aas_locations,omitempty"`
	FetchTimeout       Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	// RequestsPerSecond caps outgoing AAS requests; 0 means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// NegotiationConfig controls the negotiation client.
type NegotiationConfig struct {
	// ManagementURL is the local connector's management API. Without it
	// negotiations are handled in process.
	ManagementURL           string   `json:"management_url,omitempty" yaml:"management_url,omitempty"`
	WaitForCatalogTimeout   Duration `json:"wait_for_catalog_timeout" yaml:"wait_for_catalog_timeout"`
	WaitForAgreementTimeout Duration `json:"wait_for_agreement_timeout" yaml:"wait_for_agreement_timeout"`
	AcceptAllProviderOffers bool     `json:"accept_all_provider_offers" yaml:"accept_all_provider_offers"`
	PollInterval            Duration `json:"poll_interval" yaml:"poll_interval"`
	// Subject carries negotiation events between bridge instances when
	// NATS is configured.
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// StorageConfig selects where self-descriptions live.
type StorageConfig struct {
	Mode   string `json:"mode" yaml:"mode"`
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// NATSConfig defines the NATS connection. An empty URLs list disables NATS.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty" yaml:"urls,omitempty"`
	ClientName    string   `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// Enabled reports whether a NATS connection is configured.
func (n NATSConfig) Enabled() bool {
	return len(n.URLs) > 0
}

// AgreementsConfig selects the agreement store.
type AgreementsConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// HTTPConfig configures the metrics and health listener.
type HTTPConfig struct {
	MetricsPort int    `json:"metrics_port" yaml:"metrics_port"`
	MetricsPath string `json:"metrics_path" yaml:"metrics_path"`
}

// SecurityConfig holds TLS settings.
type SecurityConfig struct {
	TLS TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig splits server TLS (metrics listener) from client TLS (remote
// AAS services and the management API).
type TLSConfig struct {
	Server tlsutil.ServerConfig `json:"server" yaml:"server"`
	Client tlsutil.ClientConfig `json:"client" yaml:"client"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used before any layer is applied.
func Default() *Config {
	return &Config{
		ParticipantID: "aasbridge-consumer",
		Sync: SyncConfig{
			Period:       Duration(5 * time.Second),
			InitialDelay: Duration(time.Second),
			FetchTimeout: Duration(30 * time.Second),
		},
		Negotiation: NegotiationConfig{
			WaitForCatalogTimeout:   Duration(10 * time.Second),
			WaitForAgreementTimeout: Duration(10 * time.Second),
			PollInterval:            Duration(500 * time.Millisecond),
			Subject:                 "aasbridge.negotiation.events",
		},
		Storage: StorageConfig{
			Mode:   StorageModeMemory,
			Bucket: "aas_self_descriptions",
		},
		NATS: NATSConfig{
			ClientName:    "aasbridge",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Agreements: AgreementsConfig{
			Driver: AgreementDriverMemory,
		},
		HTTP: HTTPConfig{
			MetricsPort: 9090,
			MetricsPath: "/metrics",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate reports the first problem found. Problems are fatal-class
// errors wrapping errors.ErrInvalidConfig or errors.ErrMissingConfig.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return errors.WrapFatal(err, "Config", "Validate", "check configuration")
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ParticipantID) == "" {
		return fmt.Errorf("%w: participant_id", errors.ErrMissingConfig)
	}

	if c.Sync.Period <= 0 {
		return invalid("sync.period must be positive")
	}
	if c.Sync.InitialDelay < 0 {
		return invalid("sync.initial_delay must not be negative")
	}
	if c.Sync.FetchTimeout <= 0 {
		return invalid("sync.fetch_timeout must be positive")
	}
	if c.Sync.RequestsPerSecond < 0 {
		return invalid("sync.requests_per_second must not be negative")
	}
	for i, loc := range c.Sync.RemoteAASLocations {
		if err := aas.ValidateURL(loc); err != nil {
			return fmt.Errorf("%w: sync.remote_aas_locations[%d]: %w", errors.ErrInvalidConfig, i, err)
		}
	}

	if c.Negotiation.WaitForCatalogTimeout <= 0 || c.Negotiation.WaitForAgreementTimeout <= 0 {
		return invalid("negotiation timeouts must be positive")
	}
	if c.Negotiation.ManagementURL != "" {
		if err := aas.ValidateURL(c.Negotiation.ManagementURL); err != nil {
			return fmt.Errorf("%w: negotiation.management_url: %w", errors.ErrInvalidConfig, err)
		}
		if c.Negotiation.PollInterval <= 0 {
			return invalid("negotiation.poll_interval must be positive")
		}
	}

	switch c.Storage.Mode {
	case StorageModeMemory:
	case StorageModeKV:
		if !c.NATS.Enabled() {
			return fmt.Errorf("%w: nats.urls (required by storage.mode %q)", errors.ErrMissingConfig, StorageModeKV)
		}
	default:
		return invalid(fmt.Sprintf("storage.mode %q (want %q or %q)", c.Storage.Mode, StorageModeMemory, StorageModeKV))
	}

	drivers := []string{AgreementDriverMemory, AgreementDriverSQLite, AgreementDriverPostgres}
	if !slices.Contains(drivers, c.Agreements.Driver) {
		return invalid(fmt.Sprintf("agreements.driver %q (want one of %s)", c.Agreements.Driver, strings.Join(drivers, ", ")))
	}
	if c.Agreements.Driver == AgreementDriverPostgres && c.Agreements.DSN == "" {
		return fmt.Errorf("%w: agreements.dsn (required by postgres)", errors.ErrMissingConfig)
	}

	if c.HTTP.MetricsPort < 0 || c.HTTP.MetricsPort > 65535 {
		return invalid(fmt.Sprintf("http.metrics_port %d out of range", c.HTTP.MetricsPort))
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		return invalid(fmt.Sprintf("log.level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid(fmt.Sprintf("log.format %q (want json or text)", c.Log.Format))
	}
	return nil
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if server.CertFile == "" || server.KeyFile == "" {
			return fmt.Errorf("%w: security.tls.server cert_file and key_file", errors.ErrMissingConfig)
		}
		for _, f := range []string{server.CertFile, server.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("%w: security.tls.server: %w", errors.ErrInvalidConfig, err)
			}
		}
		if err := validateTLSVersion(server.MinVersion); err != nil {
			return fmt.Errorf("security.tls.server.min_version: %w", err)
		}
	}

	client := c.Security.TLS.Client
	for i, caFile := range client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("%w: security.tls.client.ca_files[%d]: %w", errors.ErrInvalidConfig, i, err)
		}
	}
	return validateTLSVersion(client.MinVersion)
}

func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return invalid(fmt.Sprintf("TLS version %q (must be \"1.2\" or \"1.3\")", version))
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg)
}

// String renders the configuration as JSON with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token, &masked.Agreements.DSN} {
		if *s != "" {
			*s = "***"
		}
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
