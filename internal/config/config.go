// Package config loads the bridge configuration from a YAML file overlaid
// with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-config/cfgx"
	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
)

type Config struct {
	Server     ServerConfig     `koanf:"server" mapstructure:"server"`
	ServiceNow ServiceNowConfig `koanf:"servicenow" mapstructure:"servicenow"`
	Incident   IncidentConfig   `koanf:"incident" mapstructure:"incident"`
	HTTP       HTTPConfig       `koanf:"http" mapstructure:"http"`
	Sync       SyncConfig       `koanf:"sync" mapstructure:"sync"`
	AWS        AWSConfig        `koanf:"aws" mapstructure:"aws"`
	Log        LogConfig        `koanf:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string `koanf:"addr" mapstructure:"addr" validate:"required"`
	RunLocal          bool   `koanf:"run_local" mapstructure:"run_local"`
	ManualSyncEnabled bool   `koanf:"manual_sync_enabled" mapstructure:"manual_sync_enabled"`
}

type ServiceNowConfig struct {
	InstanceURL      string `koanf:"instance_url" mapstructure:"instance_url" validate:"required,url"`
	Username         string `koanf:"username" mapstructure:"username" validate:"required"`
	Password         string `koanf:"password" mapstructure:"password" validate:"required"`
	IncidentTable    string `koanf:"incident_table" mapstructure:"incident_table" validate:"required"`
	CorrelationField string `koanf:"correlation_field" mapstructure:"correlation_field" validate:"required"`
}

type IncidentConfig struct {
	BaseURL               string `koanf:"base_url" mapstructure:"base_url" validate:"required,url"`
	Token                 string `koanf:"token" mapstructure:"token" validate:"required"`
	WebhookSecret         string `koanf:"webhook_secret" mapstructure:"webhook_secret"`
	CrossReferenceFieldID string `koanf:"cross_reference_field_id" mapstructure:"cross_reference_field_id"`
}

type HTTPConfig struct {
	Timeout    time.Duration `koanf:"timeout" mapstructure:"timeout" validate:"gt=0"`
	MaxRetries int           `koanf:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

type SyncConfig struct {
	MappingsPath      string        `koanf:"mappings_path" mapstructure:"mappings_path" validate:"required"`
	Cooldown          time.Duration `koanf:"cooldown" mapstructure:"cooldown" validate:"gt=0"`
	GuardRetention    time.Duration `koanf:"guard_retention" mapstructure:"guard_retention" validate:"gtefield=Cooldown"`
	LookupCacheTTL    time.Duration `koanf:"lookup_cache_ttl" mapstructure:"lookup_cache_ttl" validate:"gt=0"`
	LookupCacheSize   int           `koanf:"lookup_cache_size" mapstructure:"lookup_cache_size" validate:"gt=0"`
	ExpressionTimeout time.Duration `koanf:"expression_timeout" mapstructure:"expression_timeout" validate:"gt=0"`
	BatchSize         int           `koanf:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	Concurrency       int           `koanf:"concurrency" mapstructure:"concurrency" validate:"gt=0"`
	RequestsPerMinute int           `koanf:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gt=0"`
}

type AWSConfig struct {
	Region           string        `koanf:"region" mapstructure:"region"`
	EndpointOverride string        `koanf:"endpoint_override" mapstructure:"endpoint_override"`
	LedgerTable      string        `koanf:"ledger_table" mapstructure:"ledger_table"`
	LedgerTTL        time.Duration `koanf:"ledger_ttl" mapstructure:"ledger_ttl"`
	IdempotencyTable string        `koanf:"idempotency_table" mapstructure:"idempotency_table"`
	IdempotencyTTL   time.Duration `koanf:"idempotency_ttl" mapstructure:"idempotency_ttl"`
	RetryQueueURL    string        `koanf:"retry_queue_url" mapstructure:"retry_queue_url"`
	MaxReplays       int           `koanf:"max_replays" mapstructure:"max_replays" validate:"gte=0"`
	MetricsEnabled   bool          `koanf:"metrics_enabled" mapstructure:"metrics_enabled"`
	MetricsNamespace string        `koanf:"metrics_namespace" mapstructure:"metrics_namespace"`
}

type LogConfig struct {
	Level string `koanf:"level" mapstructure:"level" validate:"oneof=trace debug info warn error"`
}

// Defaults returns the configuration used for every key the file and
// environment leave unset.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		ServiceNow: ServiceNowConfig{
			IncidentTable:    "incident",
			CorrelationField: "correlation_id",
		},
		Incident: IncidentConfig{BaseURL: "https://api.incident.io"},
		HTTP:     HTTPConfig{Timeout: 30 * time.Second, MaxRetries: 3},
		Sync: SyncConfig{
			MappingsPath:      "configs/mappings.yaml",
			Cooldown:          30 * time.Second,
			GuardRetention:    5 * time.Minute,
			LookupCacheTTL:    5 * time.Minute,
			LookupCacheSize:   1024,
			ExpressionTimeout: time.Second,
			BatchSize:         10,
			Concurrency:       5,
			RequestsPerMinute: 60,
		},
		AWS: AWSConfig{
			LedgerTTL:        30 * 24 * time.Hour,
			IdempotencyTTL:   48 * time.Hour,
			MaxReplays:       5,
			MetricsNamespace: "IncidentSnowSync",
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New()

// Validate runs the struct tag rules and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.WrapConfig(err, "invalid configuration", nil)
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return apperrors.Config("invalid configuration: "+strings.Join(issues, "; "), map[string]any{"issues": issues})
}

// envBinding maps an environment variable onto a dotted config key.
type envBinding struct {
	env  string
	key  string
	kind string // string, bool, int, duration
}

var envBindings = []envBinding{
	{"SERVER_ADDR", "server.addr", "string"},
	{"RUN_LOCAL", "server.run_local", "bool"},
	{"MANUAL_SYNC_ENABLED", "server.manual_sync_enabled", "bool"},
	{"SERVICENOW_INSTANCE_URL", "servicenow.instance_url", "string"},
	{"SERVICENOW_USERNAME", "servicenow.username", "string"},
	{"SERVICENOW_PASSWORD", "servicenow.password", "string"},
	{"SERVICENOW_INCIDENT_TABLE", "servicenow.incident_table", "string"},
	{"INCIDENT_API_URL", "incident.base_url", "string"},
	{"INCIDENT_API_TOKEN", "incident.token", "string"},
	{"INCIDENT_WEBHOOK_SECRET", "incident.webhook_secret", "string"},
	{"INCIDENT_CROSS_REFERENCE_FIELD_ID", "incident.cross_reference_field_id", "string"},
	{"MAPPINGS_PATH", "sync.mappings_path", "string"},
	{"SYNC_COOLDOWN", "sync.cooldown", "duration"},
	{"AWS_REGION", "aws.region", "string"},
	{"AWS_ENDPOINT_OVERRIDE", "aws.endpoint_override", "string"},
	{"LEDGER_TABLE", "aws.ledger_table", "string"},
	{"IDEMPOTENCY_TABLE", "aws.idempotency_table", "string"},
	{"RETRY_QUEUE_URL", "aws.retry_queue_url", "string"},
	{"MAX_REPLAYS", "aws.max_replays", "int"},
	{"METRICS_ENABLED", "aws.metrics_enabled", "bool"},
	{"LOG_LEVEL", "log.level", "string"},
}

var durationKeys = []string{
	"http.timeout",
	"sync.cooldown",
	"sync.guard_retention",
	"sync.lookup_cache_ttl",
	"sync.expression_timeout",
	"aws.ledger_ttl",
	"aws.idempotency_ttl",
}

// Load reads path (optional), overlays the environment and builds the
// validated Config.
func Load(path string) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, apperrors.WrapConfig(err, "read config file", map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, apperrors.WrapConfig(err, "decode config file: "+err.Error(), map[string]any{"path": path})
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	if err := overlayEnv(raw, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return Build(raw)
}

// Build turns a raw nested map into a Config, applying defaults and validation.
func Build(raw map[string]any) (Config, error) {
	if err := normalizeDurations(raw); err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(Defaults()),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		if apperrors.TextCode(err) == apperrors.TextConfigInvalid {
			return Config{}, err
		}
		return Config{}, apperrors.WrapConfig(err, "build configuration: "+err.Error(), nil)
	}
	return cfg, nil
}

func overlayEnv(raw map[string]any, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		value, ok := lookup(b.env)
		if !ok || value == "" {
			continue
		}
		var typed any = value
		switch b.kind {
		case "bool":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return apperrors.Config(fmt.Sprintf("%s: invalid boolean %q", b.env, value), map[string]any{"env": b.env})
			}
			typed = v
		case "int":
			v, err := strconv.Atoi(value)
			if err != nil {
				return apperrors.Config(fmt.Sprintf("%s: invalid integer %q", b.env, value), map[string]any{"env": b.env})
			}
			typed = v
		}
		setPath(raw, b.key, typed)
	}
	return nil
}

func normalizeDurations(raw map[string]any) error {
	for _, key := range durationKeys {
		value, ok := getPath(raw, key)
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return apperrors.Config(fmt.Sprintf("%s: invalid duration %q", key, v), map[string]any{"key": key})
			}
			setPath(raw, key, d)
		case int:
			setPath(raw, key, time.Duration(v)*time.Second)
		}
	}
	return nil
}

func getPath(raw map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	current := raw
	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func setPath(raw map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := raw
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
