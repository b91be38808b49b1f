// ABOUTME: Layered configuration: struct defaults, CATALOGOPS_* env, explicit overrides
// ABOUTME: Loaded through koanf and validated before use

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides
const EnvPrefix = "CATALOGOPS_"

// Config is the full engine configuration
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Scan          ScanConfig          `koanf:"scan"`
	Bulk          BulkConfig          `koanf:"bulk"`
	Image         ImageConfig         `koanf:"image"`
	Store         StoreConfig         `koanf:"store"`
	Backend       BackendConfig       `koanf:"backend"`
	Observability ObservabilityConfig `koanf:"observability"`
	Search        SearchConfig        `koanf:"search"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Pretty bool   `koanf:"pretty"`
}

type ScanConfig struct {
	MaxGap      time.Duration `koanf:"max_gap" validate:"gt=0"`
	IdleTimeout time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	MinLength   int           `koanf:"min_length" validate:"gte=1"`
}

type BulkConfig struct {
	Concurrency  int    `koanf:"concurrency" validate:"gte=1,lte=256"`
	ExportFormat string `koanf:"export_format" validate:"oneof=csv spreadsheet"`
	ExportBOM    bool   `koanf:"export_bom"`
}

type ImageConfig struct {
	MaxBytes      int64    `koanf:"max_bytes" validate:"gt=0"`
	AcceptedTypes []string `koanf:"accepted_types" validate:"min=1,dive,required"`
}

type StoreConfig struct {
	Path         string        `koanf:"path" validate:"required"`
	BusyTimeout  time.Duration `koanf:"busy_timeout" validate:"gte=0"`
	MaxOpenConns int           `koanf:"max_open_conns" validate:"gte=0"`
}

// BackendConfig covers both the served port and the client side of the remote store.
// An empty Address keeps the engine on the local SQLite store.
type BackendConfig struct {
	Address         string        `koanf:"address"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	MaxRetries      uint64        `koanf:"max_retries" validate:"lte=20"`
	BaseBackoff     time.Duration `koanf:"base_backoff" validate:"gt=0"`
	CallTimeout     time.Duration `koanf:"call_timeout" validate:"gt=0"`
	MaxMessageBytes int           `koanf:"max_message_bytes" validate:"gt=0"`
}

// ObservabilityConfig controls the metrics/health/pprof listener; port 0 disables it
type ObservabilityConfig struct {
	MetricsPort int `koanf:"metrics_port" validate:"gte=0,lte=65535"`
}

type SearchConfig struct {
	Debounce        time.Duration `koanf:"debounce" validate:"gte=0"`
	MaxWait         time.Duration `koanf:"max_wait" validate:"gte=0"`
	CacheSize       int           `koanf:"cache_size" validate:"gte=1"`
	SecondaryFields []string      `koanf:"secondary_fields" validate:"dive,oneof=code name supplier manufacturer barcode description"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Scan: ScanConfig{
			MaxGap:      50 * time.Millisecond,
			IdleTimeout: 500 * time.Millisecond,
			MinLength:   3,
		},
		Bulk: BulkConfig{Concurrency: 8, ExportFormat: "csv"},
		Image: ImageConfig{
			MaxBytes:      5 << 20,
			AcceptedTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		},
		Store: StoreConfig{
			Path:        "catalogops.db",
			BusyTimeout: 5 * time.Second,
		},
		Backend: BackendConfig{
			Port:            50051,
			MaxRetries:      3,
			BaseBackoff:     100 * time.Millisecond,
			CallTimeout:     10 * time.Second,
			MaxMessageBytes: 64 << 20,
		},
		Observability: ObservabilityConfig{MetricsPort: 0},
		Search: SearchConfig{
			Debounce:        150 * time.Millisecond,
			MaxWait:         time.Second,
			CacheSize:       1,
			SecondaryFields: []string{"supplier", "manufacturer", "barcode"},
		},
	}
}

// Load layers defaults, environment and overrides (dotted koanf keys such as
// "store.path") and validates the result
func Load(overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return transformEnvKey(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Search.MaxWait > 0 && c.Search.MaxWait < c.Search.Debounce {
		return errors.New("search max_wait must not be shorter than debounce")
	}
	if c.Observability.MetricsPort != 0 && c.Observability.MetricsPort == c.Backend.Port {
		return errors.New("metrics port must differ from backend port")
	}
	return nil
}

// transformEnvKey maps STORE_BUSY_TIMEOUT to store.busy_timeout
func transformEnvKey(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '_'
	})
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return parts[0] + "." + strings.Join(parts[1:], "_")
}
