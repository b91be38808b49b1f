package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsLoad(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Scan.MaxGap != 50*time.Millisecond {
		t.Errorf("Expected 50ms max gap, got %v", cfg.Scan.MaxGap)
	}
	if cfg.Image.MaxBytes != 5<<20 {
		t.Errorf("Expected 5MB image limit, got %d", cfg.Image.MaxBytes)
	}
	if len(cfg.Search.SecondaryFields) != 3 {
		t.Errorf("Expected 3 secondary fields, got %v", cfg.Search.SecondaryFields)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CATALOGOPS_SCAN_MAX_GAP", "80ms")
	t.Setenv("CATALOGOPS_BULK_CONCURRENCY", "3")
	t.Setenv("CATALOGOPS_IMAGE_ACCEPTED_TYPES", "image/png,image/gif")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Scan.MaxGap != 80*time.Millisecond {
		t.Errorf("Expected 80ms from env, got %v", cfg.Scan.MaxGap)
	}
	if cfg.Bulk.Concurrency != 3 {
		t.Errorf("Expected concurrency 3, got %d", cfg.Bulk.Concurrency)
	}
	if len(cfg.Image.AcceptedTypes) != 2 || cfg.Image.AcceptedTypes[1] != "image/gif" {
		t.Errorf("Expected two accepted types, got %v", cfg.Image.AcceptedTypes)
	}
}

func TestOverridesBeatEnvironment(t *testing.T) {
	t.Setenv("CATALOGOPS_STORE_PATH", "from-env.db")

	cfg, err := Load(map[string]any{"store.path": "from-flag.db", "log.level": "debug"})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Store.Path != "from-flag.db" {
		t.Errorf("Expected flag override, got %s", cfg.Store.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Log.Level)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		want      string
	}{
		{"bad level", map[string]any{"log.level": "loud"}, "Level"},
		{"bad export format", map[string]any{"bulk.export_format": "pdf"}, "ExportFormat"},
		{"zero concurrency", map[string]any{"bulk.concurrency": 0}, "Concurrency"},
		{"unknown search field", map[string]any{"search.secondary_fields": []string{"color"}}, "SecondaryFields"},
		{"port clash", map[string]any{"observability.metrics_port": 50051}, "metrics port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.overrides)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTransformEnvKey(t *testing.T) {
	tests := map[string]string{
		"STORE_BUSY_TIMEOUT": "store.busy_timeout",
		"LOG_LEVEL":          "log.level",
		"SEARCH__CACHE_SIZE": "search.cache_size",
		"":                   "",
	}
	for in, want := range tests {
		if got := transformEnvKey(in); got != want {
			t.Errorf("transformEnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}
