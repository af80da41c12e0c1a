package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(map[string]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q, want :8080", cfg.HTTPAddr)
	}
	if !cfg.MetricsEnabled {
		t.Fatal("expected metrics enabled by default")
	}
	if cfg.IngestWindowMax != 60 {
		t.Fatalf("ingest window max = %d, want 60", cfg.IngestWindowMax)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := Load(map[string]string{
		"HTTP_ADDR":         ":9090",
		"METRICS_ENABLED":   "0",
		"INGEST_TOKEN":      "secret",
		"INGEST_WINDOW_MAX": "120",
		"SCOPE_DIRS":        "a,b,c",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("http addr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.MetricsEnabled {
		t.Fatal("expected metrics disabled")
	}
	if cfg.IngestToken != "secret" {
		t.Fatalf("ingest token = %q, want secret", cfg.IngestToken)
	}
	if cfg.IngestWindowMax != 120 {
		t.Fatalf("ingest window max = %d, want 120", cfg.IngestWindowMax)
	}
	if len(cfg.ScopeDirs) != 3 {
		t.Fatalf("scope dirs = %v, want 3 entries", cfg.ScopeDirs)
	}
}

func TestLoad_InvalidWindow(t *testing.T) {
	// INGEST_WINDOW_MS <= 0 is ignored by applyEnv (kept at the valid
	// default), so Load should still succeed.
	cfg, err := Load(map[string]string{"INGEST_WINDOW_MS": "-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IngestWindow <= 0 {
		t.Fatal("expected a positive default ingest window")
	}
}
