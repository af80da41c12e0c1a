// Package config assembles the engine's immutable runtime configuration
// from environment variables, with an optional TOML file supplying
// defaults that the environment then overrides: a single config struct
// built once at startup rather than threading flags through every
// layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of knobs the engine reads at startup. It is
// built once by Load and passed by value from then on.
type Config struct {
	HTTPAddr        string
	MetricsEnabled  bool
	WriteTelemetry  bool
	IngestToken     string
	IngestWindow    time.Duration
	IngestWindowMax int
	IngestMaxBytes  int64
	BlueprintPath   string
	LOsPath         string
	ScopeDirs       []string
	EventsPath      string
	AnalyticsOutPath string
	StudyStateDir   string
	UseTableMirror  bool
	MirrorDSN       string
	EngineVersion   string
	SchemaVersion   string
}

// fileDefaults is the subset of Config a TOML file may override before
// the environment has the final word.
type fileDefaults struct {
	HTTPAddr         string   `toml:"http_addr"`
	MetricsEnabled   *bool    `toml:"metrics_enabled"`
	WriteTelemetry   *bool    `toml:"write_telemetry"`
	IngestToken      string   `toml:"ingest_token"`
	IngestWindowMs   int      `toml:"ingest_window_ms"`
	IngestWindowMax  int      `toml:"ingest_window_max"`
	IngestMaxBytes   int64    `toml:"ingest_max_bytes"`
	BlueprintPath    string   `toml:"blueprint_path"`
	LOsPath          string   `toml:"los_path"`
	ScopeDirs        []string `toml:"scope_dirs"`
	EventsPath       string   `toml:"events_path"`
	AnalyticsOutPath string   `toml:"analytics_out_path"`
	StudyStateDir    string   `toml:"study_state_dir"`
	UseTableMirror   *bool    `toml:"use_table_mirror"`
	MirrorDSN        string   `toml:"mirror_dsn"`
	EngineVersion    string   `toml:"engine_version"`
	SchemaVersion    string   `toml:"schema_version"`
}

func defaults() Config {
	return Config{
		HTTPAddr:         ":8080",
		MetricsEnabled:   true,
		WriteTelemetry:   true,
		IngestToken:      "",
		IngestWindow:     60 * time.Second,
		IngestWindowMax:  60,
		IngestMaxBytes:   10 * 1024,
		BlueprintPath:    "config/blueprint.json",
		LOsPath:          "config/los.json",
		ScopeDirs:        []string{"content/banks"},
		EventsPath:       "data/events.ndjson",
		AnalyticsOutPath: "data/analytics/latest.json",
		StudyStateDir:    "data/learners",
		UseTableMirror:   false,
		MirrorDSN:        "data/mirror.db",
		EngineVersion:    "1.0.0",
		SchemaVersion:    "1.1.0",
	}
}

// Load builds the Config: start from hardcoded defaults, apply an
// optional TOML file named by CONFIG_FILE (if present), then let every
// matching environment variable in environ win.
func Load(environ map[string]string) (Config, error) {
	cfg := defaults()

	if path := environ["CONFIG_FILE"]; path != "" {
		var fd fileDefaults
		if _, err := toml.DecodeFile(path, &fd); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		applyFileDefaults(&cfg, fd)
	}

	applyEnv(&cfg, environ)

	if cfg.IngestWindow <= 0 {
		return Config{}, fmt.Errorf("config: ingest window must be positive")
	}
	if cfg.IngestMaxBytes <= 0 {
		return Config{}, fmt.Errorf("config: ingest max bytes must be positive")
	}
	return cfg, nil
}

func applyFileDefaults(cfg *Config, fd fileDefaults) {
	if fd.HTTPAddr != "" {
		cfg.HTTPAddr = fd.HTTPAddr
	}
	if fd.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fd.MetricsEnabled
	}
	if fd.WriteTelemetry != nil {
		cfg.WriteTelemetry = *fd.WriteTelemetry
	}
	if fd.IngestToken != "" {
		cfg.IngestToken = fd.IngestToken
	}
	if fd.IngestWindowMs > 0 {
		cfg.IngestWindow = time.Duration(fd.IngestWindowMs) * time.Millisecond
	}
	if fd.IngestWindowMax > 0 {
		cfg.IngestWindowMax = fd.IngestWindowMax
	}
	if fd.IngestMaxBytes > 0 {
		cfg.IngestMaxBytes = fd.IngestMaxBytes
	}
	if fd.BlueprintPath != "" {
		cfg.BlueprintPath = fd.BlueprintPath
	}
	if fd.LOsPath != "" {
		cfg.LOsPath = fd.LOsPath
	}
	if len(fd.ScopeDirs) > 0 {
		cfg.ScopeDirs = fd.ScopeDirs
	}
	if fd.EventsPath != "" {
		cfg.EventsPath = fd.EventsPath
	}
	if fd.AnalyticsOutPath != "" {
		cfg.AnalyticsOutPath = fd.AnalyticsOutPath
	}
	if fd.StudyStateDir != "" {
		cfg.StudyStateDir = fd.StudyStateDir
	}
	if fd.UseTableMirror != nil {
		cfg.UseTableMirror = *fd.UseTableMirror
	}
	if fd.MirrorDSN != "" {
		cfg.MirrorDSN = fd.MirrorDSN
	}
	if fd.EngineVersion != "" {
		cfg.EngineVersion = fd.EngineVersion
	}
	if fd.SchemaVersion != "" {
		cfg.SchemaVersion = fd.SchemaVersion
	}
}

func applyEnv(cfg *Config, environ map[string]string) {
	if v, ok := environ["HTTP_ADDR"]; ok && v != "" {
		cfg.HTTPAddr = v
	}
	if v, ok := environ["METRICS_ENABLED"]; ok {
		cfg.MetricsEnabled = parseBool(v, cfg.MetricsEnabled)
	}
	if v, ok := environ["WRITE_TELEMETRY"]; ok {
		cfg.WriteTelemetry = parseBool(v, cfg.WriteTelemetry)
	}
	if v, ok := environ["INGEST_TOKEN"]; ok {
		cfg.IngestToken = v
	}
	if v, ok := environ["INGEST_WINDOW_MS"]; ok {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.IngestWindow = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := environ["INGEST_WINDOW_MAX"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.IngestWindowMax = n
		}
	}
	if v, ok := environ["INGEST_MAX_BYTES"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.IngestMaxBytes = n
		}
	}
	if v, ok := environ["BLUEPRINT_PATH"]; ok && v != "" {
		cfg.BlueprintPath = v
	}
	if v, ok := environ["LOS_PATH"]; ok && v != "" {
		cfg.LOsPath = v
	}
	if v, ok := environ["SCOPE_DIRS"]; ok && v != "" {
		cfg.ScopeDirs = strings.Split(v, ",")
	}
	if v, ok := environ["EVENTS_PATH"]; ok && v != "" {
		cfg.EventsPath = v
	}
	if v, ok := environ["ANALYTICS_OUT_PATH"]; ok && v != "" {
		cfg.AnalyticsOutPath = v
	}
	if v, ok := environ["STUDY_STATE_DIR"]; ok && v != "" {
		cfg.StudyStateDir = v
	}
	if v, ok := environ["USE_TABLE_MIRROR"]; ok {
		cfg.UseTableMirror = parseBool(v, cfg.UseTableMirror)
	}
	if v, ok := environ["MIRROR_DSN"]; ok && v != "" {
		cfg.MirrorDSN = v
	}
	if v, ok := environ["ENGINE_VERSION"]; ok && v != "" {
		cfg.EngineVersion = v
	}
	if v, ok := environ["SCHEMA_VERSION"]; ok && v != "" {
		cfg.SchemaVersion = v
	}
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// FromOSEnviron adapts os.Environ() into the map[string]string Load
// expects.
func FromOSEnviron() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}
