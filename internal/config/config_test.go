package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// mapSettings is an in-memory Settings store.
type mapSettings struct {
	data map[string]string
}

func newMapSettings(kv map[string]string) *mapSettings {
	if kv == nil {
		kv = map[string]string{}
	}
	return &mapSettings{data: kv}
}

func (m *mapSettings) Get(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapSettings) Set(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mapSettings) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func (m *mapSettings) Location() string { return "memory" }

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("DATABASE_URL", "")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapSettings(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Storage.DatabaseName != "lecturelens" {
		t.Errorf("Storage.DatabaseName = %q, want lecturelens", cfg.Storage.DatabaseName)
	}
	if cfg.Storage.DatabaseURL != "" {
		t.Errorf("Storage.DatabaseURL = %q, want empty", cfg.Storage.DatabaseURL)
	}
	if cfg.Storage.BreakerThreshold != 3 {
		t.Errorf("Storage.BreakerThreshold = %d, want 3", cfg.Storage.BreakerThreshold)
	}
	if got := cfg.Storage.RemoteTimeoutDuration(); got != 5*time.Second {
		t.Errorf("RemoteTimeoutDuration = %v, want 5s", got)
	}
	if got := cfg.Storage.LocalTimeoutDuration(); got != 2*time.Second {
		t.Errorf("LocalTimeoutDuration = %v, want 2s", got)
	}
	if cfg.Blob.Backend != BlobAuto {
		t.Errorf("Blob.Backend = %q, want %q", cfg.Blob.Backend, BlobAuto)
	}
	if cfg.Insights.Enabled {
		t.Error("Insights.Enabled = true, want false")
	}
	if cfg.Insights.OllamaURL != "http://localhost:11434" {
		t.Errorf("Insights.OllamaURL = %q", cfg.Insights.OllamaURL)
	}
	if !strings.Contains(cfg.Storage.DataDir, "lecturelens") {
		t.Errorf("Storage.DataDir = %q, want it to contain lecturelens", cfg.Storage.DataDir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMapSettings(map[string]string{
		"server.port":               "5000",
		"storage.data_dir":          "/tmp/lecturelens-test",
		"storage.remote_timeout":    "750ms",
		"storage.breaker_threshold": "5",
		"blob.backend":              "s3",
		"blob.s3_bucket":            "lectures",
		"insights.enabled":          "true",
		"insights.model":            "qwen2.5",
	})
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/lecturelens-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if got := cfg.Storage.RemoteTimeoutDuration(); got != 750*time.Millisecond {
		t.Errorf("RemoteTimeoutDuration = %v, want 750ms", got)
	}
	if cfg.Storage.BreakerThreshold != 5 {
		t.Errorf("Storage.BreakerThreshold = %d, want 5", cfg.Storage.BreakerThreshold)
	}
	if cfg.Blob.Backend != BlobS3 || cfg.Blob.S3Bucket != "lectures" {
		t.Errorf("Blob = %+v", cfg.Blob)
	}
	if !cfg.Insights.Enabled || cfg.Insights.Model != "qwen2.5" {
		t.Errorf("Insights = %+v", cfg.Insights)
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	clearEnv(t)

	b := newMapSettings(map[string]string{
		"server.api_token":     "from-file",
		"storage.database_url": "mongodb://file",
	})
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.Server.APIToken)
	}
	if cfg.Storage.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.Storage.DatabaseURL)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("LECTURELENS_SERVER_PORT", "6000")
	t.Setenv("LECTURELENS_API_TOKEN", "secret")
	t.Setenv("LECTURELENS_DATABASE_URL", "mongodb://env:27017")
	t.Setenv("LECTURELENS_INSIGHTS_ENABLED", "1")

	b := newMapSettings(map[string]string{"server.port": "5000"})
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Server.APIToken != "secret" {
		t.Errorf("APIToken = %q, want secret", cfg.Server.APIToken)
	}
	if cfg.Storage.DatabaseURL != "mongodb://env:27017" {
		t.Errorf("DatabaseURL = %q", cfg.Storage.DatabaseURL)
	}
	if !cfg.Insights.Enabled {
		t.Error("Insights.Enabled = false, want true")
	}
}

func TestDatabaseURLFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "mongodb://plain:27017")

	cfg, err := loadWith(newMapSettings(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DatabaseURL != "mongodb://plain:27017" {
		t.Errorf("DatabaseURL = %q, want DATABASE_URL value", cfg.Storage.DatabaseURL)
	}

	t.Setenv("LECTURELENS_DATABASE_URL", "mongodb://prefixed:27017")
	cfg, err = loadWith(newMapSettings(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DatabaseURL != "mongodb://prefixed:27017" {
		t.Errorf("DatabaseURL = %q, want prefixed value to win", cfg.Storage.DatabaseURL)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("LECTURELENS_SERVER_PORT", "not-a-number")
	t.Setenv("LECTURELENS_INSIGHTS_ENABLED", "maybe")
	t.Setenv("LECTURELENS_BLOB_BACKEND", "floppy")
	t.Setenv("LECTURELENS_BREAKER_THRESHOLD", "0")
	t.Setenv("LECTURELENS_REMOTE_TIMEOUT", "soon")
	t.Setenv("LECTURELENS_LOCAL_TIMEOUT", "-1s")

	cfg, err := loadWith(newMapSettings(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
	if cfg.Insights.Enabled {
		t.Error("Insights.Enabled = true, want default false")
	}
	if cfg.Blob.Backend != BlobAuto {
		t.Errorf("Blob.Backend = %q, want auto", cfg.Blob.Backend)
	}
	if cfg.Storage.BreakerThreshold != 3 {
		t.Errorf("BreakerThreshold = %d, want 3", cfg.Storage.BreakerThreshold)
	}
	if got := cfg.Storage.RemoteTimeoutDuration(); got != 5*time.Second {
		t.Errorf("RemoteTimeoutDuration = %v, want 5s", got)
	}
	if got := cfg.Storage.LocalTimeoutDuration(); got != 2*time.Second {
		t.Errorf("LocalTimeoutDuration = %v, want 2s", got)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "hidden"
	cfg.Storage.DatabaseURL = "mongodb://hidden"

	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Errorf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	for _, k := range infos {
		if k.Key == "server.api_token" || k.Key == "storage.database_url" {
			t.Errorf("secret key %q listed", k.Key)
		}
		if strings.Contains(k.Value, "hidden") {
			t.Errorf("secret value leaked via %q", k.Key)
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "server.api_token" || k == "storage.database_url" {
			t.Errorf("ValidKeys contains secret %q", k)
		}
	}
}

func TestStoredInvalidValuesIgnored(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMapSettings(map[string]string{
		"server.port":            "70000",
		"storage.remote_timeout": "0s",
		"log.level":              "loud",
		"insights.ollama_url":    "localhost:11434",
		"storage.database_name":  "courses",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 || cfg.Storage.RemoteTimeout != "5s" || cfg.Log.Level != "info" {
		t.Errorf("invalid stored values applied: %+v %+v %+v", cfg.Server, cfg.Storage, cfg.Log)
	}
	if cfg.Insights.OllamaURL != "http://localhost:11434" {
		t.Errorf("OllamaURL = %q, want default", cfg.Insights.OllamaURL)
	}
	if cfg.Storage.DatabaseName != "courses" {
		t.Errorf("valid value next to invalid ones was dropped: %q", cfg.Storage.DatabaseName)
	}
}

type failingSettings struct{ *mapSettings }

func (failingSettings) Get(string) (string, bool, error) {
	return "", false, errors.New("permission denied")
}

func TestUnreadableSettingsFailLoad(t *testing.T) {
	clearEnv(t)
	if _, err := loadWith(failingSettings{newMapSettings(nil)}); err == nil {
		t.Error("expected an error for an unreadable settings store")
	}
}

func TestSetKeyValidates(t *testing.T) {
	tests := []struct {
		key, value string
		stored     string // empty means rejected
	}{
		{"storage.remote_timeout", "750ms", "750ms"},
		{"storage.remote_timeout", " 1m30s ", "1m30s"},
		{"storage.remote_timeout", "soon", ""},
		{"storage.local_timeout", "-2s", ""},
		{"storage.local_timeout", "0", ""},
		{"storage.breaker_threshold", "5", "5"},
		{"storage.breaker_threshold", "0", ""},
		{"storage.breaker_threshold", "2.5", ""},
		{"server.port", "8080", "8080"},
		{"server.port", "65536", ""},
		{"blob.backend", "s3", "s3"},
		{"blob.backend", "floppy", ""},
		{"blob.s3_endpoint", "", ""},
		{"blob.s3_endpoint", "http://minio:9000", "http://minio:9000"},
		{"blob.s3_endpoint", "minio:9000", ""},
		{"insights.enabled", "1", "true"},
		{"insights.enabled", "maybe", ""},
		{"insights.model", "", ""},
		{"log.level", "debug", "debug"},
		{"log.level", "trace", ""},
	}
	for _, tt := range tests {
		st := newMapSettings(nil)
		err := setKey(st, tt.key, tt.value)
		got, ok := st.data[tt.key]
		switch {
		case tt.key == "blob.s3_endpoint" && tt.value == "":
			if err != nil || !ok || got != "" {
				t.Errorf("set %s=%q: err=%v stored=%q,%v; want empty value stored", tt.key, tt.value, err, got, ok)
			}
		case tt.stored == "":
			if err == nil || ok {
				t.Errorf("set %s=%q: err=%v stored=%q; want rejection", tt.key, tt.value, err, got)
			}
		default:
			if err != nil || got != tt.stored {
				t.Errorf("set %s=%q: err=%v stored=%q; want %q", tt.key, tt.value, err, got, tt.stored)
			}
		}
	}
}

func TestSetKeyRejectsSecretsAndUnknownKeys(t *testing.T) {
	st := newMapSettings(nil)
	if err := setKey(st, "server.api_token", "abc"); err == nil || !strings.Contains(err.Error(), "LECTURELENS_API_TOKEN") {
		t.Errorf("secret: err = %v", err)
	}
	if err := setKey(st, "storage.nope", "1"); err == nil || !strings.Contains(err.Error(), "storage.remote_timeout") {
		t.Errorf("unknown: err = %v, want the valid keys listed", err)
	}
	if err := unsetKey(st, "storage.database_url"); err == nil {
		t.Error("unset of a secret should fail")
	}
	if len(st.data) != 0 {
		t.Errorf("data = %v, want nothing stored", st.data)
	}
}

func TestUnsetKeyRestoresDefault(t *testing.T) {
	clearEnv(t)
	st := newMapSettings(nil)
	if err := setKey(st, "storage.remote_timeout", "750ms"); err != nil {
		t.Fatal(err)
	}
	cfg, _ := loadWith(st)
	if got := cfg.Storage.RemoteTimeoutDuration(); got != 750*time.Millisecond {
		t.Fatalf("RemoteTimeoutDuration = %v, want 750ms", got)
	}

	if err := unsetKey(st, "storage.remote_timeout"); err != nil {
		t.Fatal(err)
	}
	if err := unsetKey(st, "storage.remote_timeout"); err != nil {
		t.Errorf("second unset: %v", err)
	}
	cfg, _ = loadWith(st)
	if got := cfg.Storage.RemoteTimeoutDuration(); got != 5*time.Second {
		t.Errorf("RemoteTimeoutDuration = %v, want default 5s", got)
	}
}
