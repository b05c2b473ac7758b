package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	// kDuration values are kept as strings and must parse to a positive
	// time.Duration.
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	check   func(v any) error
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LECTURELENS_SERVER_PORT", check: between(1, 65535),
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "LECTURELENS_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LECTURELENS_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "LECTURELENS_DATABASE_URL",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "storage.database_name", typ: kString, env: "LECTURELENS_DATABASE_NAME", check: nonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseName = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseName },
	},
	{
		key: "storage.remote_timeout", typ: kDuration, env: "LECTURELENS_REMOTE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.RemoteTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RemoteTimeout },
	},
	{
		key: "storage.local_timeout", typ: kDuration, env: "LECTURELENS_LOCAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.LocalTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.LocalTimeout },
	},
	{
		key: "storage.breaker_threshold", typ: kInt, env: "LECTURELENS_BREAKER_THRESHOLD", check: between(1, 1000),
		apply:   func(cfg *Config, v any) { cfg.Storage.BreakerThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.BreakerThreshold },
	},
	{
		key: "blob.backend", typ: kString, env: "LECTURELENS_BLOB_BACKEND", check: oneOf(BlobAuto, BlobGridFS, BlobS3, BlobLocal),
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.s3_bucket", typ: kString, env: "LECTURELENS_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Bucket },
	},
	{
		key: "blob.s3_region", typ: kString, env: "LECTURELENS_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Region },
	},
	{
		key: "blob.s3_endpoint", typ: kString, env: "LECTURELENS_S3_ENDPOINT", check: optional(httpURL),
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Endpoint },
	},
	{
		key: "insights.enabled", typ: kBool, env: "LECTURELENS_INSIGHTS_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Insights.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Insights.Enabled },
	},
	{
		key: "insights.ollama_url", typ: kString, env: "LECTURELENS_OLLAMA_URL", check: httpURL,
		apply:   func(cfg *Config, v any) { cfg.Insights.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Insights.OllamaURL },
	},
	{
		key: "insights.model", typ: kString, env: "LECTURELENS_INSIGHTS_MODEL", check: nonEmpty,
		apply:   func(cfg *Config, v any) { cfg.Insights.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Insights.Model },
	},
	{
		key: "log.level", typ: kString, env: "LECTURELENS_LOG_LEVEL", check: oneOf("debug", "info", "warn", "error"),
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw to the key's type and runs its check. Durations come
// back in canonical form.
func (s keySpec) parse(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	var v any
	switch s.typ {
	case kString:
		v = raw
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer, got %q", s.key, raw)
		}
		v = i
	case kBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false, got %q", s.key, raw)
		}
		v = b
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 750ms or 5s, got %q", s.key, raw)
		}
		v = d.String()
	}
	if s.check != nil {
		if err := s.check(v); err != nil {
			return nil, fmt.Errorf("%s %w, got %q", s.key, err, raw)
		}
	}
	return v, nil
}

func lookupKey(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func between(lo, hi int) func(any) error {
	return func(v any) error {
		if i := v.(int); i < lo || i > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func oneOf(allowed ...string) func(any) error {
	return func(v any) error {
		if !slices.Contains(allowed, v.(string)) {
			return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

func nonEmpty(v any) error {
	if v.(string) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func httpURL(v any) error {
	u, err := url.Parse(v.(string))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an http(s) URL")
	}
	return nil
}

// optional lets the empty string through, meaning "use the default".
func optional(check func(any) error) func(any) error {
	return func(v any) error {
		if v.(string) == "" {
			return nil
		}
		return check(v)
	}
}

// applySettings copies stored values into cfg. Values that fail to parse are
// reported and skipped; an unreadable store is an error.
func applySettings(cfg *Config, st Settings) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := st.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s from %s: %v. Using default value.\n", s.key, st.Location(), err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring env var %s: %v. Using default value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
