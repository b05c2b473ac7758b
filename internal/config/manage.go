package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns the non-secret key/value pairs of cfg.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SettingsLocation describes where SetKey and UnsetKey write.
func SettingsLocation() string {
	return newPlatformSettings().Location()
}

// SetKey validates value against key's type and rules and stores it in the
// platform settings. Invalid values are rejected rather than stored, so a
// later Load never has to fall back.
func SetKey(key, value string) error {
	return setKey(newPlatformSettings(), key, value)
}

// UnsetKey removes key from the platform settings, restoring its default.
func UnsetKey(key string) error {
	return unsetKey(newPlatformSettings(), key)
}

func setKey(st Settings, key, value string) error {
	s, err := settableKey(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return err
	}
	return st.Set(key, formatValue(v))
}

func unsetKey(st Settings, key string) error {
	if _, err := settableKey(key); err != nil {
		return err
	}
	return st.Delete(key)
}

func settableKey(key string) (keySpec, error) {
	s, ok := lookupKey(key)
	if !ok {
		return keySpec{}, fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
	}
	return s, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	}
	return fmt.Sprint(v)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
