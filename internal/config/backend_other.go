//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
)

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "lecturelens-data"
		}
	}
	return filepath.Join(dir, "lecturelens")
}

// fileSettings keeps settings as a flat JSON object of strings at
// $XDG_CONFIG_HOME/lecturelens/config.json. Numbers and booleans written by
// hand are accepted and read back in their canonical string form.
type fileSettings struct {
	path string
	data map[string]any
}

func newPlatformSettings() Settings {
	return openFileSettings(configFilePath())
}

func openFileSettings(path string) *fileSettings {
	f := &fileSettings{path: path, data: make(map[string]any)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", path, err)
		}
		return f
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", path, err)
		f.data = make(map[string]any)
	}
	return f
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "lecturelens", "config.json")
}

func (f *fileSettings) Get(key string) (string, bool, error) {
	v, ok := f.data[key]
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	}
	return "", true, fmt.Errorf("%s in %s holds a %T, want a string", key, f.path, v)
}

func (f *fileSettings) Set(key, val string) error {
	f.data[key] = val
	return f.save()
}

func (f *fileSettings) Delete(key string) error {
	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.save()
}

func (f *fileSettings) Location() string { return f.path }

// save replaces the file through a rename so a crash never leaves it half
// written.
func (f *fileSettings) save() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config.json.*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", f.path, err)
	}
	return os.Rename(tmp.Name(), f.path)
}
