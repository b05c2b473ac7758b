//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.lecturelens.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "lecturelens")
	}
	return "lecturelens-data"
}

// defaultsSettings reads and writes the lecturelens UserDefaults domain.
type defaultsSettings struct {
	domain string
}

func newPlatformSettings() Settings {
	return &defaultsSettings{domain: defaultsDomain}
}

// missing reports whether err is the exit status `defaults` uses for an
// absent key.
func missing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (d *defaultsSettings) Get(key string) (string, bool, error) {
	out, err := exec.Command("defaults", "read", d.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if missing(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s %s: %w: %s", d.domain, key, err, s)
	}
	return s, true, nil
}

func (d *defaultsSettings) Set(key, val string) error {
	if out, err := exec.Command("defaults", "write", d.domain, key, "-string", val).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s %s: %w: %s", d.domain, key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *defaultsSettings) Delete(key string) error {
	if err := exec.Command("defaults", "delete", d.domain, key).Run(); err != nil && !missing(err) {
		return fmt.Errorf("defaults delete %s %s: %w", d.domain, key, err)
	}
	return nil
}

func (d *defaultsSettings) Location() string {
	return "UserDefaults domain " + d.domain
}
