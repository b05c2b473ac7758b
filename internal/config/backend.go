package config

// Settings persists non-secret keys as strings. Parsing and validation live in
// the key table, so every platform store follows the same rules.
//
// macOS keeps settings in UserDefaults (via the `defaults` CLI), other
// platforms in an XDG config file.
type Settings interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	// Delete removes key. Removing a missing key is not an error.
	Delete(key string) error
	// Location describes where the settings are kept.
	Location() string
}
