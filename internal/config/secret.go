package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
)

// Secret decodes a TOML string value that may carry a "file:<path>" or
// "env:<NAME>" prefix, used for password-shaped config fields so operators
// never have to write a credential directly into the config file.
type Secret string

// UnmarshalText implements encoding.TextUnmarshaler, resolving the
// file:/env: prefix at decode time.
func (s *Secret) UnmarshalText(text []byte) error {
	resolved, err := ResolveSecret(string(text))
	if err != nil {
		return err
	}
	*s = Secret(resolved)
	return nil
}

// ResolveSecret applies the file:/env: prefix convention to a raw config
// string. A value with neither prefix is returned unchanged.
func ResolveSecret(raw string) (string, error) {
	if path, ok := strings.CutPrefix(raw, "file:"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &apperr.ConfigError{Field: "file:" + path, Err: err}
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}
	if name, ok := strings.CutPrefix(raw, "env:"); ok {
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", &apperr.ConfigError{Field: "env:" + name, Err: fmt.Errorf("environment variable %q not set", name)}
		}
		return value, nil
	}
	return raw, nil
}
