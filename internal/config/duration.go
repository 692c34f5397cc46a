package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration decodes TOML duration strings that accept a trailing "d" for
// days or "w" for weeks in addition to everything time.ParseDuration
// already understands ("24h", "5m", "30s"). time.ParseDuration has no
// native day or week unit, so a bare "<N>d" or "<N>w" is converted
// directly instead of delegating.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so go-toml/v2 can decode
// a bare TOML string directly into a Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseHumanDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ParseHumanDuration parses a duration string that may use a trailing "d"
// for days or "w" for weeks, e.g. "30d" or "1w", alongside anything
// time.ParseDuration accepts.
func ParseHumanDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}

	for _, unit := range []struct {
		suffix string
		size   time.Duration
	}{{"d", 24 * time.Hour}, {"w", 7 * 24 * time.Hour}} {
		if number, ok := splitUnitSuffix(raw, unit.suffix); ok {
			n, err := strconv.ParseFloat(number, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
			}
			return time.Duration(n * float64(unit.size)), nil
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// splitUnitSuffix reports whether raw is a bare "<number><suffix>" string,
// e.g. "30d" (not "2d12h", which time.ParseDuration also doesn't support
// and this config layer doesn't attempt to).
func splitUnitSuffix(raw, suffix string) (string, bool) {
	if !strings.HasSuffix(raw, suffix) {
		return "", false
	}
	number := strings.TrimSuffix(raw, suffix)
	if number == "" {
		return "", false
	}
	for _, r := range number {
		if (r < '0' || r > '9') && r != '.' {
			return "", false
		}
	}
	return number, true
}
