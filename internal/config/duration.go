package config

import (
	"fmt"
	"strings"
	"time"
)

// Never is the configuration spelling of a disabled interval.
const Never = "never"

// Duration is a time.Duration written as a Go duration string ("5s",
// "250ms"). The word "never" stands for a negative duration.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// IsNever reports whether the duration means "never".
func (d Duration) IsNever() bool { return d < 0 }

// String returns the duration in configuration syntax.
func (d Duration) String() string {
	if d.IsNever() {
		return Never
	}
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler for YAML and JSON.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML and JSON.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDuration parses a Go duration string or "never".
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, Never) {
		return Duration(-1), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}
