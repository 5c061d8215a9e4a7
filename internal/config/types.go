package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from "30s" style strings. A bare
// integer is read as seconds, which is what most env var users expect.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.Atoi(s)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Or returns d, or def when d is not positive.
func (d Duration) Or(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

// Secret holds an API key or password. Every fmt verb and every encoder
// sees a placeholder; only Value exposes the content.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) placeholder() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) String() string { return s.placeholder() }

// Format keeps %x, %q and %#v from leaking the value.
func (s Secret) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('#') {
		fmt.Fprint(f, "config.Secret("+redacted+")")
		return
	}
	if verb == 'q' {
		fmt.Fprint(f, strconv.Quote(s.placeholder()))
		return
	}
	fmt.Fprint(f, s.placeholder())
}

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.placeholder()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.placeholder()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}
