package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that decodes from "30s" style strings. JSON
// also accepts integer milliseconds. Negative values are rejected.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	return d.set(v, string(text))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms int64
	if json.Unmarshal(data, &ms) == nil {
		return d.set(time.Duration(ms)*time.Millisecond, string(data))
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d *Duration) set(v time.Duration, src string) error {
	if v < 0 {
		return fmt.Errorf("duration cannot be negative: %s", src)
	}
	*d = Duration(v)
	return nil
}

// redactedValue is what a set Secret prints as.
const redactedValue = "[REDACTED]"

// Secret holds a credential such as a provider API key. Every printing or
// encoding path yields redactedValue; only Value returns the secret.
type Secret string

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string { return s.masked() }

func (s Secret) GoString() string { return "config.Secret(" + redactedValue + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.masked()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.masked()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// UnmarshalJSON decodes the redacted placeholder as an empty secret.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == redactedValue {
		raw = ""
	}
	*s = Secret(raw)
	return nil
}

func (s Secret) masked() string {
	if s == "" {
		return ""
	}
	return redactedValue
}
