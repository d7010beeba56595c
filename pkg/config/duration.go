package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTimeout is used whenever a policy document omits a service
// timeout.
const DefaultTimeout = 20 * time.Millisecond

// Duration is a time.Duration that marshals/unmarshals using the same
// "<sign><digits>[.<digits>]<unit>..." grammar as the standard library's
// time.ParseDuration (h, m, s, ms, us/µs, ns), with an empty string
// defaulting to DefaultTimeout rather than being a parse error.
type Duration time.Duration

// ParseDuration parses s, defaulting to DefaultTimeout when s is empty.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return Duration(DefaultTimeout), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	return Duration(d), nil
}

// AsTime returns the equivalent time.Duration.
func (d Duration) AsTime() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler, used by the config
// loader's mapstructure decode hook to parse duration fields from either
// YAML scalars or WASM_SHIM_-prefixed environment variable overrides.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalJSON renders the canonical Go duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a JSON string in time.ParseDuration grammar
// or a bare number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("config: duration must be a string or number of nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}
