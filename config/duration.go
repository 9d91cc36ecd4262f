package config

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Duration is time.Duration that is configured as "30s" string,
// or as a number of seconds
type Duration time.Duration

// Seconds returns Duration of n seconds
func Seconds(n int) Duration {
	return Duration(time.Duration(n) * time.Second)
}

// Duration returns time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration format
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.WithStack(err)
	}
	return d.set(v)
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return errors.WithStack(err)
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case nil:
		*d = 0
	case int:
		*d = Seconds(val)
	case float64:
		*d = Duration(val * float64(time.Second))
	case string:
		td, err := time.ParseDuration(val)
		if err != nil {
			return errors.Errorf("invalid duration: %q", val)
		}
		*d = Duration(td)
	default:
		return errors.Errorf("invalid duration: %v", v)
	}
	return nil
}
