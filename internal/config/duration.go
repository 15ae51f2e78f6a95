package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errNegativeDuration = errors.New("must be >= 0")

// DurationError names the config key whose value failed to parse.
type DurationError struct {
	Key string
	Raw string
	Err error
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %q: %v", e.Key, e.Raw, e.Err)
}

func (e *DurationError) Unwrap() error { return e.Err }

// ParseDurationField parses an optional, non-negative Go duration string
// stored under key. Empty means 0.
func ParseDurationField(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, &DurationError{Key: key, Raw: raw, Err: err}
	case d < 0:
		return 0, &DurationError{Key: key, Raw: raw, Err: errNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
