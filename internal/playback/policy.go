package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedAdvance is returned for an advance value that is not an integer.
var ErrMalformedAdvance = errors.New("playback: malformed advance value")

// Mode is what happens when a unit's audio ends.
type Mode int

const (
	// ModeNone leaves navigation to the user.
	ModeNone Mode = iota
	// ModeImmediate advances as soon as the audio ends.
	ModeImmediate
	// ModeDelay advances after Policy.Delay.
	ModeDelay
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeDelay:
		return "delay"
	default:
		return "none"
	}
}

// Policy is the resolved advance behavior of a unit.
type Policy struct {
	Mode  Mode
	Delay time.Duration
}

// ParsePolicy parses an advance value in milliseconds: 0 advances
// immediately, a positive value after that many milliseconds and a negative
// value never.
func ParsePolicy(raw string) (Policy, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q", ErrMalformedAdvance, raw)
	}
	switch {
	case ms == 0:
		return Policy{Mode: ModeImmediate}, nil
	case ms > 0:
		return Policy{Mode: ModeDelay, Delay: time.Duration(ms) * time.Millisecond}, nil
	default:
		return Policy{Mode: ModeNone}, nil
	}
}

// ResolvePolicy returns the policy of the first non-empty override, most
// specific first, else def. A malformed override is logged and yields
// ModeNone.
func ResolvePolicy(logger *slog.Logger, def Policy, overrides ...string) Policy {
	for _, raw := range overrides {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := ParsePolicy(raw)
		if err != nil {
			logger.Warn("ignoring advance override",
				slog.String("value", raw),
				slog.String("error", err.Error()),
			)
			return Policy{Mode: ModeNone}
		}
		return p
	}
	return def
}
