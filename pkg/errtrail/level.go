package errtrail

import (
	"fmt"
	"strings"
)

// Level is the ordinal severity of an event.
// Levels compare numerically: LevelDebug < LevelInfo < ... < LevelFatal.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warning", "error", "fatal"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText implements encoding.TextMarshaler so levels serialize as their
// lowercase names in JSON and YAML.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	lvl, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}

// ParseLevel converts a level name to a Level. Matching is case-insensitive
// and accepts "warn" as an alias for "warning".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelError, fmt.Errorf("unknown level %q", s)
	}
}
