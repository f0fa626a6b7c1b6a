package approval

import (
	"fmt"
	"strings"
)

// Mode represents how eagerly permissions are granted without a human.
type Mode int

const (
	// ModeAsk routes every permission through human resolution. This is
	// the safest mode and the default.
	ModeAsk Mode = iota

	// ModeAuto grants workspace writes immediately; shell and network
	// permissions still wait for a human.
	ModeAuto

	// ModeYolo grants everything immediately. Use with caution.
	ModeYolo
)

// Permission kinds recognized by the policy. Unknown kinds always require
// a human.
const (
	KindWrite   = "write"
	KindShell   = "shell"
	KindNetwork = "network"
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAsk:
		return "ask"
	case ModeAuto:
		return "auto"
	case ModeYolo:
		return "yolo"
	default:
		return "unknown"
	}
}

// ParseMode converts a string to an approval mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ask", "manual", "":
		return ModeAsk, nil
	case "auto", "automatic":
		return ModeAuto, nil
	case "yolo":
		return ModeYolo, nil
	default:
		return ModeAsk, fmt.Errorf("unknown approval mode: %q", s)
	}
}

// AutoApproves reports whether a permission of the given kind can be
// granted without waiting for a human.
func (m Mode) AutoApproves(kind string) bool {
	switch m {
	case ModeYolo:
		return true
	case ModeAuto:
		return kind == KindWrite
	default:
		return false
	}
}
