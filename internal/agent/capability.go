package agent

import (
	"fmt"
	"strings"
)

// Capability is the IO capability announced to BlueZ on RegisterAgent.
type Capability string

const (
	NoInputNoOutput Capability = "NoInputNoOutput"
	DisplayOnly     Capability = "DisplayOnly"
	DisplayYesNo    Capability = "DisplayYesNo"
	KeyboardOnly    Capability = "KeyboardOnly"
	KeyboardDisplay Capability = "KeyboardDisplay"
)

var capabilities = []Capability{NoInputNoOutput, DisplayOnly, DisplayYesNo, KeyboardOnly, KeyboardDisplay}

// ParseCapability accepts a capability name case-insensitively. Empty means NoInputNoOutput.
func ParseCapability(s string) (Capability, error) {
	if s == "" {
		return NoInputNoOutput, nil
	}
	for _, c := range capabilities {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
}

func (c Capability) String() string { return string(c) }
