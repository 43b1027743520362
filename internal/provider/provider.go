// Package provider builds value sources for GATT characteristics.
//
// Every provider honours the context it is called with; the tree bounds each read with
// its own timeout, so a provider must never block past ctx.
package provider

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/srg/gattd/internal/gatt"
)

// Static returns the same bytes on every read.
func Static(b []byte) gatt.ValueProvider {
	value := append([]byte(nil), b...)
	return func(context.Context) ([]byte, error) {
		return append([]byte(nil), value...), nil
	}
}

// Text returns s as UTF-8 bytes.
func Text(s string) gatt.ValueProvider {
	return Static([]byte(s))
}

// Hex decodes s once and returns the bytes on every read. Spaces, colons and a 0x
// prefix are accepted: "0x01 02:03" decodes to {1, 2, 3}.
func Hex(s string) (gatt.ValueProvider, error) {
	b, err := ParseHex(s)
	if err != nil {
		return nil, err
	}
	return Static(b), nil
}

// ParseHex decodes a loosely formatted hex string.
func ParseHex(s string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	clean = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(clean)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return b, nil
}
