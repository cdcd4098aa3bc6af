package bluez

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// bluetoothBaseSuffix is the tail of the Bluetooth SIG base UUID.
const bluetoothBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the canonical lowercase 128-bit form BlueZ reports.
// 16- and 32-bit short forms (optionally "0x"-prefixed) are expanded onto the
// Bluetooth base UUID. It returns "" for anything that is not a UUID.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseSuffix
	case 8:
		s += bluetoothBaseSuffix
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	return u.String()
}

// ShortUUID returns the 16-bit form of a UUID built on the Bluetooth base
// UUID ("180f"), or the canonical 128-bit form otherwise.
func ShortUUID(s string) string {
	n := NormalizeUUID(s)
	if strings.HasPrefix(n, "0000") && strings.HasSuffix(n, bluetoothBaseSuffix) {
		return n[4:8]
	}
	return n
}

// EqualUUID compares two UUIDs in any supported notation.
func EqualUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ValidateUUID normalizes every input and fails on the first malformed one.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if u == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(u)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, u)
		}
		result = append(result, normalized)
	}
	return result, nil
}
