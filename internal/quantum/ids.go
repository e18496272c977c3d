package quantum

import (
	"fmt"
	"strings"
)

// ValidateNodeID accepts lowercase letters and digits joined by single
// '.', '-' or '_' separators, with no separator at either end.
func ValidateNodeID(id string) error {
	if !isValidID(strings.TrimSpace(id)) || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	return nil
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if isSep && (i == 0 || i == len(id)-1 || lastSep) {
			return false
		}
		lastSep = isSep
	}
	return true
}

// NormalizeNodeID lowercases and maps disallowed runs to '_' so peer names
// like "Lab Bridge" become "lab_bridge".
func NormalizeNodeID(raw string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSep = false
		case r == '.' || r == '-' || r == '_':
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		default:
			if !lastSep {
				b.WriteByte('_')
				lastSep = true
			}
		}
	}
	return strings.TrimRight(b.String(), "._-")
}
