package utils

import (
	"fmt"
	"strconv"
)

// ParsePlatform parses a platform identifier (0-255).
func ParsePlatform(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid platform id %q: %v", s, err)
	}
	return uint8(n), nil
}

// ParseTypeID parses a signed 32-bit type identifier.
func ParseTypeID(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid type id %q: %v", s, err)
	}
	return int32(n), nil
}
