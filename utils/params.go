package utils

import (
	"fmt"
	"strconv"
	"time"
)

const MaxQueryLimit = 1000

// ParseLimit reads a limit query parameter. Empty, non-numeric or non-positive
// values fall back to def; anything above MaxQueryLimit is clamped.
func ParseLimit(s string, def int) int {
	if s == "" {
		return def
	}
	val, err := strconv.Atoi(s)
	if err != nil || val <= 0 {
		return def
	}
	if val > MaxQueryLimit {
		return MaxQueryLimit
	}
	return val
}

// ParseTimeParam parses an optional RFC3339 query parameter.
// An empty value returns the zero time and no error.
func ParseTimeParam(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s time format (use RFC3339)", name)
	}
	return t.UTC(), nil
}
