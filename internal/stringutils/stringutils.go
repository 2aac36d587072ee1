// Package stringutils provides utility functions for string manipulation.
package stringutils

import "strings"

// IsEmpty returns true if the string is empty or contains only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
