// Package utils provides small shared helpers used across the hub.
package utils

import (
	"strings"

	"github.com/agentmesh/internal/stringutils"
)

// IsValidDisplayName checks if an agent display name meets basic
// requirements: non-empty once trimmed, and not absurdly long.
func IsValidDisplayName(name string) bool {
	return !stringutils.IsEmpty(name) && len(strings.TrimSpace(name)) <= 64
}
