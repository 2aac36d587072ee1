// Package version implements the client/server version compatibility check.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Semver is a parsed major.minor.patch version.
type Semver struct {
	Major, Minor, Patch int
}

// Parse parses a "major.minor.patch" string. Missing or malformed
// components default to 0; callers distinguish "absent" via the caller's own
// empty-string check before calling Parse.
func Parse(s string) (Semver, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return Semver{}, fmt.Errorf("version: empty version string")
	}
	get := func(i int) int {
		if i >= len(parts) {
			return 0
		}
		n, _ := strconv.Atoi(parts[i])
		return n
	}
	return Semver{Major: get(0), Minor: get(1), Patch: get(2)}, nil
}

// Compatibility is the outcome of comparing a client version to the server's.
type Compatibility struct {
	// Warning is non-empty when the client should be told about a
	// version mismatch that doesn't block the connection.
	Warning string
	// Error is non-empty when the mismatch is severe enough to reject the
	// connection (a major version difference).
	Error string
}

// Check compares a client version against the server's.
func Check(clientVersion, serverVersion string) Compatibility {
	if strings.TrimSpace(clientVersion) == "" {
		return Compatibility{Warning: "no client version reported; compatibility cannot be verified"}
	}

	cv, err := Parse(clientVersion)
	if err != nil {
		return Compatibility{Warning: "could not parse client version " + clientVersion}
	}
	sv, err := Parse(serverVersion)
	if err != nil {
		return Compatibility{}
	}

	if cv == sv {
		return Compatibility{}
	}

	if cv.Major != sv.Major {
		if cv.Major < sv.Major {
			return Compatibility{Error: fmt.Sprintf("client version %s is too old for server %s; upgrade the client", clientVersion, serverVersion)}
		}
		return Compatibility{Error: fmt.Sprintf("server version %s is too old for client %s; upgrade the server", serverVersion, clientVersion)}
	}

	if cv.Minor != sv.Minor {
		if cv.Minor < sv.Minor {
			return Compatibility{Warning: fmt.Sprintf("client is missing v%d.%d features; consider upgrading", sv.Major, sv.Minor)}
		}
		return Compatibility{Warning: fmt.Sprintf("client is newer (%s) than server (%s); some features may not be recognized", clientVersion, serverVersion)}
	}

	return Compatibility{Warning: fmt.Sprintf("client patch version %s differs from server %s", clientVersion, serverVersion)}
}
