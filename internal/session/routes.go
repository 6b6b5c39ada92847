package session

import "strings"

// DefaultPublicRoutes are the path prefixes that never need an authenticated session.
var DefaultPublicRoutes = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
	"/booking",
	"/public",
}

// IsPublicRoute reports whether path falls under one of the prefixes.
// A prefix matches itself and anything below it, so "/login" matches
// "/login" and "/login/callback" but not "/loginx".
func IsPublicRoute(path string, prefixes []string) bool {
	if path == "" {
		return false
	}

	// drop query and fragment
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	for _, prefix := range prefixes {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}

	return false
}
