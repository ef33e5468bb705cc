package jobs

import "strings"

// ParseRoute splits a path like /api/analysis/{id}/{action} into the session
// ID and the optional action. apiPrefix must include the trailing slash.
func ParseRoute(path, apiPrefix string) (id, action string, ok bool) {
	rest, found := strings.CutPrefix(path, apiPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	switch {
	case parts[0] == "":
		return "", "", false
	case len(parts) == 1:
		return NormalizeSessionID(parts[0]), "", true
	case len(parts) == 2:
		return NormalizeSessionID(parts[0]), parts[1], true
	}
	return "", "", false
}
