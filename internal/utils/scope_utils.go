package utils

import "strings"

func SplitScopes(scopes string) []string {
	if scopes == "" {
		return []string{}
	}
	parts := strings.Split(scopes, " ")
	result := []string{}
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopesSubset reports whether every requested scope appears in allowed.
func ScopesSubset(requested []string, allowed []string) bool {
	for _, scope := range requested {
		if !ContainsScope(allowed, scope) {
			return false
		}
	}
	return true
}

// IntersectScopes returns the requested scopes that are also allowed,
// preserving request order.
func IntersectScopes(requested []string, allowed []string) []string {
	result := []string{}
	for _, scope := range requested {
		if ContainsScope(allowed, scope) {
			result = append(result, scope)
		}
	}
	return result
}
