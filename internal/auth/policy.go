package auth

import (
	"net/http"
	"strings"
)

// routeRule maps a path (or path prefix) to the roles needed to read and
// to write it. Rules are matched in order; the first hit wins.
type routeRule struct {
	path     string
	prefix   bool
	contains string
	read     Role
	write    Role
}

var routeRules = []routeRule{
	{path: "/api/v1/calculations", read: RoleViewer, write: RoleOperator},
	{path: "/api/v1/pricing/versions", read: RoleViewer, write: RoleAdmin},
	{path: "/api/v1/pricing/resolve", read: RoleViewer, write: RoleViewer},
	{path: "/api/v1/commissions/bulk", read: RoleAdmin, write: RoleAdmin},
	{path: "/api/v1/closings", read: RoleViewer, write: RoleAdmin},
	{path: "/api/v1/closings/", prefix: true, contains: "/export.", read: RoleAdmin, write: RoleAdmin},
	{path: "/api/v1/closings/", prefix: true, read: RoleViewer, write: RoleAdmin},
	{path: "/api/v1/recalculations/", prefix: true, read: RoleAdmin, write: RoleAdmin},
	{path: "/api/v1/diagnostics/", prefix: true, read: RoleViewer, write: RoleViewer},
}

func (rule routeRule) matches(path string) bool {
	if rule.prefix {
		if !strings.HasPrefix(path, rule.path) {
			return false
		}
	} else if path != rule.path {
		return false
	}
	return rule.contains == "" || strings.Contains(path, rule.contains)
}

// Policy decides which requests skip authentication and which role the
// rest require.
type Policy struct {
	exemptPaths    map[string]struct{}
	exemptPrefixes []string
}

// NewDefaultPolicy builds the route policy. exemptPaths match exactly,
// exemptPrefixes by prefix.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{exemptPaths: set, exemptPrefixes: append([]string(nil), exemptPrefixes...)}
}

// IsExempt reports whether r bypasses bearer authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.exemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.exemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole returns the minimum role for r. ok is false for paths outside
// the API.
func (p Policy) RequiredRole(r *http.Request) (role Role, ok bool) {
	if r == nil {
		return "", false
	}
	read := isReadMethod(r.Method)
	for _, rule := range routeRules {
		if !rule.matches(r.URL.Path) {
			continue
		}
		if read {
			return rule.read, true
		}
		return rule.write, true
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		if read {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
