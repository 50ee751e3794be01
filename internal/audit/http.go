package audit

import (
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the originating address of r. The first X-Forwarded-For
// hop wins over X-Real-IP, which wins over the socket peer.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if peer, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return peer.Addr().String()
	}
	return r.RemoteAddr
}
