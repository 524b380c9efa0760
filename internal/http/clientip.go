package httpapi

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Proxy headers consulted for the caller's address, in trust order.
var ipHeaders = []string{"X-Forwarded-For", "X-Real-Ip", "X-Client-Ip"}

// clientIP extracts the caller's public IP. Each header is tried in
// order, taking the first comma-separated token; a candidate is
// accepted only if it parses as a public address, so a spoofed
// private-range header cannot defeat dedup. Falls back to the socket
// address, finally to loopback.
func clientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		if ip := publicIP(firstToken(r.Header.Get(h))); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := publicIP(host); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

func firstToken(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// publicIP returns the canonical form of s if it is a syntactically
// valid, publicly routable address, else "".
func publicIP(s string) string {
	if s == "" {
		return ""
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return ""
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return ""
	}
	return addr.String()
}
