package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientKey returns the address a request is limited under. Forwarding
// headers are honoured only when trustProxy is set, since any client can
// send them: the first X-Forwarded-For hop wins, then X-Real-IP. Otherwise
// the key is the host part of RemoteAddr.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
