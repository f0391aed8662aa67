package utils

import (
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP returns the caller's address for logs. The mobile app reaches the
// service through a reverse proxy, so X-Real-IP and then the first public
// X-Forwarded-For hop win over the socket address.
func ClientIP(c *gin.Context) string {
	if addr, ok := parsePublic(c.GetHeader("X-Real-IP")); ok {
		return addr.String()
	}

	forwarded := c.GetHeader("X-Forwarded-For")
	if forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for _, hop := range hops {
			if addr, ok := parsePublic(hop); ok {
				return addr.String()
			}
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(hops[0])); err == nil {
			return addr.String()
		}
	}

	return c.ClientIP()
}

// IsInternal reports whether an address is loopback or in a private range
func IsInternal(raw string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate()
}

func parsePublic(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil || IsInternal(raw) {
		return netip.Addr{}, false
	}
	return addr, true
}
