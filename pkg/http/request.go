package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// MaxUserAgentLength bounds stored user agents
const MaxUserAgentLength = 255

// UnknownUserAgent is recorded when a request carries no User-Agent
const UnknownUserAgent = "<unknown>"

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// prefixes parses the trusted proxy ranges, skipping invalid entries
func (c *IPConfig) prefixes() []netip.Prefix {
	if c == nil {
		return nil
	}
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, cidr := range c.TrustedProxies {
		cidr = strings.TrimSpace(cidr)
		if p, err := netip.ParsePrefix(cidr); err == nil {
			out = append(out, p.Masked())
			continue
		}
		// A bare address trusts that single host
		if addr, err := netip.ParseAddr(cidr); err == nil {
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return out
}

// ExtractClientIP extracts the real client IP address from the request.
// X-Forwarded-For and X-Real-IP are honoured only when the direct peer is a
// trusted proxy, so clients cannot pick their own lockout key by sending headers.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if isTrustedProxy(remoteIP, config.prefixes()) {
		// Left-most valid entry is the originating client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				if addr, ok := parseIP(ip); ok {
					return addr
				}
			}
		}

		if addr, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return addr
		}
	}

	return remoteIP
}

// ExtractUserAgent returns the request's user agent truncated to MaxUserAgentLength runes
func ExtractUserAgent(r *http.Request) string {
	return TruncateUserAgent(r.UserAgent())
}

// TruncateUserAgent applies the stored user agent rules to ua
func TruncateUserAgent(ua string) string {
	ua = strings.ReplaceAll(strings.ToValidUTF8(ua, string(utf8.RuneError)), "\x00", "")
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return UnknownUserAgent
	}
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	runes := []rune(ua)
	return string(runes[:MaxUserAgentLength])
}

// remoteAddr extracts the IP address from RemoteAddr (removing port if present)
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy ranges
func isTrustedProxy(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseIP normalises a textual IPv4 or IPv6 address
func parseIP(ip string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
