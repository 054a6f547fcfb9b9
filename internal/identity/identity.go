// Package identity derives the canonical client key that failed attempts are
// counted under.
package identity

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// Stored column widths. Payload is bounded in bytes, the rest in characters.
const (
	MaxPayloadLength  = 1024
	MaxUsernameLength = 255
	MaxPathLength     = 255
	MaxAcceptLength   = 1025
	MaxIPLength       = 45
)

// Identity is everything known about an authentication attempt before credentials are checked
type Identity struct {
	Username    string
	IPAddress   string
	UserAgent   string
	Path        string
	HTTPAccept  string
	Form        map[string]string
	Credentials map[string]string
}

// FromRequest builds an Identity from an HTTP request. The client IP honours
// forwarding headers only from trusted proxies.
func FromRequest(r *http.Request, ipConfig *pkghttp.IPConfig) Identity {
	id := Identity{
		IPAddress:  pkghttp.ExtractClientIP(r, ipConfig),
		UserAgent:  pkghttp.ExtractUserAgent(r),
		Path:       r.URL.Path,
		HTTPAccept: Clean(r.Header.Get("Accept"), MaxAcceptLength),
	}

	if err := r.ParseForm(); err == nil && len(r.PostForm) > 0 {
		id.Form = make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				id.Form[k] = v[0]
			}
		}
	}

	return id
}

// SanitizePayload renders fields as sorted "k=v" lines without the password
// field, capped at max bytes.
func SanitizePayload(fields map[string]string, passwordField string, max int) string {
	if len(fields) == 0 || max <= 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == passwordField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s=%s", k, fields[k])
		if b.Len() >= max {
			break
		}
	}
	return truncateBytes(Clean(b.String(), 0), max)
}

// Clean makes s safe for a text column: invalid UTF-8 becomes U+FFFD, NUL
// bytes are dropped, and the result is cut to maxRunes characters when
// maxRunes is positive.
func Clean(s string, maxRunes int) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	s = strings.ReplaceAll(s, "\x00", "")
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}

// truncateBytes cuts valid UTF-8 to at most max bytes without splitting a rune
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Verbose renders a key's parts for log lines
func Verbose(key models.ClientKey) string {
	return fmt.Sprintf("{user: %q, ip: %q, user-agent: %q, path: %q}",
		key.Username, key.IPAddress, key.UserAgent, key.Path)
}
