package identity

import (
	"fmt"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// KeyPolicy selects which parts of an attempt form its client key
type KeyPolicy string

const (
	PolicyIP            KeyPolicy = "ip"
	PolicyUsername      KeyPolicy = "username"
	PolicyUsernameAndIP KeyPolicy = "username_and_ip"
)

// Valid reports whether p is a known policy
func (p KeyPolicy) Valid() bool {
	switch p {
	case PolicyIP, PolicyUsername, PolicyUsernameAndIP:
		return true
	}
	return false
}

// Resolver turns an Identity into a ClientKey. The same Resolver must serve both
// the check path and the record path, or counts and lookups diverge.
type Resolver struct {
	policy       KeyPolicy
	useUserAgent bool
	usernames    UsernameResolver
}

// NewResolver creates a Resolver. A nil UsernameResolver uses DefaultUsernameResolver.
func NewResolver(policy KeyPolicy, useUserAgent bool, usernames UsernameResolver) (*Resolver, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("%w: unknown key policy %q", models.ErrConfiguration, policy)
	}
	if usernames == nil {
		usernames = DefaultUsernameResolver(DefaultUsernameField)
	}
	return &Resolver{
		policy:       policy,
		useUserAgent: useUserAgent,
		usernames:    usernames,
	}, nil
}

// Policy returns the key policy in use
func (r *Resolver) Policy() KeyPolicy {
	return r.policy
}

// keyEscaper keeps the part separator out of part values, so distinct parts
// never join to the same key.
var keyEscaper = strings.NewReplacer("%", "%25", "|", "%7C")

// Resolve derives the client key for id
func (r *Resolver) Resolve(id Identity) (models.ClientKey, error) {
	username := strings.TrimSpace(Clean(r.usernames.ResolveUsername(id), MaxUsernameLength))
	ip := strings.TrimSpace(Clean(id.IPAddress, MaxIPLength))
	userAgent := pkghttp.TruncateUserAgent(id.UserAgent)

	key := models.ClientKey{
		Username:  username,
		IPAddress: ip,
		UserAgent: userAgent,
		Path:      Clean(id.Path, MaxPathLength),
	}

	var parts []string
	switch r.policy {
	case PolicyIP:
		if ip == "" {
			return key, fmt.Errorf("%w: no ip address", models.ErrInvalidIdentity)
		}
		parts = append(parts, "ip="+keyEscaper.Replace(ip))
	case PolicyUsername:
		if username == "" {
			return key, fmt.Errorf("%w: no username", models.ErrInvalidIdentity)
		}
		parts = append(parts, "user="+keyEscaper.Replace(username))
	case PolicyUsernameAndIP:
		if username == "" && ip == "" {
			return key, fmt.Errorf("%w: no username or ip address", models.ErrInvalidIdentity)
		}
		parts = append(parts, "user="+keyEscaper.Replace(username), "ip="+keyEscaper.Replace(ip))
	}

	if r.useUserAgent {
		parts = append(parts, "ua="+keyEscaper.Replace(userAgent))
	}

	key.Value = strings.Join(parts, "|")
	return key, nil
}
