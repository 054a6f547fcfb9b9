package identity

// DefaultUsernameField is the form/credentials field holding the username
const DefaultUsernameField = "username"

// UsernameResolver extracts the username an attempt is made for
type UsernameResolver interface {
	ResolveUsername(id Identity) string
}

// UsernameFunc adapts a plain function to UsernameResolver
type UsernameFunc func(id Identity) string

// ResolveUsername implements UsernameResolver
func (f UsernameFunc) ResolveUsername(id Identity) string {
	return f(id)
}

// StaticResolver uses the username the caller already put on the Identity
type StaticResolver struct{}

// ResolveUsername implements UsernameResolver
func (StaticResolver) ResolveUsername(id Identity) string {
	return id.Username
}

// FieldResolver reads a named field from the credentials, falling back to the submitted form
type FieldResolver struct {
	Field string
}

// ResolveUsername implements UsernameResolver
func (r FieldResolver) ResolveUsername(id Identity) string {
	field := r.Field
	if field == "" {
		field = DefaultUsernameField
	}
	if id.Credentials != nil {
		return id.Credentials[field]
	}
	return id.Form[field]
}

// ChainResolver returns the first non-empty username from its resolvers
type ChainResolver []UsernameResolver

// ResolveUsername implements UsernameResolver
func (c ChainResolver) ResolveUsername(id Identity) string {
	for _, r := range c {
		if name := r.ResolveUsername(id); name != "" {
			return name
		}
	}
	return ""
}

// DefaultUsernameResolver prefers an explicit username, then the named field
func DefaultUsernameResolver(field string) UsernameResolver {
	return ChainResolver{StaticResolver{}, FieldResolver{Field: field}}
}
