package relay

// Provider keys and defaults.
const (
	URIKey     = "GATEWAY_CONNECTION_URI"
	DefaultURI = "fkt://localhost:6789"
)

// URIFromProvider returns the relay URI configured in p, or DefaultURI.
func URIFromProvider(p Provider) string {
	if p == nil {
		return DefaultURI
	}
	v, ok := p.Get(URIKey)
	if !ok {
		return DefaultURI
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return DefaultURI
	}
	return s
}
