package connection

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// Supported URI schemes.
const (
	SchemeStream    = "fkt"
	SchemeWebSocket = "ws"
)

// Hosts are at least three characters and start with a word character.
var uriPattern = regexp.MustCompile(`^(fkt|ws)://(\w[^\s/:]+[^\s/:]):([0-9]{4,5})$`)

// Address is a parsed relay URI.
type Address struct {
	Scheme string
	Host   string
	Port   int
}

// ParseURI validates and splits a relay URI of the form scheme://host:port.
// The port must be 4 or 5 decimal digits.
func ParseURI(uri string) (Address, error) {
	m := uriPattern.FindStringSubmatch(uri)
	if m == nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	port, err := strconv.Atoi(m[3])
	if err != nil || port > 65535 {
		return Address{}, fmt.Errorf("%w: port out of range in %q", ErrInvalidURI, uri)
	}

	return Address{Scheme: m[1], Host: m[2], Port: port}, nil
}

// HostPort returns host:port suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// String renders the address back to URI form.
func (a Address) String() string {
	return fmt.Sprintf("%s://%s:%d", a.Scheme, a.Host, a.Port)
}
