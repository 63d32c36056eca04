package wire

import (
	"fmt"
	"net"
	"strconv"
)

// NodeAddress identifies a peer's inbound listener. Equality is
// structural, so NodeAddress is safe to use directly as a map key. It
// lives in this package, below both the transport and root packages, so
// that neither has to import the other just to share this type.
type NodeAddress struct {
	Host string
	Port int
}

// String renders the address as "host:port", the same form used for dialing.
func (a NodeAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address has never been resolved.
func (a NodeAddress) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// ParseNodeAddress parses the "host:port" form produced by String.
func ParseNodeAddress(s string) (NodeAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("wire: invalid node address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("wire: invalid node address %q: %w", s, err)
	}
	return NodeAddress{Host: host, Port: port}, nil
}
