package kademlia

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Uri is a reachable transport endpoint optionally associated with a peer.
// The routing table treats it as an opaque, comparable key; it never dials
// it.
type Uri struct {
	Scheme string
	Host   string
	Port   int
}

// ParseUri accepts "scheme://host:port" or bare "host:port" and defaults
// the scheme to "tcp" when omitted.
func ParseUri(raw string) (Uri, error) {
	rest := raw
	scheme := "tcp"
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme = rest[:i]
		rest = rest[i+3:]
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Uri{}, &Error{Kind: InvalidArgument, Err: fmt.Errorf("parse uri %q: %w", raw, err)}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Uri{}, &Error{Kind: InvalidArgument, Err: fmt.Errorf("parse uri port %q: %w", raw, err)}
	}

	return Uri{Scheme: scheme, Host: host, Port: port}, nil
}

func (u Uri) String() string {
	return fmt.Sprintf("%s://%s:%d", u.Scheme, u.Host, u.Port)
}

func (u Uri) IsZero() bool { return u.Host == "" && u.Port == 0 }
