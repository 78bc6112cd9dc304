package kademlia

import "fmt"

// ErrorKind classifies the failures the routing table can report. No
// operation panics on user input; internal invariant violations are
// programming errors, not ErrorKind failures.
type ErrorKind int

const (
	// NotFound means a lookup asked about an unknown address or URI.
	NotFound ErrorKind = iota
	// PersistenceError means Dump or Load could not complete.
	PersistenceError
	// InvalidArgument means a caller passed a malformed Address or Uri.
	InvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PersistenceError:
		return "persistence error"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Error wraps an ErrorKind with the underlying cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func errPeerNotFound(addr Address) error {
	return fmt.Errorf("peer %s not known", addr)
}

func errURINotFound(u Uri) error {
	return fmt.Errorf("uri %s not bound to any peer", u)
}
