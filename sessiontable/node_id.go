package sessiontable

import "fmt"

// sessionNamespace is the namespace all session identifiers and authentication
// tokens are allocated in.
const sessionNamespace uint16 = 1

// NodeID is a namespace-qualified numeric identifier. Session identifiers and
// authentication tokens are both NodeIDs drawn from the table's counter.
type NodeID struct {
	Namespace uint16
	Numeric   uint32
}

// NumericID returns a NodeID in the session namespace with the given numeric value.
//
// Parameters:
//   - numeric: The numeric identifier value
//
// Returns:
//   - A NodeID in the session namespace
func NumericID(numeric uint32) NodeID {
	return NodeID{Namespace: sessionNamespace, Numeric: numeric}
}

// IsZero reports whether the NodeID is the zero value, which never identifies
// a live session.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// String returns the identifier in "ns=<namespace>;i=<numeric>" form.
func (n NodeID) String() string {
	return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
}
