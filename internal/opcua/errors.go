package opcua

import (
	"errors"
	"fmt"
	"net"
)

// ErrTypeMismatch is returned by [Float64] when a value has no numeric form.
var ErrTypeMismatch = errors.New("value is not numeric")

// ConnectError is an endpoint-level failure: the session could not be
// established, so no node of the endpoint can be read in this cycle.
type ConnectError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReadError is a node-level failure: one node could not be read or decoded.
// Sibling nodes on the same connection are unaffected.
type ReadError struct {
	NodePath string
	Err      error
}

// Error implements the error interface.
func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.NodePath, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsNameResolution reports whether err was caused by a failed hostname lookup.
func IsNameResolution(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
