package opcua

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestConnectError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &ConnectError{URL: "opc.tcp://plc:4840", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(ConnectError, cause) = false, want true")
	}
	if !strings.Contains(err.Error(), "opc.tcp://plc:4840") {
		t.Errorf("Error() = %q, want it to contain the url", err.Error())
	}
}

func TestReadError_Unwrap(t *testing.T) {
	err := fmt.Errorf("cycle: %w", &ReadError{NodePath: "ns=2;s=Temp", Err: ErrTypeMismatch})

	var readErr *ReadError
	if !errors.As(err, &readErr) {
		t.Fatal("errors.As(*ReadError) = false, want true")
	}
	if readErr.NodePath != "ns=2;s=Temp" {
		t.Errorf("NodePath = %q, want %q", readErr.NodePath, "ns=2;s=Temp")
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Error("errors.Is(err, ErrTypeMismatch) = false, want true")
	}
}

func TestIsNameResolution(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "plc.invalid", IsNotFound: true}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"dns", dnsErr, true},
		{"wrapped dns", &ConnectError{URL: "opc.tcp://plc.invalid:4840", Err: fmt.Errorf("dial: %w", dnsErr)}, true},
		{"refused", &ConnectError{URL: "opc.tcp://plc:4840", Err: errors.New("connection refused")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNameResolution(tt.err); got != tt.want {
				t.Errorf("IsNameResolution() = %v, want %v", got, tt.want)
			}
		})
	}
}
