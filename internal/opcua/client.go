package opcua

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

//go:generate mockgen -source=client.go -destination=opcuamock/mock.go -package=opcuamock

// Credentials holds the optional username/password identity for a session.
// A nil *Credentials means anonymous authentication.
type Credentials struct {
	Username string
	Password string
}

// Dialer establishes sessions with OPC UA endpoints.
//
// Implementations must be safe for concurrent use: every endpoint poller dials
// through the same Dialer from its own goroutine.
type Dialer interface {
	// Dial connects to url and returns a ready-to-read Connection.
	// Any failure is returned as a *ConnectError.
	Dial(ctx context.Context, url string, creds *Credentials) (Connection, error)
}

// Connection is one live session with an endpoint.
//
// A Connection is owned by a single poller and is never shared.
type Connection interface {
	// ReadValue reads the current value attribute of nodePath.
	// Any failure is returned as a *ReadError.
	ReadValue(ctx context.Context, nodePath string) (any, error)

	// Close terminates the session. Safe to call on a broken connection.
	Close(ctx context.Context) error
}

// ClientDialer is the production [Dialer], backed by github.com/gopcua/opcua.
type ClientDialer struct {
	// RequestTimeout bounds each service request on the wire.
	// Zero keeps the client library's default.
	RequestTimeout time.Duration

	// getEndpoints lists the endpoints a server offers. Replaced in tests.
	getEndpoints func(ctx context.Context, url string) ([]*ua.EndpointDescription, error)
}

// NewDialer creates a [ClientDialer] with the given request timeout.
// Pass zero to inherit the client library's default timeout.
func NewDialer(requestTimeout time.Duration) *ClientDialer {
	return &ClientDialer{
		RequestTimeout: requestTimeout,
		getEndpoints:   fetchEndpoints,
	}
}

// Dial implements [Dialer].
//
// Anonymous sessions use security mode None directly. When credentials are
// supplied the endpoint list is fetched first so the username token is bound
// to the user-identity policy the server advertises.
func (d *ClientDialer) Dial(ctx context.Context, url string, creds *Credentials) (Connection, error) {
	opts, err := d.clientOptions(ctx, url, creds)
	if err != nil {
		return nil, &ConnectError{URL: url, Err: err}
	}

	c, err := opcua.NewClient(url, opts...)
	if err != nil {
		return nil, &ConnectError{URL: url, Err: err}
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close(context.Background())
		return nil, &ConnectError{URL: url, Err: err}
	}

	return &clientConnection{client: c}, nil
}

// clientOptions builds the session options for one dial attempt.
func (d *ClientDialer) clientOptions(ctx context.Context, url string, creds *Credentials) ([]opcua.Option, error) {
	opts := []opcua.Option{
		// reconnects are driven by the poller, not by the client library
		opcua.AutoReconnect(false),
	}
	if d.RequestTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(d.RequestTimeout))
	}

	if creds == nil {
		return append(opts,
			opcua.SecurityPolicy(ua.SecurityPolicyURINone),
			opcua.SecurityMode(ua.MessageSecurityModeNone),
			opcua.AuthAnonymous(),
		), nil
	}

	getEndpoints := d.getEndpoints
	if getEndpoints == nil {
		getEndpoints = fetchEndpoints
	}
	endpoints, err := getEndpoints(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("get endpoints: %w", err)
	}

	userOpts, err := usernameOptions(endpoints, creds)
	if err != nil {
		return nil, err
	}
	return append(opts, userOpts...), nil
}

func fetchEndpoints(ctx context.Context, url string) ([]*ua.EndpointDescription, error) {
	return opcua.GetEndpoints(ctx, url)
}

// usernameOptions binds creds to the unsecured endpoint the server offers.
// Servers that only advertise signed or encrypted endpoints are rejected
// here; the client library cannot build a session from a nil description.
func usernameOptions(endpoints []*ua.EndpointDescription, creds *Credentials) ([]opcua.Option, error) {
	ep := opcua.SelectEndpoint(endpoints, ua.SecurityPolicyURINone, ua.MessageSecurityModeNone)
	if ep == nil {
		return nil, fmt.Errorf("select endpoint: no %s/%s endpoint offered",
			ua.FormatSecurityPolicyURI(ua.SecurityPolicyURINone), ua.MessageSecurityModeNone)
	}

	return []opcua.Option{
		opcua.SecurityPolicy(ua.SecurityPolicyURINone),
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.AuthUsername(creds.Username, creds.Password),
		opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName),
	}, nil
}

// clientConnection adapts *opcua.Client to [Connection].
type clientConnection struct {
	client *opcua.Client
}

// ReadValue implements [Connection].
func (c *clientConnection) ReadValue(ctx context.Context, nodePath string) (any, error) {
	id, err := ua.ParseNodeID(nodePath)
	if err != nil {
		return nil, &ReadError{NodePath: nodePath, Err: fmt.Errorf("invalid node id: %w", err)}
	}

	req := &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: id, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}

	resp, err := c.client.Read(ctx, req)
	if err != nil {
		return nil, &ReadError{NodePath: nodePath, Err: err}
	}
	if len(resp.Results) == 0 {
		return nil, &ReadError{NodePath: nodePath, Err: errors.New("empty read response")}
	}

	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return nil, &ReadError{NodePath: nodePath, Err: result.Status}
	}
	if result.Value == nil {
		return nil, &ReadError{NodePath: nodePath, Err: errors.New("node has no value")}
	}

	return result.Value.Value(), nil
}

// Close implements [Connection].
func (c *clientConnection) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}
