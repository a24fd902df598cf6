package uaclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpointURL = "opc.tcp://localhost:4840"

func newTestClient(t *testing.T, server *fakeServer, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithConnectionFunc(server.connectionFunc()),
		WithTimeout(200 * time.Millisecond),
	}, opts...)
	client, err := NewClient(opts...)
	require.NoError(t, err)
	return client
}

func TestConnectHappyNone(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	err := client.Connect(testEndpointURL)
	require.NoError(t, err)

	assert.Equal(t, StateSession, client.State())
	assert.Equal(t, ChannelOpen, client.Channel().State())
	assert.Equal(t, 1, server.dials, "policy already None, no reconnect expected")

	// Discovery installed the endpoint and token policy.
	require.NotNil(t, client.config.Endpoint)
	assert.Equal(t, SecurityPolicyURINone, client.config.Endpoint.SecurityPolicyURI)
	assert.Nil(t, client.config.Endpoint.UserIdentityTokens)
	require.NotNil(t, client.config.UserTokenPolicy)
	assert.Equal(t, "anonymous", client.config.UserTokenPolicy.PolicyID)

	// The renewal deadline never exceeds the revised token lifetime.
	lifetime := time.Duration(server.revisedLifetime) * time.Millisecond
	assert.LessOrEqual(t, time.Until(client.nextChannelRenewal), lifetime)
}

func TestConnectReentry(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	sent := len(server.sentMessages())

	// A second connect while the session is active is a no-op.
	require.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, sent, len(server.sentMessages()), "no network I/O expected")
	assert.Equal(t, StateSession, client.State())
}

func TestConnectACKTimeout(t *testing.T) {
	server := newFakeServer()
	server.silentAfterHEL = true
	client := newTestClient(t, server)

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadConnectionClosed, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
	require.Len(t, server.conns, 1)
	assert.True(t, server.conns[0].closed, "TCP connection must be closed")
}

func TestConnectHELRejected(t *testing.T) {
	server := newFakeServer()
	server.helError = &ErrorMessage{Error: StatusBadTcpEndpointUrlInvalid, Reason: "bad url"}
	client := newTestClient(t, server)

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadTcpEndpointUrlInvalid, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectPolicySwitch(t *testing.T) {
	sha256Endpoint := anonymousNoneEndpoint(testEndpointURL)
	sha256Endpoint.SecurityPolicyURI = SecurityPolicyURIBasic256Sha256

	server := newFakeServer()
	server.endpoints = []EndpointDescription{
		anonymousNoneEndpoint(testEndpointURL),
		sha256Endpoint,
	}

	client := newTestClient(t, server,
		WithSecurityPolicies(
			NewSecurityPolicyNone(),
			&SecurityPolicy{URI: SecurityPolicyURIBasic256Sha256},
		),
		WithSecurityPolicyURI(SecurityPolicyURIBasic256Sha256),
	)

	err := client.Connect(testEndpointURL)
	require.NoError(t, err)

	assert.Equal(t, StateSession, client.State())
	assert.Equal(t, 2, server.dials, "policy switch requires one reconnect")
	assert.Equal(t, SecurityPolicyURIBasic256Sha256, client.channel.securityPolicy.URI)
	assert.Equal(t, SecurityPolicyURIBasic256Sha256, client.config.Endpoint.SecurityPolicyURI)
}

func TestConnectNoMatchingUserTokenPolicy(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}

	client := newTestClient(t, server, WithUserNameAuth("operator", "secret"))

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadInternalError, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
	for _, conn := range server.conns {
		assert.True(t, conn.closed)
	}
}

func TestConnectNoSuitableEndpoint(t *testing.T) {
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.TransportProfileURI = "http://opcfoundation.org/UA-Profile/Transport/wss-uajson"

	server := newFakeServer()
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server)

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadInternalError, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectSkipsInvalidSecurityMode(t *testing.T) {
	broken := anonymousNoneEndpoint(testEndpointURL)
	broken.SecurityMode = MessageSecurityMode(5)

	server := newFakeServer()
	server.endpoints = []EndpointDescription{broken, anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, StateSession, client.State())
}

func TestConnectAcceptsExplicitBinaryProfile(t *testing.T) {
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.TransportProfileURI = TransportProfileBinary

	server := newFakeServer()
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, StateSession, client.State())
}

func TestConnectActivateFault(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	server.activateFault = StatusBadUserAccessDenied
	client := newTestClient(t, server)

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadUserAccessDenied, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConnectNoSession(t *testing.T) {
	server := newFakeServer()
	client := newTestClient(t, server)

	require.NoError(t, client.ConnectNoSession(testEndpointURL))
	assert.Equal(t, StateSecureChannel, client.State())

	require.NoError(t, client.Disconnect())
	assert.Equal(t, StateDisconnected, client.State())

	types := sentMessageTypes(server.sentMessages())
	assert.Equal(t, []string{"HEL", "OPN", "CLO"}, types)
}

func TestConnectUsername(t *testing.T) {
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.UserIdentityTokens = []UserTokenPolicy{
		{PolicyID: "username", TokenType: UserTokenTypeUserName},
	}

	server := newFakeServer()
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server)

	require.NoError(t, client.ConnectUsername(testEndpointURL, "operator", "secret"))
	assert.Equal(t, StateSession, client.State())
	require.NotNil(t, client.config.UserTokenPolicy)
	assert.Equal(t, "username", client.config.UserTokenPolicy.PolicyID)
}

func TestRequestIDsStrictlyIncreasing(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	require.NoError(t, client.Disconnect())

	ids := wireRequestIDs(server.sentMessages())
	require.NotEmpty(t, ids)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "request ids must be strictly increasing on the wire")
	}
}

func TestBufferAccounting(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	require.NoError(t, client.Disconnect())

	for _, conn := range server.conns {
		assert.Equal(t, conn.gets, conn.sends+conn.releases,
			"every send buffer must be sent or released")
	}
}

func TestHELTooLargeReleasesBuffer(t *testing.T) {
	server := newFakeServer()
	client := newTestClient(t, server)

	hugeURL := "opc.tcp://" + strings.Repeat("a", int(MinMessageSize))
	err := client.Connect(hugeURL)
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, client.State())

	require.Len(t, server.conns, 1)
	conn := server.conns[0]
	assert.Equal(t, 1, conn.gets)
	assert.Equal(t, 1, conn.releases)
	assert.Zero(t, conn.sends)
}

func TestRenewalAdvancesDeadline(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))

	prevNonce := append([]byte(nil), client.channel.localNonce...)
	client.nextChannelRenewal = time.Now().Add(-time.Millisecond)

	require.NoError(t, client.RunIterate(10*time.Millisecond))

	assert.Equal(t, StateSession, client.State(), "renewal must not change the client state")
	assert.True(t, client.nextChannelRenewal.After(time.Now()), "renewal deadline must advance")
	assert.NotEqual(t, prevNonce, client.channel.localNonce, "a fresh nonce is generated per OPN")
	assert.Equal(t, int64(1), client.Metrics().Renewals.Value())

	var opnCount int
	for _, msg := range server.sentMessages() {
		if string(msg[0:3]) == MessageTypeOpenChannel {
			opnCount++
		}
	}
	assert.Equal(t, 2, opnCount, "renewal issues a second OPN")
	assert.Equal(t, SecurityTokenRequestRenew, parseOPNRequestType(t, server.sentMessages()))
}

// parseOPNRequestType returns the request type of the last OPN sent.
func parseOPNRequestType(t *testing.T, msgs [][]byte) SecurityTokenRequestType {
	t.Helper()
	var last []byte
	for _, msg := range msgs {
		if string(msg[0:3]) == MessageTypeOpenChannel {
			last = msg
		}
	}
	require.NotNil(t, last)

	d := NewDecoder(last[MessageHeaderSize:])
	d.ReadUInt32()     // channel id
	d.ReadString()     // policy URI
	d.ReadByteString() // sender certificate
	d.ReadByteString() // receiver thumbprint
	d.ReadUInt32()     // sequence number
	d.ReadUInt32()     // request id
	_, err := d.ReadNodeID()
	require.NoError(t, err)

	// Request header
	_, err = d.ReadNodeID() // authentication token
	require.NoError(t, err)
	d.ReadInt64()  // timestamp
	d.ReadUInt32() // request handle
	d.ReadUInt32() // return diagnostics
	d.ReadString() // audit entry id
	d.ReadUInt32() // timeout hint
	d.ReadNodeID() // additional header type id
	d.ReadByte()   // additional header encoding

	d.ReadUInt32() // client protocol version
	requestType, err := d.ReadUInt32()
	require.NoError(t, err)
	return SecurityTokenRequestType(requestType)
}

func TestRenewalSkippedWhileTokenValid(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	deadline := client.nextChannelRenewal

	require.NoError(t, client.RunIterate(5*time.Millisecond))

	assert.Equal(t, deadline, client.nextChannelRenewal)
	assert.Zero(t, client.Metrics().Renewals.Value())
}

func TestDisconnectWipesChannelState(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))

	nonce := client.channel.localNonce
	require.NotNil(t, nonce)

	require.NoError(t, client.Disconnect())

	assert.Equal(t, StateDisconnected, client.State())
	assert.Equal(t, ChannelClosed, client.channel.State())
	assert.Nil(t, client.channel.localNonce)
	assert.Equal(t, make([]byte, len(nonce)), nonce, "the old nonce bytes must be zeroed")
	assert.Equal(t, ChannelSecurityToken{}, client.channel.SecurityToken())
	assert.True(t, client.authenticationToken.IsNull())
}

func TestDisconnectIdempotent(t *testing.T) {
	server := newFakeServer()
	client := newTestClient(t, server)

	require.NoError(t, client.Disconnect())
	require.NoError(t, client.Disconnect())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestDisconnectSendsCloseSequence(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	require.NoError(t, client.Connect(testEndpointURL))
	require.NoError(t, client.Disconnect())

	types := sentMessageTypes(server.sentMessages())
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, "CLO", types[len(types)-1], "CLO is the last message on the wire")
	assert.Equal(t, "MSG", types[len(types)-2], "CloseSession precedes CloseSecureChannel")
}

func TestStateCallbackSequence(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}

	var states []ClientState
	client := newTestClient(t, server, WithStateCallback(func(_ *Client, state ClientState) {
		states = append(states, state)
	}))

	require.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, []ClientState{StateConnected, StateSecureChannel, StateSession}, states)

	states = nil
	require.NoError(t, client.Disconnect())
	assert.Equal(t, []ClientState{StateSecureChannel, StateConnected, StateDisconnected}, states)
}

func TestGetEndpointsOneShot(t *testing.T) {
	server := newFakeServer()
	server.endpoints = []EndpointDescription{anonymousNoneEndpoint(testEndpointURL)}
	client := newTestClient(t, server)

	endpoints, err := client.GetEndpoints(testEndpointURL)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, testEndpointURL, endpoints[0].EndpointURL)
	assert.Equal(t, StateDisconnected, client.State(), "one-shot discovery tears the channel down")
}

func TestSecurityPolicyNotAvailable(t *testing.T) {
	server := newFakeServer()
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.SecurityPolicyURI = SecurityPolicyURIBasic256
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server) // only #None configured

	err := client.Connect(testEndpointURL)
	require.Error(t, err)
	assert.Equal(t, StatusBadInternalError, StatusCodeOf(err))
	assert.Equal(t, StateDisconnected, client.State())
}
