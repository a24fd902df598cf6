package uaclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointDescriptionDeepCopy(t *testing.T) {
	original := &EndpointDescription{
		EndpointURL: "opc.tcp://plc:4840",
		Server: ApplicationDescription{
			ApplicationURI: "urn:plc",
			DiscoveryURLs:  []string{"opc.tcp://plc:4840"},
		},
		ServerCertificate: []byte{1, 2, 3},
		SecurityMode:      MessageSecurityModeSign,
		SecurityPolicyURI: SecurityPolicyURIBasic256Sha256,
		UserIdentityTokens: []UserTokenPolicy{
			{PolicyID: "anonymous", TokenType: UserTokenTypeAnonymous},
		},
		TransportProfileURI: TransportProfileBinary,
	}

	cp := original.DeepCopy()
	require.Equal(t, original, cp)

	// Mutating the copy must not affect the original.
	cp.ServerCertificate[0] = 99
	cp.Server.DiscoveryURLs[0] = "changed"
	cp.UserIdentityTokens[0].PolicyID = "changed"
	assert.Equal(t, byte(1), original.ServerCertificate[0])
	assert.Equal(t, "opc.tcp://plc:4840", original.Server.DiscoveryURLs[0])
	assert.Equal(t, "anonymous", original.UserIdentityTokens[0].PolicyID)

	// And vice versa.
	cp2 := original.DeepCopy()
	original.ServerCertificate[0] = 42
	assert.Equal(t, byte(1), cp2.ServerCertificate[0])
}

func TestNodeIDIsNull(t *testing.T) {
	assert.True(t, NodeID{}.IsNull())
	assert.True(t, NodeID{Type: NodeIDTypeString}.IsNull())
	assert.False(t, NewNumericNodeID(0, 1).IsNull())
	assert.False(t, NewNumericNodeID(1, 0).IsNull())
	assert.False(t, NodeID{Type: NodeIDTypeOpaque, Opaque: []byte{0}}.IsNull())
}

func TestClientStateOrdering(t *testing.T) {
	// Connect advances strictly forward through these values.
	assert.Less(t, StateDisconnected, StateConnected)
	assert.Less(t, StateConnected, StateSecureChannel)
	assert.Less(t, StateSecureChannel, StateSession)
	assert.Less(t, StateSession, StateSessionRenewed)
}

func TestUserIdentityTokenTypes(t *testing.T) {
	tests := []struct {
		token UserIdentityToken
		want  UserTokenType
	}{
		{&AnonymousIdentityToken{}, UserTokenTypeAnonymous},
		{&UserNameIdentityToken{}, UserTokenTypeUserName},
		{&X509IdentityToken{}, UserTokenTypeCertificate},
		{&IssuedIdentityToken{}, UserTokenTypeIssuedToken},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.token.TokenType())
	}
}

func TestStatusCodeSeverity(t *testing.T) {
	assert.True(t, StatusGood.IsGood())
	assert.False(t, StatusGood.IsBad())
	assert.True(t, StatusBadTimeout.IsBad())
	assert.True(t, StatusUncertain.IsUncertain())
	assert.Equal(t, "BadConnectionClosed", StatusBadConnectionClosed.String())
}

func TestStatusCodeOf(t *testing.T) {
	assert.Equal(t, StatusGood, StatusCodeOf(nil))
	assert.Equal(t, StatusBadTimeout, StatusCodeOf(ErrTimeout))
	assert.Equal(t, StatusBadConnectionClosed, StatusCodeOf(ErrConnectionClosed))
	assert.Equal(t, StatusBadUserAccessDenied,
		StatusCodeOf(NewUAError(ServiceActivateSession, StatusBadUserAccessDenied, "")))
	assert.Equal(t, StatusBadShutdown, StatusCodeOf(StatusBadShutdown))
}
