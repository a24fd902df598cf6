package uaclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserTokenMatches(t *testing.T) {
	tests := []struct {
		name       string
		configured UserIdentityToken
		tokenType  UserTokenType
		want       bool
	}{
		{"anonymous matches unconfigured", nil, UserTokenTypeAnonymous, true},
		{"anonymous matches anonymous", &AnonymousIdentityToken{}, UserTokenTypeAnonymous, true},
		{"anonymous rejects username config", &UserNameIdentityToken{}, UserTokenTypeAnonymous, false},
		{"username rejects unconfigured", nil, UserTokenTypeUserName, false},
		{"username matches username config", &UserNameIdentityToken{}, UserTokenTypeUserName, true},
		{"certificate matches x509 config", &X509IdentityToken{}, UserTokenTypeCertificate, true},
		{"issued matches issued config", &IssuedIdentityToken{}, UserTokenTypeIssuedToken, true},
		{"certificate rejects username config", &UserNameIdentityToken{}, UserTokenTypeCertificate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{config: Config{UserIdentityToken: tt.configured}}
			assert.Equal(t, tt.want, c.userTokenMatches(tt.tokenType))
		})
	}
}

func TestSelectEndpointPrefersServerOrder(t *testing.T) {
	first := anonymousNoneEndpoint("opc.tcp://plc:4840")
	second := anonymousNoneEndpoint("opc.tcp://plc:4841")

	server := newFakeServer()
	server.endpoints = []EndpointDescription{first, second}
	client := newTestClient(t, server)

	assert.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, "opc.tcp://plc:4840", client.config.Endpoint.EndpointURL,
		"first match wins, no scoring")
}

func TestSelectEndpointFiltersSecurityMode(t *testing.T) {
	noneEndpoint := anonymousNoneEndpoint(testEndpointURL)
	signEndpoint := anonymousNoneEndpoint(testEndpointURL)
	signEndpoint.SecurityMode = MessageSecurityModeSign

	server := newFakeServer()
	server.endpoints = []EndpointDescription{noneEndpoint, signEndpoint}

	client := newTestClient(t, server, WithSecurityMode(MessageSecurityModeSign))

	// Mode Sign selects the second endpoint; its policy is None, which
	// the channel is already bound to, so no reconnect happens.
	assert.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, MessageSecurityModeSign, client.config.Endpoint.SecurityMode)
	assert.Equal(t, 1, server.dials)
}

func TestSelectTokenPolicyNeedsAvailableSecurityPolicy(t *testing.T) {
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.UserIdentityTokens = []UserTokenPolicy{
		// Requires a policy the client does not operate.
		{PolicyID: "anon-b256", TokenType: UserTokenTypeAnonymous,
			SecurityPolicyURI: SecurityPolicyURIBasic256},
		{PolicyID: "anon-none", TokenType: UserTokenTypeAnonymous},
	}

	server := newFakeServer()
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server)

	assert.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, "anon-none", client.config.UserTokenPolicy.PolicyID)
}

func TestSelectTokenPolicySkipsInvalidTokenType(t *testing.T) {
	endpoint := anonymousNoneEndpoint(testEndpointURL)
	endpoint.UserIdentityTokens = []UserTokenPolicy{
		{PolicyID: "broken", TokenType: UserTokenType(9)},
		{PolicyID: "anonymous", TokenType: UserTokenTypeAnonymous},
	}

	server := newFakeServer()
	server.endpoints = []EndpointDescription{endpoint}
	client := newTestClient(t, server)

	assert.NoError(t, client.Connect(testEndpointURL))
	assert.Equal(t, "anonymous", client.config.UserTokenPolicy.PolicyID)
}
