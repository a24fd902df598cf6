// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package uaclient implements the connection establishment core of an
// OPC UA binary-protocol client: the HEL/ACK transport handshake, the
// secure channel lifecycle (open, renew, close) and the session
// handshake (CreateSession / ActivateSession) over the
// uatcp-uasc-uabinary transport profile.
package uaclient

import (
	"log/slog"
	"time"
)

// ClientState is the connection phase of a Client. It advances strictly
// forward during a connect attempt; teardown steps strictly backward.
type ClientState int

// Client states.
const (
	StateDisconnected ClientState = iota
	StateConnected
	StateSecureChannel
	StateSession
	StateSessionDisconnected
	StateSessionRenewed
)

// String returns the string representation of the client state.
func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSecureChannel:
		return "secure_channel"
	case StateSession:
		return "session"
	case StateSessionDisconnected:
		return "session_disconnected"
	case StateSessionRenewed:
		return "session_renewed"
	default:
		return "unknown"
	}
}

// ChannelState is the state of a secure channel.
type ChannelState int

// Secure channel states.
const (
	ChannelFresh ChannelState = iota
	ChannelHELSent
	ChannelOPNSent
	ChannelOpen
	ChannelClosed
)

// ConnState is the state of the underlying transport connection.
type ConnState int

// Transport connection states.
const (
	ConnClosed ConnState = iota
	ConnOpening
	ConnEstablished
)

// Conn is the transport connection owned by a Client. Send buffers
// obtained from GetSendBuffer must either be passed to Send (which
// consumes ownership) or returned via ReleaseSendBuffer; the transport
// may pool them.
type Conn interface {
	State() ConnState

	// GetSendBuffer returns an empty buffer with at least size bytes of
	// capacity for the caller to append an outgoing message into.
	GetSendBuffer(size uint32) ([]byte, error)

	// ReleaseSendBuffer returns an unsent buffer to the transport.
	ReleaseSendBuffer(buf []byte)

	// Send transmits the buffer and consumes it.
	Send(buf []byte) error

	// Receive blocks until one complete TCP message (header included)
	// has arrived or the deadline expires.
	Receive(deadline time.Time) ([]byte, error)

	// Establish moves an opening connection to ConnEstablished; on a
	// connection in any other state it has no effect.
	Establish()

	Close() error
}

// ConnectionConfig holds the local transport parameters announced in the
// HEL message. After the ACK is processed the effective values are the
// per-field minimum of both sides.
type ConnectionConfig struct {
	ProtocolVersion uint32
	RecvBufferSize  uint32
	SendBufferSize  uint32
	MaxMessageSize  uint32
	MaxChunkCount   uint32
}

// ConnectionFunc opens a transport connection to an endpoint URL. The
// returned connection must be in state ConnOpening.
type ConnectionFunc func(cfg ConnectionConfig, endpointURL string, timeout time.Duration, logger *slog.Logger) (Conn, error)

// MessageSecurityMode is the security mode applied to messages on a
// secure channel.
type MessageSecurityMode uint32

// Message security modes.
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// String returns the string representation of a MessageSecurityMode.
func (m MessageSecurityMode) String() string {
	switch m {
	case MessageSecurityModeNone:
		return "None"
	case MessageSecurityModeSign:
		return "Sign"
	case MessageSecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return "Invalid"
	}
}

// Well-known security policy URIs.
const (
	SecurityPolicyURINone           = "http://opcfoundation.org/UA/SecurityPolicy#None"
	SecurityPolicyURIBasic128Rsa15  = "http://opcfoundation.org/UA/SecurityPolicy#Basic128Rsa15"
	SecurityPolicyURIBasic256       = "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	SecurityPolicyURIBasic256Sha256 = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"
	SecurityPolicyURIAes128Sha256   = "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep"
	SecurityPolicyURIAes256Sha256   = "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss"
)

// TransportProfileBinary is the transport profile this client speaks.
const TransportProfileBinary = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"

// Protocol constants.
const (
	// MinMessageSize is the smallest receive buffer a peer may announce.
	MinMessageSize uint32 = 8192

	// LocalNonceLength is the fixed length of locally generated channel
	// nonces.
	LocalNonceLength = 32

	// MaxDataSize is the protocol's data size constant in bytes. No code
	// path in this package applies it.
	MaxDataSize = 4096

	// ProtocolVersion is the OPC UA binary protocol version.
	ProtocolVersion uint32 = 0

	// DefaultTimeout is the per-step deadline for connect operations.
	DefaultTimeout = 5 * time.Second

	// DefaultSecureChannelLifetime is the requested security token
	// lifetime.
	DefaultSecureChannelLifetime = 10 * time.Minute

	// DefaultPort is the default OPC UA TCP port.
	DefaultPort = 4840
)

// NodeIDType represents the type of a NodeID.
type NodeIDType uint8

// NodeID types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID represents an OPC UA NodeID. The zero value is the null NodeID.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	String    string
	GUID      [16]byte
	Opaque    []byte
}

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{
		Type:      NodeIDTypeNumeric,
		Namespace: namespace,
		Numeric:   id,
	}
}

// IsNull reports whether the NodeID is the null identifier.
func (n NodeID) IsNull() bool {
	switch n.Type {
	case NodeIDTypeNumeric:
		return n.Namespace == 0 && n.Numeric == 0
	case NodeIDTypeString:
		return n.String == ""
	case NodeIDTypeGUID:
		return n.GUID == [16]byte{}
	case NodeIDTypeOpaque:
		return len(n.Opaque) == 0
	}
	return true
}

// ServiceID represents an OPC UA service identifier (the numeric id of
// the request type's binary encoding).
type ServiceID uint32

// Service ids used by the connection core.
const (
	ServiceGetEndpoints       ServiceID = 428
	ServiceOpenSecureChannel  ServiceID = 446
	ServiceCloseSecureChannel ServiceID = 452
	ServiceCreateSession      ServiceID = 461
	ServiceActivateSession    ServiceID = 467
	ServiceCloseSession       ServiceID = 473
)

// String returns the string representation of a ServiceID.
func (s ServiceID) String() string {
	switch s {
	case ServiceGetEndpoints:
		return "GetEndpoints"
	case ServiceOpenSecureChannel:
		return "OpenSecureChannel"
	case ServiceCloseSecureChannel:
		return "CloseSecureChannel"
	case ServiceCreateSession:
		return "CreateSession"
	case ServiceActivateSession:
		return "ActivateSession"
	case ServiceCloseSession:
		return "CloseSession"
	default:
		return "Unknown"
	}
}

// LocalizedText represents an OPC UA LocalizedText.
type LocalizedText struct {
	Locale string
	Text   string
}

// ApplicationType represents the type of an OPC UA application.
type ApplicationType uint32

// Application types.
const (
	ApplicationTypeServer          ApplicationType = 0
	ApplicationTypeClient          ApplicationType = 1
	ApplicationTypeClientAndServer ApplicationType = 2
	ApplicationTypeDiscoveryServer ApplicationType = 3
)

// ApplicationDescription describes an OPC UA application.
type ApplicationDescription struct {
	ApplicationURI      string
	ProductURI          string
	ApplicationName     LocalizedText
	ApplicationType     ApplicationType
	GatewayServerURI    string
	DiscoveryProfileURI string
	DiscoveryURLs       []string
}

// UserTokenType represents the type of user identity token.
type UserTokenType uint32

// User token types.
const (
	UserTokenTypeAnonymous   UserTokenType = 0
	UserTokenTypeUserName    UserTokenType = 1
	UserTokenTypeCertificate UserTokenType = 2
	UserTokenTypeIssuedToken UserTokenType = 3
)

// String returns the string representation of a UserTokenType.
func (t UserTokenType) String() string {
	switch t {
	case UserTokenTypeAnonymous:
		return "Anonymous"
	case UserTokenTypeUserName:
		return "UserName"
	case UserTokenTypeCertificate:
		return "Certificate"
	case UserTokenTypeIssuedToken:
		return "IssuedToken"
	default:
		return "Unknown"
	}
}

// UserTokenPolicy describes a user identity token policy advertised by a
// server endpoint.
type UserTokenPolicy struct {
	PolicyID          string
	TokenType         UserTokenType
	IssuedTokenType   string
	IssuerEndpointURL string
	SecurityPolicyURI string
}

// DeepCopy returns an independent copy of the policy.
func (p *UserTokenPolicy) DeepCopy() *UserTokenPolicy {
	cp := *p
	return &cp
}

// EndpointDescription describes an OPC UA endpoint.
type EndpointDescription struct {
	EndpointURL         string
	Server              ApplicationDescription
	ServerCertificate   []byte
	SecurityMode        MessageSecurityMode
	SecurityPolicyURI   string
	UserIdentityTokens  []UserTokenPolicy
	TransportProfileURI string
	SecurityLevel       uint8
}

// DeepCopy returns an independent copy of the endpoint description.
// Mutating the copy does not affect the original and vice versa.
func (e *EndpointDescription) DeepCopy() *EndpointDescription {
	cp := *e
	if e.ServerCertificate != nil {
		cp.ServerCertificate = make([]byte, len(e.ServerCertificate))
		copy(cp.ServerCertificate, e.ServerCertificate)
	}
	if e.Server.DiscoveryURLs != nil {
		cp.Server.DiscoveryURLs = make([]string, len(e.Server.DiscoveryURLs))
		copy(cp.Server.DiscoveryURLs, e.Server.DiscoveryURLs)
	}
	if e.UserIdentityTokens != nil {
		cp.UserIdentityTokens = make([]UserTokenPolicy, len(e.UserIdentityTokens))
		copy(cp.UserIdentityTokens, e.UserIdentityTokens)
	}
	return &cp
}

// UserIdentityToken is the configured client identity for session
// activation. A nil token is equivalent to AnonymousIdentityToken.
type UserIdentityToken interface {
	TokenType() UserTokenType
}

// AnonymousIdentityToken represents an anonymous user identity.
type AnonymousIdentityToken struct {
	PolicyID string
}

// TokenType implements UserIdentityToken.
func (*AnonymousIdentityToken) TokenType() UserTokenType { return UserTokenTypeAnonymous }

// UserNameIdentityToken represents a username/password user identity.
type UserNameIdentityToken struct {
	PolicyID            string
	UserName            string
	Password            []byte
	EncryptionAlgorithm string
}

// TokenType implements UserIdentityToken.
func (*UserNameIdentityToken) TokenType() UserTokenType { return UserTokenTypeUserName }

// X509IdentityToken represents an X.509 certificate user identity.
type X509IdentityToken struct {
	PolicyID        string
	CertificateData []byte
}

// TokenType implements UserIdentityToken.
func (*X509IdentityToken) TokenType() UserTokenType { return UserTokenTypeCertificate }

// IssuedIdentityToken represents an externally issued token identity.
type IssuedIdentityToken struct {
	PolicyID            string
	TokenData           []byte
	EncryptionAlgorithm string
}

// TokenType implements UserIdentityToken.
func (*IssuedIdentityToken) TokenType() UserTokenType { return UserTokenTypeIssuedToken }

// SecurityTokenRequestType selects between issuing a new channel
// security token and renewing the current one.
type SecurityTokenRequestType uint32

// Security token request types.
const (
	SecurityTokenRequestIssue SecurityTokenRequestType = 0
	SecurityTokenRequestRenew SecurityTokenRequestType = 1
)

// SignatureData contains a digital signature.
type SignatureData struct {
	Algorithm string
	Signature []byte
}

// SignedSoftwareCertificate contains a signed software certificate.
type SignedSoftwareCertificate struct {
	CertificateData []byte
	Signature       []byte
}

// DiagnosticInfo contains diagnostic information.
type DiagnosticInfo struct {
	SymbolicID     int32
	NamespaceURI   int32
	Locale         int32
	LocalizedText  int32
	AdditionalInfo string
}

// Request represents an OPC UA request that can be encoded.
type Request interface {
	ServiceID() ServiceID
	Encode() ([]byte, error)
}

// Response represents an OPC UA response that can be decoded.
type Response interface {
	ServiceID() ServiceID
	Decode(data []byte) error
}
