package uaclient

import (
	"fmt"
	"time"
)

// Binary encoding type ids: a response's type id is its request's id
// plus three.
const responseTypeIDOffset = 3

// serviceFaultTypeID is the binary encoding id of ServiceFault.
const serviceFaultTypeID = 397

// RequestHeader contains the header for all OPC UA requests.
type RequestHeader struct {
	AuthenticationToken NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryID        string
	TimeoutHint         uint32
}

func encodeRequestHeader(e *Encoder, h *RequestHeader) {
	e.WriteNodeID(h.AuthenticationToken)
	e.WriteDateTime(h.Timestamp)
	e.WriteUInt32(h.RequestHandle)
	e.WriteUInt32(h.ReturnDiagnostics)
	e.WriteString(h.AuditEntryID)
	e.WriteUInt32(h.TimeoutHint)
	// AdditionalHeader: null ExtensionObject
	e.WriteNodeID(NodeID{})
	e.WriteByte(0x00)
}

// ResponseHeader contains the header for all OPC UA responses.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
	StringTable   []string
}

func decodeResponseHeader(d *Decoder) (ResponseHeader, error) {
	var h ResponseHeader
	var err error

	h.Timestamp, err = d.ReadDateTime()
	if err != nil {
		return h, err
	}
	h.RequestHandle, err = d.ReadUInt32()
	if err != nil {
		return h, err
	}
	h.ServiceResult, err = d.ReadStatusCode()
	if err != nil {
		return h, err
	}

	// ServiceDiagnostics encoding mask (empty DiagnosticInfo)
	if _, err = d.ReadByte(); err != nil {
		return h, err
	}

	// StringTable
	count, err := d.ReadInt32()
	if err != nil {
		return h, err
	}
	for i := int32(0); i < count; i++ {
		s, err := d.ReadString()
		if err != nil {
			return h, err
		}
		h.StringTable = append(h.StringTable, s)
	}

	// AdditionalHeader: TypeId + encoding byte
	if _, err = d.ReadNodeID(); err != nil {
		return h, err
	}
	if _, err = d.ReadByte(); err != nil {
		return h, err
	}

	return h, nil
}

// ChannelSecurityToken is the server-issued security token of an open
// secure channel.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32 // milliseconds
}

// OpenSecureChannelRequest asks the server to issue or renew a channel
// security token.
type OpenSecureChannelRequest struct {
	RequestHeader         RequestHeader
	ClientProtocolVersion uint32
	RequestType           SecurityTokenRequestType
	SecurityMode          MessageSecurityMode
	ClientNonce           []byte
	RequestedLifetime     uint32 // milliseconds
}

// ServiceID implements Request.
func (r *OpenSecureChannelRequest) ServiceID() ServiceID {
	return ServiceOpenSecureChannel
}

// Encode implements Request.
func (r *OpenSecureChannelRequest) Encode() ([]byte, error) {
	e := NewEncoder()

	encodeRequestHeader(e, &r.RequestHeader)

	e.WriteUInt32(r.ClientProtocolVersion)
	e.WriteUInt32(uint32(r.RequestType))
	e.WriteUInt32(uint32(r.SecurityMode))
	e.WriteByteString(r.ClientNonce)
	e.WriteUInt32(r.RequestedLifetime)

	return e.Bytes(), nil
}

// OpenSecureChannelResponse carries the issued channel security token.
type OpenSecureChannelResponse struct {
	ResponseHeader        ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken         ChannelSecurityToken
	ServerNonce           []byte
}

// ServiceID implements Response.
func (r *OpenSecureChannelResponse) ServiceID() ServiceID {
	return ServiceOpenSecureChannel
}

// Decode implements Response.
func (r *OpenSecureChannelResponse) Decode(data []byte) error {
	d := NewDecoder(data)

	var err error
	r.ResponseHeader, err = decodeResponseHeader(d)
	if err != nil {
		return err
	}

	if r.ResponseHeader.ServiceResult.IsBad() {
		return NewUAError(ServiceOpenSecureChannel, r.ResponseHeader.ServiceResult, "")
	}

	r.ServerProtocolVersion, err = d.ReadUInt32()
	if err != nil {
		return err
	}

	r.SecurityToken.ChannelID, err = d.ReadUInt32()
	if err != nil {
		return err
	}
	r.SecurityToken.TokenID, err = d.ReadUInt32()
	if err != nil {
		return err
	}
	r.SecurityToken.CreatedAt, err = d.ReadDateTime()
	if err != nil {
		return err
	}
	r.SecurityToken.RevisedLifetime, err = d.ReadUInt32()
	if err != nil {
		return err
	}

	r.ServerNonce, err = d.ReadByteString()
	if err != nil {
		return err
	}

	return nil
}

// CloseSecureChannelRequest closes the secure channel. It is sent as a
// symmetric CLO message; the server does not respond.
type CloseSecureChannelRequest struct {
	RequestHeader RequestHeader
}

// ServiceID implements Request.
func (r *CloseSecureChannelRequest) ServiceID() ServiceID {
	return ServiceCloseSecureChannel
}

// Encode implements Request.
func (r *CloseSecureChannelRequest) Encode() ([]byte, error) {
	e := NewEncoder()
	encodeRequestHeader(e, &r.RequestHeader)
	return e.Bytes(), nil
}

// GetEndpointsRequest represents an OPC UA GetEndpoints request.
type GetEndpointsRequest struct {
	RequestHeader RequestHeader
	EndpointURL   string
	LocaleIDs     []string
	ProfileURIs   []string
}

// ServiceID implements Request.
func (r *GetEndpointsRequest) ServiceID() ServiceID {
	return ServiceGetEndpoints
}

// Encode implements Request.
func (r *GetEndpointsRequest) Encode() ([]byte, error) {
	e := NewEncoder()

	encodeRequestHeader(e, &r.RequestHeader)

	e.WriteString(r.EndpointURL)

	e.WriteInt32(int32(len(r.LocaleIDs)))
	for _, locale := range r.LocaleIDs {
		e.WriteString(locale)
	}

	e.WriteInt32(int32(len(r.ProfileURIs)))
	for _, profile := range r.ProfileURIs {
		e.WriteString(profile)
	}

	return e.Bytes(), nil
}

// GetEndpointsResponse represents an OPC UA GetEndpoints response.
type GetEndpointsResponse struct {
	ResponseHeader ResponseHeader
	Endpoints      []EndpointDescription
}

// ServiceID implements Response.
func (r *GetEndpointsResponse) ServiceID() ServiceID {
	return ServiceGetEndpoints
}

// Decode implements Response.
func (r *GetEndpointsResponse) Decode(data []byte) error {
	d := NewDecoder(data)

	var err error
	r.ResponseHeader, err = decodeResponseHeader(d)
	if err != nil {
		return err
	}

	if r.ResponseHeader.ServiceResult.IsBad() {
		return NewUAError(ServiceGetEndpoints, r.ResponseHeader.ServiceResult, "")
	}

	count, err := d.ReadInt32()
	if err != nil {
		return err
	}
	if count > 0 {
		r.Endpoints = make([]EndpointDescription, count)
		for i := int32(0); i < count; i++ {
			r.Endpoints[i], err = decodeEndpointDescription(d)
			if err != nil {
				return fmt.Errorf("failed to decode endpoint %d: %w", i, err)
			}
		}
	}

	return nil
}

func decodeEndpointDescription(d *Decoder) (EndpointDescription, error) {
	var ep EndpointDescription
	var err error

	ep.EndpointURL, err = d.ReadString()
	if err != nil {
		return ep, err
	}

	ep.Server, err = decodeApplicationDescription(d)
	if err != nil {
		return ep, err
	}

	ep.ServerCertificate, err = d.ReadByteString()
	if err != nil {
		return ep, err
	}

	secMode, err := d.ReadUInt32()
	if err != nil {
		return ep, err
	}
	ep.SecurityMode = MessageSecurityMode(secMode)

	ep.SecurityPolicyURI, err = d.ReadString()
	if err != nil {
		return ep, err
	}

	tokenCount, err := d.ReadInt32()
	if err != nil {
		return ep, err
	}
	if tokenCount > 0 {
		ep.UserIdentityTokens = make([]UserTokenPolicy, tokenCount)
		for i := int32(0); i < tokenCount; i++ {
			ep.UserIdentityTokens[i], err = decodeUserTokenPolicy(d)
			if err != nil {
				return ep, err
			}
		}
	}

	ep.TransportProfileURI, err = d.ReadString()
	if err != nil {
		return ep, err
	}

	ep.SecurityLevel, err = d.ReadByte()
	if err != nil {
		return ep, err
	}

	return ep, nil
}

func decodeApplicationDescription(d *Decoder) (ApplicationDescription, error) {
	var app ApplicationDescription
	var err error

	app.ApplicationURI, err = d.ReadString()
	if err != nil {
		return app, err
	}

	app.ProductURI, err = d.ReadString()
	if err != nil {
		return app, err
	}

	app.ApplicationName, err = d.ReadLocalizedText()
	if err != nil {
		return app, err
	}

	appType, err := d.ReadUInt32()
	if err != nil {
		return app, err
	}
	app.ApplicationType = ApplicationType(appType)

	app.GatewayServerURI, err = d.ReadString()
	if err != nil {
		return app, err
	}

	app.DiscoveryProfileURI, err = d.ReadString()
	if err != nil {
		return app, err
	}

	urlCount, err := d.ReadInt32()
	if err != nil {
		return app, err
	}
	if urlCount > 0 {
		app.DiscoveryURLs = make([]string, urlCount)
		for i := int32(0); i < urlCount; i++ {
			app.DiscoveryURLs[i], err = d.ReadString()
			if err != nil {
				return app, err
			}
		}
	}

	return app, nil
}

func decodeUserTokenPolicy(d *Decoder) (UserTokenPolicy, error) {
	var policy UserTokenPolicy
	var err error

	policy.PolicyID, err = d.ReadString()
	if err != nil {
		return policy, err
	}

	tokenType, err := d.ReadUInt32()
	if err != nil {
		return policy, err
	}
	policy.TokenType = UserTokenType(tokenType)

	policy.IssuedTokenType, err = d.ReadString()
	if err != nil {
		return policy, err
	}

	policy.IssuerEndpointURL, err = d.ReadString()
	if err != nil {
		return policy, err
	}

	policy.SecurityPolicyURI, err = d.ReadString()
	if err != nil {
		return policy, err
	}

	return policy, nil
}

// CreateSessionRequest represents an OPC UA CreateSession request.
type CreateSessionRequest struct {
	RequestHeader           RequestHeader
	ClientDescription       ApplicationDescription
	ServerURI               string
	EndpointURL             string
	SessionName             string
	ClientNonce             []byte
	ClientCertificate       []byte
	RequestedSessionTimeout float64
	MaxResponseMessageSize  uint32
}

// ServiceID implements Request.
func (r *CreateSessionRequest) ServiceID() ServiceID {
	return ServiceCreateSession
}

// Encode implements Request.
func (r *CreateSessionRequest) Encode() ([]byte, error) {
	e := NewEncoder()

	encodeRequestHeader(e, &r.RequestHeader)

	encodeApplicationDescription(e, &r.ClientDescription)

	e.WriteString(r.ServerURI)
	e.WriteString(r.EndpointURL)
	e.WriteString(r.SessionName)
	e.WriteByteString(r.ClientNonce)
	e.WriteByteString(r.ClientCertificate)
	e.WriteDouble(r.RequestedSessionTimeout)
	e.WriteUInt32(r.MaxResponseMessageSize)

	return e.Bytes(), nil
}

func encodeApplicationDescription(e *Encoder, app *ApplicationDescription) {
	e.WriteString(app.ApplicationURI)
	e.WriteString(app.ProductURI)
	e.WriteLocalizedText(app.ApplicationName)
	e.WriteUInt32(uint32(app.ApplicationType))
	e.WriteString(app.GatewayServerURI)
	e.WriteString(app.DiscoveryProfileURI)
	e.WriteInt32(int32(len(app.DiscoveryURLs)))
	for _, url := range app.DiscoveryURLs {
		e.WriteString(url)
	}
}

// CreateSessionResponse represents an OPC UA CreateSession response.
type CreateSessionResponse struct {
	ResponseHeader             ResponseHeader
	SessionID                  NodeID
	AuthenticationToken        NodeID
	RevisedSessionTimeout      float64
	ServerNonce                []byte
	ServerCertificate          []byte
	ServerEndpoints            []EndpointDescription
	ServerSoftwareCertificates []SignedSoftwareCertificate
	ServerSignature            SignatureData
	MaxRequestMessageSize      uint32
}

// ServiceID implements Response.
func (r *CreateSessionResponse) ServiceID() ServiceID {
	return ServiceCreateSession
}

// Decode implements Response.
func (r *CreateSessionResponse) Decode(data []byte) error {
	d := NewDecoder(data)

	var err error
	r.ResponseHeader, err = decodeResponseHeader(d)
	if err != nil {
		return err
	}

	if r.ResponseHeader.ServiceResult.IsBad() {
		return NewUAError(ServiceCreateSession, r.ResponseHeader.ServiceResult, "")
	}

	r.SessionID, err = d.ReadNodeID()
	if err != nil {
		return fmt.Errorf("failed to read SessionID: %w", err)
	}

	r.AuthenticationToken, err = d.ReadNodeID()
	if err != nil {
		return fmt.Errorf("failed to read AuthenticationToken: %w", err)
	}

	r.RevisedSessionTimeout, err = d.ReadDouble()
	if err != nil {
		return fmt.Errorf("failed to read RevisedSessionTimeout: %w", err)
	}

	r.ServerNonce, err = d.ReadByteString()
	if err != nil {
		return fmt.Errorf("failed to read ServerNonce: %w", err)
	}

	r.ServerCertificate, err = d.ReadByteString()
	if err != nil {
		return fmt.Errorf("failed to read ServerCertificate: %w", err)
	}

	endpointCount, err := d.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to read ServerEndpoints count: %w", err)
	}
	if endpointCount > 0 {
		r.ServerEndpoints = make([]EndpointDescription, endpointCount)
		for i := int32(0); i < endpointCount; i++ {
			r.ServerEndpoints[i], err = decodeEndpointDescription(d)
			if err != nil {
				return fmt.Errorf("failed to decode endpoint %d: %w", i, err)
			}
		}
	}

	certCount, err := d.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to read ServerSoftwareCertificates count: %w", err)
	}
	if certCount > 0 {
		r.ServerSoftwareCertificates = make([]SignedSoftwareCertificate, certCount)
		for i := int32(0); i < certCount; i++ {
			r.ServerSoftwareCertificates[i].CertificateData, _ = d.ReadByteString()
			r.ServerSoftwareCertificates[i].Signature, _ = d.ReadByteString()
		}
	}

	r.ServerSignature.Algorithm, _ = d.ReadString()
	r.ServerSignature.Signature, _ = d.ReadByteString()

	r.MaxRequestMessageSize, _ = d.ReadUInt32()

	return nil
}

// ActivateSessionRequest represents an OPC UA ActivateSession request.
type ActivateSessionRequest struct {
	RequestHeader              RequestHeader
	ClientSignature            SignatureData
	ClientSoftwareCertificates []SignedSoftwareCertificate
	LocaleIDs                  []string
	UserIdentityToken          UserIdentityToken
	UserTokenSignature         SignatureData
}

// ServiceID implements Request.
func (r *ActivateSessionRequest) ServiceID() ServiceID {
	return ServiceActivateSession
}

// Encode implements Request.
func (r *ActivateSessionRequest) Encode() ([]byte, error) {
	e := NewEncoder()

	encodeRequestHeader(e, &r.RequestHeader)

	e.WriteString(r.ClientSignature.Algorithm)
	e.WriteByteString(r.ClientSignature.Signature)

	e.WriteInt32(int32(len(r.ClientSoftwareCertificates)))
	for _, cert := range r.ClientSoftwareCertificates {
		e.WriteByteString(cert.CertificateData)
		e.WriteByteString(cert.Signature)
	}

	e.WriteInt32(int32(len(r.LocaleIDs)))
	for _, locale := range r.LocaleIDs {
		e.WriteString(locale)
	}

	encodeUserIdentityToken(e, r.UserIdentityToken)

	e.WriteString(r.UserTokenSignature.Algorithm)
	e.WriteByteString(r.UserTokenSignature.Signature)

	return e.Bytes(), nil
}

// encodeUserIdentityToken encodes a user identity token as an
// ExtensionObject. A nil token encodes as an anonymous token with an
// empty policy id.
func encodeUserIdentityToken(e *Encoder, token UserIdentityToken) {
	body := NewEncoder()

	switch t := token.(type) {
	case *UserNameIdentityToken:
		// UserNameIdentityToken_Encoding_DefaultBinary = 324
		e.WriteNodeID(NewNumericNodeID(0, 324))
		body.WriteString(t.PolicyID)
		body.WriteString(t.UserName)
		body.WriteByteString(t.Password)
		body.WriteString(t.EncryptionAlgorithm)

	case *X509IdentityToken:
		// X509IdentityToken_Encoding_DefaultBinary = 327
		e.WriteNodeID(NewNumericNodeID(0, 327))
		body.WriteString(t.PolicyID)
		body.WriteByteString(t.CertificateData)

	case *IssuedIdentityToken:
		// IssuedIdentityToken_Encoding_DefaultBinary = 940
		e.WriteNodeID(NewNumericNodeID(0, 940))
		body.WriteString(t.PolicyID)
		body.WriteByteString(t.TokenData)
		body.WriteString(t.EncryptionAlgorithm)

	case *AnonymousIdentityToken:
		// AnonymousIdentityToken_Encoding_DefaultBinary = 321
		e.WriteNodeID(NewNumericNodeID(0, 321))
		body.WriteString(t.PolicyID)

	default:
		e.WriteNodeID(NewNumericNodeID(0, 321))
		body.WriteString("")
	}

	e.WriteByte(0x01) // encoding: binary body
	e.WriteInt32(int32(body.Len()))
	e.buf.Write(body.Bytes())
}

// ActivateSessionResponse represents an OPC UA ActivateSession response.
type ActivateSessionResponse struct {
	ResponseHeader ResponseHeader
	ServerNonce    []byte
	Results        []StatusCode
}

// ServiceID implements Response.
func (r *ActivateSessionResponse) ServiceID() ServiceID {
	return ServiceActivateSession
}

// Decode implements Response.
func (r *ActivateSessionResponse) Decode(data []byte) error {
	d := NewDecoder(data)

	var err error
	r.ResponseHeader, err = decodeResponseHeader(d)
	if err != nil {
		return err
	}

	if r.ResponseHeader.ServiceResult.IsBad() {
		return NewUAError(ServiceActivateSession, r.ResponseHeader.ServiceResult, "")
	}

	r.ServerNonce, err = d.ReadByteString()
	if err != nil {
		return fmt.Errorf("failed to read ServerNonce: %w", err)
	}

	resultCount, err := d.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to read Results count: %w", err)
	}
	if resultCount > 0 {
		r.Results = make([]StatusCode, resultCount)
		for i := int32(0); i < resultCount; i++ {
			r.Results[i], err = d.ReadStatusCode()
			if err != nil {
				return fmt.Errorf("failed to read result %d: %w", i, err)
			}
		}
	}

	return nil
}

// CloseSessionRequest represents an OPC UA CloseSession request.
type CloseSessionRequest struct {
	RequestHeader       RequestHeader
	DeleteSubscriptions bool
}

// ServiceID implements Request.
func (r *CloseSessionRequest) ServiceID() ServiceID {
	return ServiceCloseSession
}

// Encode implements Request.
func (r *CloseSessionRequest) Encode() ([]byte, error) {
	e := NewEncoder()
	encodeRequestHeader(e, &r.RequestHeader)
	e.WriteBoolean(r.DeleteSubscriptions)
	return e.Bytes(), nil
}

// CloseSessionResponse represents an OPC UA CloseSession response.
type CloseSessionResponse struct {
	ResponseHeader ResponseHeader
}

// ServiceID implements Response.
func (r *CloseSessionResponse) ServiceID() ServiceID {
	return ServiceCloseSession
}

// Decode implements Response.
func (r *CloseSessionResponse) Decode(data []byte) error {
	d := NewDecoder(data)

	var err error
	r.ResponseHeader, err = decodeResponseHeader(d)
	if err != nil {
		return err
	}

	if r.ResponseHeader.ServiceResult.IsBad() {
		return NewUAError(ServiceCloseSession, r.ResponseHeader.ServiceResult, "")
	}

	return nil
}
