package uaclient

import (
	"encoding/binary"
	"log/slog"
	"time"
)

// fakeServer scripts server-side behavior for connection tests. Each
// dial produces a fakeConn whose Send synthesizes the server's reply
// into the connection's inbox.
type fakeServer struct {
	endpoints       []EndpointDescription
	revisedLifetime uint32 // ms
	silentAfterHEL  bool
	helError        *ErrorMessage
	activateFault   StatusCode
	dropActivate    bool

	dials int
	conns []*fakeConn
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		revisedLifetime: 600000,
	}
}

// connectionFunc returns a ConnectionFunc that dials this fake server.
func (s *fakeServer) connectionFunc() ConnectionFunc {
	return func(cfg ConnectionConfig, endpointURL string, timeout time.Duration, logger *slog.Logger) (Conn, error) {
		s.dials++
		conn := &fakeConn{server: s, state: ConnOpening}
		s.conns = append(s.conns, conn)
		return conn, nil
	}
}

// sentMessages returns every raw message sent over all connections in
// order.
func (s *fakeServer) sentMessages() [][]byte {
	var msgs [][]byte
	for _, conn := range s.conns {
		msgs = append(msgs, conn.sent...)
	}
	return msgs
}

// anonymousNoneEndpoint is the canonical happy-path endpoint: security
// mode None, empty transport profile URI, one anonymous token policy.
func anonymousNoneEndpoint(url string) EndpointDescription {
	return EndpointDescription{
		EndpointURL:       url,
		SecurityMode:      MessageSecurityModeNone,
		SecurityPolicyURI: SecurityPolicyURINone,
		UserIdentityTokens: []UserTokenPolicy{
			{PolicyID: "anonymous", TokenType: UserTokenTypeAnonymous},
		},
	}
}

// fakeConn is an in-memory Conn with deterministic buffer accounting.
type fakeConn struct {
	server *fakeServer
	state  ConnState

	inbox [][]byte
	sent  [][]byte

	gets     int
	releases int
	sends    int
	closed   bool
}

func (c *fakeConn) State() ConnState { return c.state }

func (c *fakeConn) Establish() {
	if c.state == ConnOpening {
		c.state = ConnEstablished
	}
}

func (c *fakeConn) GetSendBuffer(size uint32) ([]byte, error) {
	c.gets++
	return make([]byte, 0, size), nil
}

func (c *fakeConn) ReleaseSendBuffer(buf []byte) {
	c.releases++
}

func (c *fakeConn) Send(buf []byte) error {
	c.sends++
	msg := make([]byte, len(buf))
	copy(msg, buf)
	c.sent = append(c.sent, msg)
	c.server.handle(c, msg)
	return nil
}

func (c *fakeConn) Receive(deadline time.Time) ([]byte, error) {
	if len(c.inbox) == 0 {
		return nil, ErrTimeout
	}
	msg := c.inbox[0]
	c.inbox = c.inbox[1:]
	return msg, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	c.state = ConnClosed
	return nil
}

func (c *fakeConn) push(msg []byte) {
	c.inbox = append(c.inbox, msg)
}

// handle decodes a client message and queues the scripted response.
func (s *fakeServer) handle(c *fakeConn, msg []byte) {
	var header MessageHeader
	if err := header.Decode(msg); err != nil {
		return
	}

	switch string(header.MessageType[:]) {
	case MessageTypeHello:
		if s.silentAfterHEL {
			return
		}
		if s.helError != nil {
			c.push(buildRawMessage(MessageTypeError, s.helError.Encode()))
			return
		}
		ack := AcknowledgeMessage{
			ProtocolVersion:   0,
			ReceiveBufferSize: 65535,
			SendBufferSize:    65535,
		}
		c.push(buildRawMessage(MessageTypeAcknowledge, ack.Encode()))

	case MessageTypeOpenChannel:
		requestID := parseOPNRequestID(msg)
		c.push(s.buildOPNResponse(requestID))

	case MessageTypeMessage:
		s.handleServiceRequest(c, msg)

	case MessageTypeCloseChannel:
		// no response to a CLO
	}
}

func buildRawMessage(messageType string, body []byte) []byte {
	msg := make([]byte, 0, MessageHeaderSize+len(body))
	msg = append(msg, make([]byte, MessageHeaderSize)...)
	msg = append(msg, body...)
	writeMessageHeader(msg, messageType, ChunkTypeFinal)
	return msg
}

// parseOPNRequestID extracts the request id from an unsecured OPN
// message.
func parseOPNRequestID(msg []byte) uint32 {
	d := NewDecoder(msg[MessageHeaderSize:])
	d.ReadUInt32()     // channel id
	d.ReadString()     // policy URI
	d.ReadByteString() // sender certificate
	d.ReadByteString() // receiver thumbprint
	d.ReadUInt32()     // sequence number
	requestID, _ := d.ReadUInt32()
	return requestID
}

func (s *fakeServer) buildOPNResponse(requestID uint32) []byte {
	e := NewEncoder()
	e.WriteUInt32(1) // secure channel id

	// Asymmetric security header
	e.WriteString(SecurityPolicyURINone)
	e.WriteByteString(nil)
	e.WriteByteString(nil)

	// Sequence header
	e.WriteUInt32(1)
	e.WriteUInt32(requestID)

	e.WriteNodeID(NewNumericNodeID(0, uint32(ServiceOpenSecureChannel)+responseTypeIDOffset))
	encodeTestResponseHeader(e, StatusGood)

	// OpenSecureChannelResponse body
	e.WriteUInt32(0) // server protocol version
	e.WriteUInt32(1) // channel id
	e.WriteUInt32(7) // token id
	e.WriteDateTime(time.Now())
	e.WriteUInt32(s.revisedLifetime)
	nonce := make([]byte, LocalNonceLength)
	e.WriteByteString(nonce)

	return buildRawMessage(MessageTypeOpenChannel, e.Bytes())
}

// handleServiceRequest answers MSG requests by service type id.
func (s *fakeServer) handleServiceRequest(c *fakeConn, msg []byte) {
	d := NewDecoder(msg[MessageHeaderSize:])
	d.ReadUInt32() // channel id
	d.ReadUInt32() // token id
	d.ReadUInt32() // sequence number
	requestID, _ := d.ReadUInt32()
	typeID, err := d.ReadNodeID()
	if err != nil {
		return
	}

	body := NewEncoder()
	var respType uint32

	switch ServiceID(typeID.Numeric) {
	case ServiceGetEndpoints:
		respType = uint32(ServiceGetEndpoints) + responseTypeIDOffset
		encodeTestResponseHeader(body, StatusGood)
		body.WriteInt32(int32(len(s.endpoints)))
		for i := range s.endpoints {
			encodeTestEndpointDescription(body, &s.endpoints[i])
		}

	case ServiceCreateSession:
		respType = uint32(ServiceCreateSession) + responseTypeIDOffset
		encodeTestResponseHeader(body, StatusGood)
		body.WriteNodeID(NewNumericNodeID(1, 100)) // session id
		body.WriteNodeID(NewNumericNodeID(1, 4242)) // authentication token
		body.WriteDouble(3600000)
		body.WriteByteString(make([]byte, LocalNonceLength)) // server nonce
		body.WriteByteString(nil)                            // server certificate
		body.WriteInt32(-1)                                  // server endpoints
		body.WriteInt32(-1)                                  // software certificates
		body.WriteString("")                                 // signature algorithm
		body.WriteByteString(nil)                            // signature
		body.WriteUInt32(0)                                  // max request size

	case ServiceActivateSession:
		if s.dropActivate {
			return
		}
		if s.activateFault != StatusGood {
			respType = serviceFaultTypeID
			encodeTestResponseHeader(body, s.activateFault)
			break
		}
		respType = uint32(ServiceActivateSession) + responseTypeIDOffset
		encodeTestResponseHeader(body, StatusGood)
		body.WriteByteString(make([]byte, LocalNonceLength)) // server nonce
		body.WriteInt32(-1)                                  // results
		body.WriteInt32(-1)                                  // diagnostic infos

	case ServiceCloseSession:
		respType = uint32(ServiceCloseSession) + responseTypeIDOffset
		encodeTestResponseHeader(body, StatusGood)

	default:
		respType = serviceFaultTypeID
		encodeTestResponseHeader(body, StatusBadServiceUnsupported)
	}

	e := NewEncoder()
	e.WriteUInt32(1) // channel id
	e.WriteUInt32(7) // token id
	e.WriteUInt32(1) // sequence number
	e.WriteUInt32(requestID)
	e.WriteNodeID(NewNumericNodeID(0, respType))
	e.buf.Write(body.Bytes())

	c.push(buildRawMessage(MessageTypeMessage, e.Bytes()))
}

func encodeTestResponseHeader(e *Encoder, result StatusCode) {
	e.WriteDateTime(time.Now())
	e.WriteUInt32(0) // request handle
	e.WriteStatusCode(result)
	e.WriteByte(0x00) // service diagnostics
	e.WriteInt32(-1)  // string table
	e.WriteNodeID(NodeID{})
	e.WriteByte(0x00) // additional header
}

func encodeTestEndpointDescription(e *Encoder, ep *EndpointDescription) {
	e.WriteString(ep.EndpointURL)
	encodeApplicationDescription(e, &ep.Server)
	e.WriteByteString(ep.ServerCertificate)
	e.WriteUInt32(uint32(ep.SecurityMode))
	e.WriteString(ep.SecurityPolicyURI)
	e.WriteInt32(int32(len(ep.UserIdentityTokens)))
	for _, tok := range ep.UserIdentityTokens {
		e.WriteString(tok.PolicyID)
		e.WriteUInt32(uint32(tok.TokenType))
		e.WriteString(tok.IssuedTokenType)
		e.WriteString(tok.IssuerEndpointURL)
		e.WriteString(tok.SecurityPolicyURI)
	}
	e.WriteString(ep.TransportProfileURI)
	e.WriteByte(ep.SecurityLevel)
}

// wireRequestIDs extracts the request id of every OPN, MSG and CLO
// message sent by the client, in wire order.
func wireRequestIDs(msgs [][]byte) []uint32 {
	var ids []uint32
	for _, msg := range msgs {
		var header MessageHeader
		if err := header.Decode(msg); err != nil {
			continue
		}
		switch string(header.MessageType[:]) {
		case MessageTypeOpenChannel:
			ids = append(ids, parseOPNRequestID(msg))
		case MessageTypeMessage, MessageTypeCloseChannel:
			if len(msg) < 24 {
				continue
			}
			ids = append(ids, binary.LittleEndian.Uint32(msg[20:24]))
		}
	}
	return ids
}

// sentMessageTypes lists the 3-byte type of every sent message.
func sentMessageTypes(msgs [][]byte) []string {
	var types []string
	for _, msg := range msgs {
		types = append(types, string(msg[0:3]))
	}
	return types
}
