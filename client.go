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

package uaclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edgeo-scada/uaclient/internal/transport"
)

// Client is an OPC UA binary-protocol client. It drives the layered
// connection establishment: TCP, HEL/ACK, secure channel, session.
//
// The client is single-threaded cooperative: it assumes exclusive use
// by its caller during a connect or disconnect sequence. RunIterate is
// the sole suspension point.
type Client struct {
	config Config

	mu    sync.Mutex
	state ClientState

	conn    Conn
	channel SecureChannel

	endpointURL string

	authenticationToken NodeID
	serverNonce         []byte
	reactivating        bool

	requestID     RequestIDGenerator
	requestHandle RequestIDGenerator

	nextChannelRenewal time.Time
	connectStatus      StatusCode

	pendingCalls map[uint32]*asyncServiceCall

	metrics *Metrics
	logger  *slog.Logger
}

// asyncServiceCall is a registered callback for an in-flight request.
// Exactly one of body and fault is set when the handler runs.
type asyncServiceCall struct {
	serviceID ServiceID
	handler   func(c *Client, body []byte, fault *UAError)
}

// NewClient creates a new client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.LocalConnectionConfig.RecvBufferSize < MinMessageSize {
		config.LocalConnectionConfig.RecvBufferSize = MinMessageSize
	}
	if config.LocalConnectionConfig.SendBufferSize < MinMessageSize {
		config.LocalConnectionConfig.SendBufferSize = MinMessageSize
	}
	if len(config.SecurityPolicies) == 0 {
		config.SecurityPolicies = []*SecurityPolicy{NewSecurityPolicyNone()}
	}

	c := &Client{
		config:        *config,
		state:         StateDisconnected,
		connectStatus: StatusGood,
		pendingCalls:  make(map[uint32]*asyncServiceCall),
		metrics:       NewMetrics(),
		logger:        config.Logger,
	}
	c.channel.logger = c.logger
	return c, nil
}

// State returns the current client state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel returns the client's secure channel.
func (c *Client) Channel() *SecureChannel {
	return &c.channel
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// ConnectStatus returns the status of the last asynchronous completion.
func (c *Client) ConnectStatus() StatusCode {
	return c.connectStatus
}

// setState records a state change and notifies the observer. Setting
// the current value is a no-op. The callback must not mutate the state
// synchronously.
func (c *Client) setState(state ClientState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Debug("client state changed", slog.String("state", state.String()))
	if c.config.StateCallback != nil {
		c.config.StateCallback(c, state)
	}
}

// securityPolicyByURI looks up a configured security policy by URI
// equality. It returns nil when no policy matches.
func (c *Client) securityPolicyByURI(policyURI string) *SecurityPolicy {
	for _, sp := range c.config.SecurityPolicies {
		if sp.URI == policyURI {
			return sp
		}
	}
	return nil
}

// verifyApplicationURI warns when a configured security policy carries a
// certificate whose embedded URI does not match the configured
// ApplicationURI. A mismatch does not fail the connect.
func (c *Client) verifyApplicationURI() {
	for _, sp := range c.config.SecurityPolicies {
		if sp.LocalCertificate == nil {
			continue
		}
		certURI, err := CertificateApplicationURI(sp.LocalCertificate)
		if err != nil || certURI != c.config.ClientDescription.ApplicationURI {
			c.logger.Warn("the configured ApplicationURI does not match the URI specified in the certificate",
				slog.String("policy", sp.URI),
				slog.String("application_uri", c.config.ClientDescription.ApplicationURI))
		}
	}
}

// defaultConnectionFunc dials a plain TCP connection.
func defaultConnectionFunc(cfg ConnectionConfig, endpointURL string, timeout time.Duration, logger *slog.Logger) (Conn, error) {
	tc, err := transport.Dial(endpointURL, transport.Config{
		RecvBufferSize: cfg.RecvBufferSize,
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		MaxChunkCount:  cfg.MaxChunkCount,
	}, timeout, logger)
	if err != nil {
		return nil, err
	}
	return &tcpConn{tc}, nil
}

// tcpConn adapts the transport connection to the Conn interface.
type tcpConn struct {
	*transport.Conn
}

func (c *tcpConn) State() ConnState {
	switch c.Conn.State() {
	case transport.StateOpening:
		return ConnOpening
	case transport.StateEstablished:
		return ConnEstablished
	default:
		return ConnClosed
	}
}

// Connect establishes a full connection: TCP, HEL/ACK, secure channel,
// optional endpoint discovery, and an activated session. When discovery
// selects a security policy other than the one the channel was opened
// with, the client disconnects and reconnects once with the selected
// endpoint installed.
func (c *Client) Connect(endpointURL string) error {
	// At most one restart is needed: the second pass runs with the
	// endpoint configured, so discovery is skipped.
	for retries := 0; ; retries++ {
		switched, err := c.connectInternal(endpointURL)
		if err != nil {
			return err
		}
		if !switched {
			return nil
		}
		if retries >= 1 {
			return NewUAError(ServiceOpenSecureChannel, StatusBadInternalError,
				"security policy switch did not converge")
		}
	}
}

// ConnectNoSession connects up to an open secure channel and stops
// there.
func (c *Client) ConnectNoSession(endpointURL string) error {
	return c.connectTCPSecureChannel(endpointURL)
}

// ConnectUsername installs a UserName identity token and connects.
func (c *Client) ConnectUsername(endpointURL, username, password string) error {
	c.config.UserIdentityToken = &UserNameIdentityToken{
		UserName: username,
		Password: []byte(password),
	}
	return c.Connect(endpointURL)
}

func (c *Client) connectInternal(endpointURL string) (policySwitched bool, err error) {
	if c.State() >= StateConnected {
		return false, nil
	}

	c.logger.Info("connecting", slog.String("endpoint_url", endpointURL))
	c.metrics.ConnectsTotal.Add(1)

	c.verifyApplicationURI()

	// Discovery runs only when neither an endpoint nor a user token
	// policy has been configured.
	getEndpoints := c.config.Endpoint == nil && c.config.UserTokenPolicy == nil

	if err := c.connectTCPSecureChannel(endpointURL); err != nil {
		c.logger.Error("couldn't connect the client to a TCP secure channel",
			slog.String("error", err.Error()))
		c.metrics.ConnectErrors.Add(1)
		return false, err
	}

	if getEndpoints {
		c.logger.Info("endpoint and UserTokenPolicy unconfigured, perform GetEndpoints")
		if err := c.selectEndpoint(endpointURL); err != nil {
			c.metrics.ConnectErrors.Add(1)
			c.Disconnect()
			return false, err
		}

		// Reconnect with a new secure channel if the current one does
		// not match the selected endpoint.
		if c.config.Endpoint.SecurityPolicyURI != c.channel.securityPolicy.URI {
			c.logger.Info("disconnect to switch to a different SecurityPolicy",
				slog.String("selected", c.config.Endpoint.SecurityPolicyURI),
				slog.String("current", c.channel.securityPolicy.URI))
			c.Disconnect()
			return true, nil
		}
	}

	if err := c.connectSession(); err != nil {
		c.metrics.ConnectErrors.Add(1)
		c.Disconnect()
		return false, err
	}

	return false, nil
}

// connectTCPSecureChannel opens the TCP connection, performs the
// HEL/ACK handshake and opens a secure channel in issue mode.
func (c *Client) connectTCPSecureChannel(endpointURL string) error {
	if c.State() >= StateConnected {
		return nil
	}

	c.endpointURL = endpointURL
	c.connectStatus = StatusGood
	c.channel.reset(c.config.LocalConnectionConfig)
	c.requestID.Reset()

	// Channel security mode follows the configured endpoint, falling
	// back to None when unset.
	c.channel.securityMode = MessageSecurityModeInvalid
	if c.config.Endpoint != nil {
		c.channel.securityMode = c.config.Endpoint.SecurityMode
	}
	if c.channel.securityMode == MessageSecurityModeInvalid {
		c.channel.securityMode = MessageSecurityModeNone
	}

	if c.channel.securityPolicy == nil {
		policyURI := SecurityPolicyURINone
		var serverCert []byte
		if c.config.Endpoint != nil && c.config.Endpoint.SecurityPolicyURI != "" {
			policyURI = c.config.Endpoint.SecurityPolicyURI
			serverCert = c.config.Endpoint.ServerCertificate
		} else {
			c.logger.Info("SecurityPolicy not specified, using default #None")
		}

		sp := c.securityPolicyByURI(policyURI)
		if sp == nil {
			c.logger.Error("failed to find the required security policy",
				slog.String("policy", policyURI))
			return NewUAError(ServiceOpenSecureChannel, StatusBadInternalError,
				"security policy not available: "+policyURI)
		}
		if err := c.channel.setSecurityPolicy(sp, serverCert); err != nil {
			return err
		}
	}

	conn, err := c.config.ConnectionFunc(c.config.LocalConnectionConfig, endpointURL,
		c.config.Timeout, c.logger)
	if err != nil {
		c.logger.Error("opening the TCP socket failed", slog.String("error", err.Error()))
		c.Disconnect()
		return fmt.Errorf("opening the TCP socket failed: %w", errors.Join(err, StatusBadConnectionClosed))
	}
	if conn.State() != ConnOpening {
		c.Disconnect()
		return fmt.Errorf("opening the TCP socket failed: %w", StatusBadConnectionClosed)
	}
	conn.Establish()
	c.conn = conn
	c.channel.attach(conn)

	c.logger.Info("TCP connection established", slog.String("endpoint_url", endpointURL))

	if err := c.helAckHandshake(endpointURL); err != nil {
		c.logger.Error("HEL/ACK handshake failed", slog.String("error", err.Error()))
		c.Disconnect()
		return err
	}
	c.setState(StateConnected)

	if err := c.openSecureChannel(false); err != nil {
		c.logger.Error("opening a secure channel failed", slog.String("error", err.Error()))
		c.Disconnect()
		return err
	}

	return nil
}

// helAckHandshake sends the HEL message and blocks until a complete ACK
// chunk has been received or the per-attempt timeout expired.
func (c *Client) helAckHandshake(endpointURL string) error {
	hello := HelloMessage{
		ProtocolVersion:   c.config.LocalConnectionConfig.ProtocolVersion,
		ReceiveBufferSize: c.config.LocalConnectionConfig.RecvBufferSize,
		SendBufferSize:    c.config.LocalConnectionConfig.SendBufferSize,
		MaxMessageSize:    c.config.LocalConnectionConfig.MaxMessageSize,
		MaxChunkCount:     c.config.LocalConnectionConfig.MaxChunkCount,
		EndpointURL:       endpointURL,
	}

	buf, err := c.conn.GetSendBuffer(MinMessageSize)
	if err != nil {
		return err
	}

	// Body first; the header is written once the length is known.
	body := hello.Encode()
	if MessageHeaderSize+len(body) > int(MinMessageSize) {
		c.conn.ReleaseSendBuffer(buf)
		return fmt.Errorf("HEL message too large: %w", StatusBadTcpEndpointUrlInvalid)
	}
	buf = append(buf, make([]byte, MessageHeaderSize)...)
	buf = append(buf, body...)
	writeMessageHeader(buf, MessageTypeHello, ChunkTypeFinal)

	if err := c.conn.Send(buf); err != nil {
		c.logger.Error("sending HEL failed", slog.String("error", err.Error()))
		return err
	}
	c.channel.state = ChannelHELSent
	c.logger.Debug("sent HEL message")

	msg, err := c.conn.Receive(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.logger.Error("receiving ACK message failed", slog.String("error", err.Error()))
		c.setState(StateDisconnected)
		return fmt.Errorf("receiving ACK failed: %w", errors.Join(err, StatusBadConnectionClosed))
	}

	var header MessageHeader
	if err := header.Decode(msg); err != nil {
		return err
	}

	switch string(header.MessageType[:]) {
	case MessageTypeAcknowledge:
		var ack AcknowledgeMessage
		if err := ack.Decode(msg[MessageHeaderSize:]); err != nil {
			c.logger.Error("decoding ACK message failed")
			return err
		}
		c.logger.Debug("received ACK message",
			slog.Uint64("recv_buffer", uint64(ack.ReceiveBufferSize)),
			slog.Uint64("send_buffer", uint64(ack.SendBufferSize)))
		if err := c.channel.processHELACK(&ack); err != nil {
			c.logger.Error("processing the ACK message failed", slog.String("error", err.Error()))
			return err
		}
		c.conn.Establish()
		return nil

	case MessageTypeError:
		var errMsg ErrorMessage
		if err := errMsg.Decode(msg[MessageHeaderSize:]); err != nil {
			return err
		}
		if errMsg.Reason != "" {
			return fmt.Errorf("server rejected HEL (%s): %w", errMsg.Reason, errMsg.Error)
		}
		return fmt.Errorf("server rejected HEL: %w", errMsg.Error)

	default:
		return fmt.Errorf("%w: unexpected message type %s", ErrInvalidResponse, header.MessageType)
	}
}

// openSecureChannel establishes or refreshes the channel security token
// via an asymmetrically protected OPN exchange.
func (c *Client) openSecureChannel(renew bool) error {
	// Still valid, nothing to do.
	if renew && time.Now().Before(c.nextChannelRenewal) {
		return nil
	}

	if c.conn == nil || c.conn.State() != ConnEstablished {
		return fmt.Errorf("cannot open secure channel: %w", StatusBadServerNotConnected)
	}

	if err := c.channel.generateLocalNonce(); err != nil {
		c.logger.Error("generating a local nonce failed")
		return err
	}

	requestType := SecurityTokenRequestIssue
	if renew {
		requestType = SecurityTokenRequestRenew
		c.metrics.Renewals.Add(1)
		c.logger.Debug("requesting to renew the SecureChannel")
	} else {
		c.logger.Debug("requesting to open a SecureChannel")
	}

	req := &OpenSecureChannelRequest{
		RequestHeader: RequestHeader{
			AuthenticationToken: c.authenticationToken,
			Timestamp:           time.Now(),
			RequestHandle:       c.requestHandle.Next(),
			TimeoutHint:         uint32(c.config.Timeout.Milliseconds()),
		},
		ClientProtocolVersion: ProtocolVersion,
		RequestType:           requestType,
		SecurityMode:          c.channel.securityMode,
		ClientNonce:           c.channel.localNonce,
		RequestedLifetime:     uint32(c.config.SecureChannelLifetime.Milliseconds()),
	}

	requestID := c.requestID.Next()
	if err := c.channel.sendAsymmetricOPN(requestID, req); err != nil {
		c.logger.Error("sending OPN message failed", slog.String("error", err.Error()))
		c.Disconnect()
		return err
	}
	c.logger.Debug("OPN message sent")

	// Push the renewal deadline out before waiting so that publish
	// responses racing the OPN response cannot re-trigger renewal.
	c.nextChannelRenewal = time.Now().Add(2 * c.config.Timeout)

	deadline := time.Now().Add(c.config.Timeout)
	for c.channel.state != ChannelOpen {
		if time.Now().After(deadline) {
			return fmt.Errorf("OPN response missed the deadline: %w", StatusBadConnectionClosed)
		}
		if err := c.receiveServiceResponse(deadline); err != nil {
			if isTimeoutError(err) {
				continue
			}
			return err
		}
	}

	return nil
}

// renewSecureChannel re-opens the channel in renew mode when the
// renewal deadline has passed.
func (c *Client) renewSecureChannel() error {
	if c.State() < StateSecureChannel {
		return nil
	}
	return c.openSecureChannel(true)
}

// receiveServiceResponse reads and dispatches a single incoming message:
// OPN responses update the channel, MSG responses complete pending async
// calls, ERR aborts the connect.
func (c *Client) receiveServiceResponse(deadline time.Time) error {
	msg, err := c.conn.Receive(deadline)
	if err != nil {
		if isTimeoutError(err) {
			return ErrTimeout
		}
		return fmt.Errorf("receive failed: %w", errors.Join(err, StatusBadConnectionClosed))
	}

	var header MessageHeader
	if err := header.Decode(msg); err != nil {
		return err
	}

	switch string(header.MessageType[:]) {
	case MessageTypeOpenChannel:
		resp, err := c.channel.processOPNResponse(msg)
		if err != nil {
			c.connectStatus = StatusCodeOf(err)
			return err
		}
		// The renewal deadline follows the revised token lifetime.
		c.nextChannelRenewal = time.Now().Add(
			time.Duration(resp.SecurityToken.RevisedLifetime) * time.Millisecond * 3 / 4)
		if c.State() < StateSecureChannel {
			c.setState(StateSecureChannel)
		}
		return nil

	case MessageTypeMessage:
		sr, err := c.channel.decodeSymmetricMessage(msg)
		if err != nil {
			return err
		}
		call, ok := c.pendingCalls[sr.requestID]
		if !ok {
			c.logger.Debug("response without pending request",
				slog.Uint64("request_id", uint64(sr.requestID)))
			return nil
		}
		delete(c.pendingCalls, sr.requestID)

		if sr.typeID == serviceFaultTypeID {
			respHeader, err := decodeResponseHeader(NewDecoder(sr.body))
			if err != nil {
				return err
			}
			call.handler(c, nil, NewUAError(call.serviceID, respHeader.ServiceResult, "service fault"))
			return nil
		}
		call.handler(c, sr.body, nil)
		return nil

	case MessageTypeError:
		var errMsg ErrorMessage
		if err := errMsg.Decode(msg[MessageHeaderSize:]); err != nil {
			return err
		}
		c.connectStatus = errMsg.Error
		if errMsg.Reason != "" {
			return fmt.Errorf("server error (%s): %w", errMsg.Reason, errMsg.Error)
		}
		return fmt.Errorf("server error: %w", errMsg.Error)

	case MessageTypeCloseChannel:
		return fmt.Errorf("server closed the secure channel: %w", StatusBadSecureChannelClosed)

	default:
		return fmt.Errorf("unexpected message type %s: %w", header.MessageType, StatusBadTcpMessageTypeInvalid)
	}
}

// isTimeoutError reports whether err is a read-deadline expiry rather
// than a broken connection.
func isTimeoutError(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// sendAsyncRequest transmits a request as a symmetric MSG and registers
// its completion handler.
func (c *Client) sendAsyncRequest(req Request, handler func(c *Client, body []byte, fault *UAError)) error {
	requestID := c.requestID.Next()
	c.pendingCalls[requestID] = &asyncServiceCall{
		serviceID: req.ServiceID(),
		handler:   handler,
	}
	if err := c.sendSymmetric(requestID, MessageTypeMessage, req); err != nil {
		delete(c.pendingCalls, requestID)
		return err
	}
	return nil
}

func (c *Client) sendSymmetric(requestID uint32, messageType string, req Request) error {
	if c.State() < StateSecureChannel {
		return ErrNotConnected
	}
	return c.channel.sendSymmetricMessage(requestID, messageType, req)
}

// service performs a synchronous request/response exchange on the open
// channel, driving the receive loop until the response arrives or the
// deadline expires.
func (c *Client) service(req Request, resp Response) error {
	if err := c.renewSecureChannel(); err != nil {
		c.logger.Warn("secure channel renewal failed", slog.String("error", err.Error()))
	}

	start := time.Now()
	c.metrics.RequestsTotal.Add(1)

	var svcErr error
	done := false
	err := c.sendAsyncRequest(req, func(_ *Client, body []byte, fault *UAError) {
		done = true
		if fault != nil {
			svcErr = fault
			return
		}
		svcErr = resp.Decode(body)
	})
	if err != nil {
		c.metrics.RequestsErrors.Add(1)
		return err
	}

	deadline := time.Now().Add(c.config.Timeout)
	for !done {
		if time.Now().After(deadline) {
			c.metrics.RequestsErrors.Add(1)
			return fmt.Errorf("%s response missed the deadline: %w", req.ServiceID(), StatusBadTimeout)
		}
		if err := c.receiveServiceResponse(deadline); err != nil {
			if isTimeoutError(err) {
				continue
			}
			c.metrics.RequestsErrors.Add(1)
			return err
		}
	}

	if svcErr != nil {
		c.metrics.RequestsErrors.Add(1)
		return svcErr
	}

	c.metrics.Latency.Observe(time.Since(start))
	c.logger.Debug("received response",
		slog.String("service", req.ServiceID().String()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// RunIterate drives the client's event loop for a single step: it
// renews the secure channel when due and processes at most one incoming
// message. A quiet interval is not an error.
func (c *Client) RunIterate(timeout time.Duration) error {
	if c.State() >= StateSecureChannel && !time.Now().Before(c.nextChannelRenewal) {
		if err := c.renewSecureChannel(); err != nil {
			return err
		}
	}

	if c.conn == nil {
		return ErrNotConnected
	}
	err := c.receiveServiceResponse(time.Now().Add(timeout))
	if isTimeoutError(err) {
		return nil
	}
	return err
}

// GetEndpoints fetches the server's endpoint descriptions. When no
// secure channel is open, a temporary one is established and torn down
// around the call.
func (c *Client) GetEndpoints(endpointURL string) ([]EndpointDescription, error) {
	if c.State() >= StateSecureChannel {
		return c.getEndpointsInternal(endpointURL)
	}

	if err := c.ConnectNoSession(endpointURL); err != nil {
		return nil, err
	}
	endpoints, err := c.getEndpointsInternal(endpointURL)
	c.Disconnect()
	return endpoints, err
}

func (c *Client) getEndpointsInternal(endpointURL string) ([]EndpointDescription, error) {
	req := &GetEndpointsRequest{
		RequestHeader: RequestHeader{
			AuthenticationToken: c.authenticationToken,
			Timestamp:           time.Now(),
			RequestHandle:       c.requestHandle.Next(),
			TimeoutHint:         10000,
		},
		EndpointURL: endpointURL,
	}

	var resp GetEndpointsResponse
	if err := c.service(req, &resp); err != nil {
		c.logger.Error("GetEndpoints failed", slog.String("error", err.Error()))
		return nil, err
	}
	return resp.Endpoints, nil
}

// Discover fetches the endpoint descriptions of a server with a
// short-lived anonymous client.
func Discover(endpointURL string, opts ...Option) ([]EndpointDescription, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return c.GetEndpoints(endpointURL)
}

// sendCloseSession closes the session on a best-effort basis; failures
// are ignored because the link may already be broken.
func (c *Client) sendCloseSession() {
	req := &CloseSessionRequest{
		RequestHeader: RequestHeader{
			AuthenticationToken: c.authenticationToken,
			Timestamp:           time.Now(),
			RequestHandle:       c.requestHandle.Next(),
			TimeoutHint:         10000,
		},
		DeleteSubscriptions: true,
	}
	var resp CloseSessionResponse
	if err := c.service(req, &resp); err != nil {
		c.logger.Debug("CloseSession failed", slog.String("error", err.Error()))
	}
}

// sendCloseSecureChannel sends a symmetric CLO message and wipes the
// channel's cryptographic state. The server does not answer a CLO.
func (c *Client) sendCloseSecureChannel() {
	req := &CloseSecureChannelRequest{
		RequestHeader: RequestHeader{
			AuthenticationToken: c.authenticationToken,
			Timestamp:           time.Now(),
			RequestHandle:       c.requestHandle.Next(),
			TimeoutHint:         10000,
		},
	}
	if err := c.channel.sendSymmetricMessage(c.requestID.Next(), MessageTypeCloseChannel, req); err != nil {
		c.logger.Debug("sending CLO failed", slog.String("error", err.Error()))
	}
	c.channel.close()
}

// Disconnect tears the connection down in reverse order: CloseSession,
// CloseSecureChannel, TCP close. It is idempotent, safe to call from
// any state, and always reports success.
func (c *Client) Disconnect() error {
	if c.State() >= StateSession {
		c.setState(StateSecureChannel)
		c.sendCloseSession()
		c.metrics.ActiveSessions.Add(-1)
	}

	c.authenticationToken = NodeID{}
	c.serverNonce = nil
	c.requestHandle.Reset()

	if c.State() >= StateSecureChannel {
		c.setState(StateConnected)
		c.sendCloseSecureChannel()
	}
	c.channel.close()
	c.channel.securityPolicy = nil
	c.channel.remoteCertificate = nil

	if c.conn != nil {
		if s := c.conn.State(); s != ConnClosed && s != ConnOpening {
			c.conn.Close()
		}
		c.conn = nil
	}

	// Fail every outstanding async service.
	for id, call := range c.pendingCalls {
		delete(c.pendingCalls, id)
		call.handler(c, nil, NewUAError(call.serviceID, StatusBadShutdown, "client shutting down"))
	}

	c.setState(StateDisconnected)
	return nil
}
