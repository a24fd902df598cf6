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
	"fmt"
	"log/slog"
)

// SecureChannel holds the cryptographic and framing state shared by all
// OPN/MSG/CLO traffic on a connection.
type SecureChannel struct {
	state              ChannelState
	securityMode       MessageSecurityMode
	securityPolicy     *SecurityPolicy
	remoteCertificate  []byte
	localNonce         []byte
	remoteNonce        []byte
	securityToken      ChannelSecurityToken
	sendSequenceNumber uint32
	config             ConnectionConfig

	conn   Conn
	logger *slog.Logger
}

// State returns the channel state.
func (ch *SecureChannel) State() ChannelState {
	return ch.state
}

// SecurityToken returns the current channel security token.
func (ch *SecureChannel) SecurityToken() ChannelSecurityToken {
	return ch.securityToken
}

// LocalNonce returns the most recently generated client nonce.
func (ch *SecureChannel) LocalNonce() []byte {
	return ch.localNonce
}

// reset prepares the channel for a fresh connect attempt.
func (ch *SecureChannel) reset(cfg ConnectionConfig) {
	ch.securityToken = ChannelSecurityToken{}
	ch.state = ChannelFresh
	ch.sendSequenceNumber = 0
	ch.config = cfg
}

// setSecurityPolicy binds a security policy and the remote certificate
// to the channel.
func (ch *SecureChannel) setSecurityPolicy(sp *SecurityPolicy, remoteCert []byte) error {
	if sp == nil {
		return fmt.Errorf("%w: nil security policy", ErrSecurityPolicyNotSupported)
	}
	ch.securityPolicy = sp
	ch.remoteCertificate = remoteCert
	return nil
}

// attach binds the channel to a transport connection.
func (ch *SecureChannel) attach(conn Conn) {
	ch.conn = conn
}

// generateLocalNonce regenerates the 32-byte client nonce. A fresh
// nonce is required for every OPN, issue and renew alike.
func (ch *SecureChannel) generateLocalNonce() error {
	nonce, err := GenerateNonce(LocalNonceLength)
	if err != nil {
		return err
	}
	ch.wipeNonce(ch.localNonce)
	ch.localNonce = nonce
	return nil
}

func (ch *SecureChannel) wipeNonce(nonce []byte) {
	for i := range nonce {
		nonce[i] = 0
	}
}

// processHELACK merges the server's announced transport parameters into
// the effective connection config. A max value of zero means unbounded.
func (ch *SecureChannel) processHELACK(ack *AcknowledgeMessage) error {
	if ack.ReceiveBufferSize < MinMessageSize || ack.SendBufferSize < MinMessageSize {
		return fmt.Errorf("server buffer sizes below minimum (recv=%d send=%d): %w",
			ack.ReceiveBufferSize, ack.SendBufferSize, StatusBadTcpInternalError)
	}

	ch.config.RecvBufferSize = min(ch.config.RecvBufferSize, ack.ReceiveBufferSize)
	ch.config.SendBufferSize = min(ch.config.SendBufferSize, ack.SendBufferSize)
	ch.config.MaxMessageSize = minUnbounded(ch.config.MaxMessageSize, ack.MaxMessageSize)
	ch.config.MaxChunkCount = minUnbounded(ch.config.MaxChunkCount, ack.MaxChunkCount)
	return nil
}

// minUnbounded returns the smaller of two limits where zero means no
// limit.
func minUnbounded(a, b uint32) uint32 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	return min(a, b)
}

func (ch *SecureChannel) nextSequenceNumber() uint32 {
	ch.sendSequenceNumber++
	return ch.sendSequenceNumber
}

// sendAsymmetricOPN encodes and transmits an OpenSecureChannelRequest
// under the asymmetric security header. The send buffer is released on
// every error exit before transmission; Send consumes it on success.
func (ch *SecureChannel) sendAsymmetricOPN(requestID uint32, req *OpenSecureChannelRequest) error {
	if ch.conn == nil {
		return ErrNotConnected
	}
	if ch.securityPolicy == nil {
		return fmt.Errorf("%w: no security policy bound", ErrSecurityPolicyNotSupported)
	}

	// Message body: sequence header, type id, request.
	bodyEncoder := NewEncoder()
	bodyEncoder.WriteUInt32(ch.nextSequenceNumber())
	bodyEncoder.WriteUInt32(requestID)
	bodyEncoder.WriteNodeID(NewNumericNodeID(0, uint32(ServiceOpenSecureChannel)))
	reqData, err := req.Encode()
	if err != nil {
		return err
	}
	bodyEncoder.buf.Write(reqData)
	messageBody := bodyEncoder.Bytes()

	// Asymmetric security header.
	secEncoder := NewEncoder()
	secEncoder.WriteString(ch.securityPolicy.URI)
	if ch.securityMode == MessageSecurityModeNone {
		secEncoder.WriteByteString(nil)
		secEncoder.WriteByteString(nil)
	} else {
		secEncoder.WriteByteString(ch.securityPolicy.LocalCertificate)
		secEncoder.WriteByteString(Thumbprint(ch.remoteCertificate))
	}
	securityHeader := secEncoder.Bytes()

	payload := messageBody
	if ch.securityMode != MessageSecurityModeNone {
		payload, err = ch.sealOPNBody(securityHeader, messageBody)
		if err != nil {
			return err
		}
	}

	totalSize := MessageHeaderSize + 4 + len(securityHeader) + len(payload)
	buf, err := ch.conn.GetSendBuffer(uint32(max(totalSize, int(MinMessageSize))))
	if err != nil {
		return err
	}

	buf = append(buf, make([]byte, MessageHeaderSize)...)
	buf = appendUint32(buf, ch.securityToken.ChannelID)
	buf = append(buf, securityHeader...)
	buf = append(buf, payload...)
	writeMessageHeader(buf, MessageTypeOpenChannel, ChunkTypeFinal)

	ch.logger.Debug("sending OPN",
		slog.String("policy", ch.securityPolicy.URI),
		slog.String("mode", ch.securityMode.String()),
		slog.Uint64("request_id", uint64(requestID)),
		slog.Int("message_size", len(buf)))

	if err := ch.conn.Send(buf); err != nil {
		return err
	}
	ch.state = ChannelOPNSent
	return nil
}

// sealOPNBody pads, signs and encrypts the OPN body for policies other
// than None.
func (ch *SecureChannel) sealOPNBody(securityHeader, messageBody []byte) ([]byte, error) {
	if ch.remoteCertificate == nil {
		return nil, fmt.Errorf("server certificate required for security policy %s", ch.securityPolicy.URI)
	}

	signatureSize := ch.securityPolicy.SignatureSize()
	remoteKeySize, err := ch.securityPolicy.RemoteKeySize(ch.remoteCertificate)
	if err != nil {
		return nil, fmt.Errorf("failed to get server key size: %w", err)
	}
	plainBlockSize := ch.securityPolicy.PlainBlockSize(remoteKeySize)

	dataToEncrypt := len(messageBody) + 1 + signatureSize
	var paddingSize int
	if dataToEncrypt%plainBlockSize != 0 {
		paddingSize = plainBlockSize - (dataToEncrypt % plainBlockSize)
	}

	paddedBody := make([]byte, len(messageBody)+paddingSize+1)
	copy(paddedBody, messageBody)
	for i := len(messageBody); i < len(paddedBody); i++ {
		paddedBody[i] = byte(paddingSize)
	}

	dataToSign := make([]byte, 0, len(securityHeader)+len(paddedBody))
	dataToSign = append(dataToSign, securityHeader...)
	dataToSign = append(dataToSign, paddedBody...)
	signature, err := ch.securityPolicy.AsymmetricSign(dataToSign)
	if err != nil {
		return nil, fmt.Errorf("failed to sign OPN: %w", err)
	}

	sealed, err := ch.securityPolicy.AsymmetricEncrypt(ch.remoteCertificate, append(paddedBody, signature...))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt OPN: %w", err)
	}
	return sealed, nil
}

// processOPNResponse decodes an OPN message, installs the issued
// security token and server nonce, and opens the channel.
func (ch *SecureChannel) processOPNResponse(msg []byte) (*OpenSecureChannelResponse, error) {
	var header MessageHeader
	if err := header.Decode(msg); err != nil {
		return nil, err
	}
	if string(header.MessageType[:]) != MessageTypeOpenChannel {
		return nil, fmt.Errorf("%w: expected OPN, got %s", ErrInvalidResponse, header.MessageType)
	}

	d := NewDecoder(msg[MessageHeaderSize:])
	channelID, err := d.ReadUInt32()
	if err != nil {
		return nil, err
	}

	// Asymmetric security header.
	if _, err := d.ReadString(); err != nil { // security policy URI
		return nil, err
	}
	if _, err := d.ReadByteString(); err != nil { // sender certificate
		return nil, err
	}
	if _, err := d.ReadByteString(); err != nil { // receiver thumbprint
		return nil, err
	}

	rest := d.data[d.pos:]
	if ch.securityMode != MessageSecurityModeNone {
		rest, err = ch.securityPolicy.AsymmetricDecrypt(rest)
		if err != nil {
			return nil, err
		}
	}

	d = NewDecoder(rest)
	if _, err := d.ReadUInt32(); err != nil { // sequence number
		return nil, err
	}
	if _, err := d.ReadUInt32(); err != nil { // request id
		return nil, err
	}

	typeID, err := d.ReadNodeID()
	if err != nil {
		return nil, err
	}
	if typeID.Numeric == serviceFaultTypeID {
		respHeader, err := decodeResponseHeader(d)
		if err != nil {
			return nil, err
		}
		return nil, NewUAError(ServiceOpenSecureChannel, respHeader.ServiceResult, "service fault")
	}
	if typeID.Numeric != uint32(ServiceOpenSecureChannel)+responseTypeIDOffset {
		return nil, fmt.Errorf("%w: unexpected OPN response type %d", ErrInvalidResponse, typeID.Numeric)
	}

	var resp OpenSecureChannelResponse
	if err := resp.Decode(d.data[d.pos:]); err != nil {
		return nil, err
	}

	if resp.SecurityToken.ChannelID == 0 {
		resp.SecurityToken.ChannelID = channelID
	}
	ch.securityToken = resp.SecurityToken
	ch.wipeNonce(ch.remoteNonce)
	ch.remoteNonce = resp.ServerNonce
	ch.state = ChannelOpen

	ch.logger.Debug("secure channel open",
		slog.Uint64("channel_id", uint64(ch.securityToken.ChannelID)),
		slog.Uint64("token_id", uint64(ch.securityToken.TokenID)),
		slog.Uint64("revised_lifetime_ms", uint64(ch.securityToken.RevisedLifetime)))

	return &resp, nil
}

// sendSymmetricMessage encodes and transmits a request as a symmetric
// MSG or CLO message on the open channel.
func (ch *SecureChannel) sendSymmetricMessage(requestID uint32, messageType string, req Request) error {
	if ch.conn == nil {
		return ErrNotConnected
	}

	reqData, err := req.Encode()
	if err != nil {
		return err
	}

	e := NewEncoder()
	e.WriteUInt32(ch.securityToken.TokenID)
	e.WriteUInt32(ch.nextSequenceNumber())
	e.WriteUInt32(requestID)
	e.WriteNodeID(NewNumericNodeID(0, uint32(req.ServiceID())))
	e.buf.Write(reqData)
	body := e.Bytes()

	totalSize := MessageHeaderSize + 4 + len(body)
	buf, err := ch.conn.GetSendBuffer(uint32(max(totalSize, int(MinMessageSize))))
	if err != nil {
		return err
	}

	buf = append(buf, make([]byte, MessageHeaderSize)...)
	buf = appendUint32(buf, ch.securityToken.ChannelID)
	buf = append(buf, body...)
	writeMessageHeader(buf, messageType, ChunkTypeFinal)

	ch.logger.Debug("sending request",
		slog.String("service", req.ServiceID().String()),
		slog.String("type", messageType),
		slog.Uint64("request_id", uint64(requestID)))

	return ch.conn.Send(buf)
}

// symmetricResponse is one decoded MSG response.
type symmetricResponse struct {
	requestID uint32
	typeID    uint32
	body      []byte
}

// decodeSymmetricMessage splits a received MSG into its sequence header,
// response type id and body.
func (ch *SecureChannel) decodeSymmetricMessage(msg []byte) (*symmetricResponse, error) {
	// header(8) + channel id(4) + token id(4) + sequence header(8)
	if len(msg) < 24 {
		return nil, fmt.Errorf("%w: symmetric message too short", ErrInvalidMessage)
	}

	d := NewDecoder(msg[MessageHeaderSize:])
	if _, err := d.ReadUInt32(); err != nil { // channel id
		return nil, err
	}
	if _, err := d.ReadUInt32(); err != nil { // token id
		return nil, err
	}
	if _, err := d.ReadUInt32(); err != nil { // sequence number
		return nil, err
	}
	requestID, err := d.ReadUInt32()
	if err != nil {
		return nil, err
	}

	typeID, err := d.ReadNodeID()
	if err != nil {
		return nil, fmt.Errorf("failed to read response type: %w", err)
	}

	return &symmetricResponse{
		requestID: requestID,
		typeID:    typeID.Numeric,
		body:      d.data[d.pos:],
	}, nil
}

// close wipes the channel's cryptographic state.
func (ch *SecureChannel) close() {
	ch.wipeNonce(ch.localNonce)
	ch.wipeNonce(ch.remoteNonce)
	ch.localNonce = nil
	ch.remoteNonce = nil
	ch.securityToken = ChannelSecurityToken{}
	ch.sendSequenceNumber = 0
	ch.state = ChannelClosed
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
