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
)

// StatusCode represents an OPC UA StatusCode.
type StatusCode uint32

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// OPC UA status codes used by the connection core.
const (
	StatusGood                          StatusCode = 0x00000000
	StatusUncertain                     StatusCode = 0x40000000
	StatusBad                           StatusCode = 0x80000000
	StatusBadUnexpectedError            StatusCode = 0x80010000
	StatusBadInternalError              StatusCode = 0x80020000
	StatusBadOutOfMemory                StatusCode = 0x80030000
	StatusBadResourceUnavailable        StatusCode = 0x80040000
	StatusBadCommunicationError         StatusCode = 0x80050000
	StatusBadEncodingError              StatusCode = 0x80060000
	StatusBadDecodingError              StatusCode = 0x80070000
	StatusBadEncodingLimitsExceeded     StatusCode = 0x80080000
	StatusBadUnknownResponse            StatusCode = 0x80090000
	StatusBadTimeout                    StatusCode = 0x800A0000
	StatusBadServiceUnsupported         StatusCode = 0x800B0000
	StatusBadShutdown                   StatusCode = 0x800C0000
	StatusBadServerNotConnected         StatusCode = 0x800D0000
	StatusBadCertificateInvalid         StatusCode = 0x80120000
	StatusBadSecurityChecksFailed       StatusCode = 0x80130000
	StatusBadCertificateUriInvalid      StatusCode = 0x80170000
	StatusBadCertificateUntrusted       StatusCode = 0x801A0000
	StatusBadUserAccessDenied           StatusCode = 0x801F0000
	StatusBadIdentityTokenInvalid       StatusCode = 0x80200000
	StatusBadIdentityTokenRejected      StatusCode = 0x80210000
	StatusBadSecureChannelIdInvalid     StatusCode = 0x80220000
	StatusBadNonceInvalid               StatusCode = 0x80240000
	StatusBadSessionIdInvalid           StatusCode = 0x80250000
	StatusBadSessionClosed              StatusCode = 0x80260000
	StatusBadSessionNotActivated        StatusCode = 0x80270000
	StatusBadRequestHeaderInvalid       StatusCode = 0x802A0000
	StatusBadRequestTypeInvalid         StatusCode = 0x80530000
	StatusBadSecurityModeRejected       StatusCode = 0x80540000
	StatusBadSecurityPolicyRejected     StatusCode = 0x80550000
	StatusBadTooManySessions            StatusCode = 0x80560000
	StatusBadApplicationSignatureInvalid StatusCode = 0x80580000
	StatusBadTcpServerTooBusy           StatusCode = 0x807D0000
	StatusBadTcpMessageTypeInvalid      StatusCode = 0x807E0000
	StatusBadTcpSecureChannelUnknown    StatusCode = 0x807F0000
	StatusBadTcpMessageTooLarge         StatusCode = 0x80800000
	StatusBadTcpInternalError           StatusCode = 0x80820000
	StatusBadTcpEndpointUrlInvalid      StatusCode = 0x80830000
	StatusBadRequestInterrupted         StatusCode = 0x80840000
	StatusBadRequestTimeout             StatusCode = 0x80850000
	StatusBadSecureChannelClosed        StatusCode = 0x80860000
	StatusBadSecureChannelTokenUnknown  StatusCode = 0x80870000
	StatusBadSequenceNumberInvalid      StatusCode = 0x80880000
	StatusBadProtocolVersionUnsupported StatusCode = 0x80BE0000
	StatusBadConfigurationError         StatusCode = 0x80890000
	StatusBadNotConnected               StatusCode = 0x808A0000
	StatusBadInvalidArgument            StatusCode = 0x80AB0000
	StatusBadConnectionRejected         StatusCode = 0x80AC0000
	StatusBadDisconnect                 StatusCode = 0x80AD0000
	StatusBadConnectionClosed           StatusCode = 0x80AE0000
	StatusBadInvalidState               StatusCode = 0x80AF0000
	StatusBadEndOfStream                StatusCode = 0x80B00000
	StatusBadMaxConnectionsReached      StatusCode = 0x80B70000
)

// statusCodeInfo contains name and description for a status code.
type statusCodeInfo struct {
	name        string
	description string
}

// statusCodeMap maps status codes to their info.
var statusCodeMap = map[StatusCode]statusCodeInfo{
	StatusGood:                          {"Good", "The operation completed successfully"},
	StatusBadUnexpectedError:            {"BadUnexpectedError", "An unexpected error occurred"},
	StatusBadInternalError:              {"BadInternalError", "An internal error occurred"},
	StatusBadOutOfMemory:                {"BadOutOfMemory", "Not enough memory to complete the operation"},
	StatusBadResourceUnavailable:        {"BadResourceUnavailable", "An operating system resource is not available"},
	StatusBadCommunicationError:         {"BadCommunicationError", "A low level communication error occurred"},
	StatusBadEncodingError:              {"BadEncodingError", "Encoding halted because of invalid data"},
	StatusBadDecodingError:              {"BadDecodingError", "Decoding halted because of invalid data"},
	StatusBadEncodingLimitsExceeded:     {"BadEncodingLimitsExceeded", "The message encoding/decoding limits have been exceeded"},
	StatusBadUnknownResponse:            {"BadUnknownResponse", "An unrecognized response was received from the server"},
	StatusBadTimeout:                    {"BadTimeout", "The operation timed out"},
	StatusBadServiceUnsupported:         {"BadServiceUnsupported", "The server does not support the requested service"},
	StatusBadShutdown:                   {"BadShutdown", "The operation was cancelled because the application is shutting down"},
	StatusBadServerNotConnected:         {"BadServerNotConnected", "The client is not connected to the server"},
	StatusBadCertificateInvalid:         {"BadCertificateInvalid", "The certificate provided is not valid"},
	StatusBadSecurityChecksFailed:       {"BadSecurityChecksFailed", "An error occurred verifying security"},
	StatusBadCertificateUriInvalid:      {"BadCertificateUriInvalid", "The URI in the certificate does not match the application URI"},
	StatusBadCertificateUntrusted:       {"BadCertificateUntrusted", "The certificate is not trusted"},
	StatusBadUserAccessDenied:           {"BadUserAccessDenied", "User access denied"},
	StatusBadIdentityTokenInvalid:       {"BadIdentityTokenInvalid", "The user identity token is not valid"},
	StatusBadIdentityTokenRejected:      {"BadIdentityTokenRejected", "The user identity token is rejected by the server"},
	StatusBadSecureChannelIdInvalid:     {"BadSecureChannelIdInvalid", "The specified secure channel is no longer valid"},
	StatusBadNonceInvalid:               {"BadNonceInvalid", "The nonce does not appear to be a valid nonce"},
	StatusBadSessionIdInvalid:           {"BadSessionIdInvalid", "The session ID is not valid"},
	StatusBadSessionClosed:              {"BadSessionClosed", "The session was closed by the client"},
	StatusBadSessionNotActivated:        {"BadSessionNotActivated", "The session cannot be used because it has not been activated"},
	StatusBadRequestHeaderInvalid:       {"BadRequestHeaderInvalid", "The header for the request is missing or invalid"},
	StatusBadRequestTypeInvalid:         {"BadRequestTypeInvalid", "The request type is not valid for the secure channel"},
	StatusBadSecurityModeRejected:       {"BadSecurityModeRejected", "The security mode does not meet the security policy requirements"},
	StatusBadSecurityPolicyRejected:     {"BadSecurityPolicyRejected", "The security policy does not meet the security policy requirements"},
	StatusBadTooManySessions:            {"BadTooManySessions", "The server has reached its maximum number of sessions"},
	StatusBadApplicationSignatureInvalid: {"BadApplicationSignatureInvalid", "The signature generated with the client certificate is not valid"},
	StatusBadTcpServerTooBusy:           {"BadTcpServerTooBusy", "The server cannot process the request because it is too busy"},
	StatusBadTcpMessageTypeInvalid:      {"BadTcpMessageTypeInvalid", "The type of the message is not valid"},
	StatusBadTcpSecureChannelUnknown:    {"BadTcpSecureChannelUnknown", "The secure channel is not known"},
	StatusBadTcpMessageTooLarge:         {"BadTcpMessageTooLarge", "The message size exceeds the maximum allowed"},
	StatusBadTcpInternalError:           {"BadTcpInternalError", "An internal error occurred"},
	StatusBadTcpEndpointUrlInvalid:      {"BadTcpEndpointUrlInvalid", "The endpoint URL is not valid"},
	StatusBadRequestInterrupted:         {"BadRequestInterrupted", "The request was interrupted by a network error"},
	StatusBadRequestTimeout:             {"BadRequestTimeout", "The request timed out"},
	StatusBadSecureChannelClosed:        {"BadSecureChannelClosed", "The secure channel has been closed"},
	StatusBadSecureChannelTokenUnknown:  {"BadSecureChannelTokenUnknown", "The token has expired or is not recognized"},
	StatusBadSequenceNumberInvalid:      {"BadSequenceNumberInvalid", "The sequence number is not valid"},
	StatusBadProtocolVersionUnsupported: {"BadProtocolVersionUnsupported", "The protocol version is not supported"},
	StatusBadConfigurationError:         {"BadConfigurationError", "There is a configuration error"},
	StatusBadNotConnected:               {"BadNotConnected", "The communication path is not connected"},
	StatusBadInvalidArgument:            {"BadInvalidArgument", "One or more arguments are invalid"},
	StatusBadConnectionRejected:         {"BadConnectionRejected", "The server rejected the connection"},
	StatusBadDisconnect:                 {"BadDisconnect", "The connection was disconnected"},
	StatusBadConnectionClosed:           {"BadConnectionClosed", "The connection was closed"},
	StatusBadInvalidState:               {"BadInvalidState", "The operation cannot be completed because the object is closed or in an invalid state"},
	StatusBadEndOfStream:                {"BadEndOfStream", "Cannot move beyond end of the stream"},
	StatusBadMaxConnectionsReached:      {"BadMaxConnectionsReached", "The server has reached the maximum number of connections it supports"},
}

// String returns the string representation of the status code.
func (s StatusCode) String() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Description returns a human-readable description of the status code.
func (s StatusCode) Description() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.description
	}
	switch {
	case s.IsGood():
		return "The operation completed successfully"
	case s.IsUncertain():
		return "The operation completed with uncertain result"
	default:
		return "The operation failed"
	}
}

// Error returns a formatted error string with code, name, and description.
func (s StatusCode) Error() string {
	if info, ok := statusCodeMap[s]; ok {
		return fmt.Sprintf("%s (0x%08X): %s", info.name, uint32(s), info.description)
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsUncertain returns true if the status code indicates uncertainty.
func (s StatusCode) IsUncertain() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityUncertain
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// UAError represents an OPC UA protocol error.
type UAError struct {
	ServiceID  ServiceID
	StatusCode StatusCode
	Message    string
}

// Error implements the error interface.
func (e *UAError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("uaclient: %s (%s): %s", e.StatusCode, e.ServiceID, e.Message)
	}
	return fmt.Sprintf("uaclient: %s (%s)", e.StatusCode, e.ServiceID)
}

// Is checks if the error matches the target.
func (e *UAError) Is(target error) bool {
	t, ok := target.(*UAError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

// NewUAError creates a new OPC UA error.
func NewUAError(svc ServiceID, sc StatusCode, msg string) *UAError {
	return &UAError{
		ServiceID:  svc,
		StatusCode: sc,
		Message:    msg,
	}
}

// Common errors.
var (
	// ErrInvalidMessage indicates a malformed message.
	ErrInvalidMessage = errors.New("uaclient: invalid message")

	// ErrInvalidResponse indicates the response was malformed or unexpected.
	ErrInvalidResponse = errors.New("uaclient: invalid response")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("uaclient: connection closed")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("uaclient: not connected")

	// ErrTimeout indicates a deadline expired.
	ErrTimeout = errors.New("uaclient: timeout")

	// ErrSecurityPolicyNotSupported indicates no configured security
	// policy matches the requested URI.
	ErrSecurityPolicyNotSupported = errors.New("uaclient: security policy not supported")

	// ErrPoolExhausted indicates no connections are available in the pool.
	ErrPoolExhausted = errors.New("uaclient: connection pool exhausted")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("uaclient: connection pool closed")
)

// StatusCodeOf maps an error to the OPC UA status code surfaced at the
// API boundary. A nil error maps to Good.
func StatusCodeOf(err error) StatusCode {
	if err == nil {
		return StatusGood
	}
	var uaErr *UAError
	if errors.As(err, &uaErr) {
		return uaErr.StatusCode
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	switch {
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrNotConnected):
		return StatusBadConnectionClosed
	case errors.Is(err, ErrTimeout):
		return StatusBadTimeout
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidResponse):
		return StatusBadDecodingError
	case errors.Is(err, ErrSecurityPolicyNotSupported):
		return StatusBadInternalError
	}
	return StatusBadUnexpectedError
}

// IsStatusCode checks if an error carries a specific status code.
func IsStatusCode(err error, code StatusCode) bool {
	return StatusCodeOf(err) == code
}
