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
	"math"
	"time"
)

// connectSession drives the client from an open secure channel to an
// active session. CreateSession and ActivateSession are submitted
// asynchronously; the event loop runs until the session is active or
// the deadline expires.
//
// Re-activating a dormant session (a prior authentication token is
// still known) follows the same path. Subscription recovery is not
// implemented: publish notifications missed while disconnected are
// lost.
func (c *Client) connectSession() error {
	if c.State() < StateSecureChannel {
		return NewUAError(ServiceCreateSession, StatusBadInternalError,
			"no secure channel open")
	}

	c.reactivating = !c.authenticationToken.IsNull()

	var err error
	if c.reactivating {
		err = c.activateSessionAsync()
	} else {
		err = c.createSessionAsync()
	}
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.config.Timeout)
	for c.State() < StateSession {
		now := time.Now()
		if now.After(deadline) {
			return fmt.Errorf("session activation missed the deadline: %w", StatusBadTimeout)
		}

		remaining := deadline.Sub(now).Milliseconds()
		if remaining > math.MaxUint16 {
			remaining = math.MaxUint16
		}
		if remaining < 1 {
			remaining = 1
		}
		if err := c.RunIterate(time.Duration(remaining) * time.Millisecond); err != nil {
			return err
		}
		if c.connectStatus.IsBad() {
			return c.connectStatus
		}
	}

	c.metrics.ActiveSessions.Add(1)
	c.logger.Info("session activated", slog.String("endpoint_url", c.endpointURL))
	return nil
}

// createSessionAsync submits a CreateSession request. Its completion
// handler chains ActivateSession on success.
func (c *Client) createSessionAsync() error {
	clientNonce, err := GenerateNonce(LocalNonceLength)
	if err != nil {
		return err
	}

	endpointURL := c.endpointURL
	if c.config.Endpoint != nil && c.config.Endpoint.EndpointURL != "" {
		endpointURL = c.config.Endpoint.EndpointURL
	}

	var clientCert []byte
	if c.channel.securityPolicy != nil {
		clientCert = c.channel.securityPolicy.LocalCertificate
	}

	req := &CreateSessionRequest{
		RequestHeader: RequestHeader{
			Timestamp:     time.Now(),
			RequestHandle: c.requestHandle.Next(),
			TimeoutHint:   uint32(c.config.Timeout.Milliseconds()),
		},
		ClientDescription:       c.config.ClientDescription,
		EndpointURL:             endpointURL,
		SessionName:             c.config.SessionName,
		ClientNonce:             clientNonce,
		ClientCertificate:       clientCert,
		RequestedSessionTimeout: float64(c.config.SessionTimeout.Milliseconds()),
		MaxResponseMessageSize:  0,
	}

	c.logger.Debug("creating session", slog.String("name", c.config.SessionName))

	return c.sendAsyncRequest(req, func(c *Client, body []byte, fault *UAError) {
		if fault != nil {
			c.connectStatus = fault.StatusCode
			return
		}

		var resp CreateSessionResponse
		if err := resp.Decode(body); err != nil {
			c.logger.Error("decoding CreateSession response failed", slog.String("error", err.Error()))
			c.connectStatus = StatusCodeOf(err)
			return
		}

		c.authenticationToken = resp.AuthenticationToken
		c.serverNonce = resp.ServerNonce

		c.logger.Debug("session created",
			slog.Float64("revised_timeout_ms", resp.RevisedSessionTimeout))

		if err := c.activateSessionAsync(); err != nil {
			c.connectStatus = StatusCodeOf(err)
		}
	})
}

// activateSessionAsync submits an ActivateSession request carrying the
// configured user identity token.
func (c *Client) activateSessionAsync() error {
	req := &ActivateSessionRequest{
		RequestHeader: RequestHeader{
			AuthenticationToken: c.authenticationToken,
			Timestamp:           time.Now(),
			RequestHandle:       c.requestHandle.Next(),
			TimeoutHint:         uint32(c.config.Timeout.Milliseconds()),
		},
		LocaleIDs:         []string{"en"},
		UserIdentityToken: c.buildUserIdentityToken(),
		ClientSignature:   c.buildClientSignature(),
	}

	c.logger.Debug("activating session")

	return c.sendAsyncRequest(req, func(c *Client, body []byte, fault *UAError) {
		if fault != nil {
			c.connectStatus = fault.StatusCode
			return
		}

		var resp ActivateSessionResponse
		if err := resp.Decode(body); err != nil {
			c.logger.Error("decoding ActivateSession response failed", slog.String("error", err.Error()))
			c.connectStatus = StatusCodeOf(err)
			return
		}

		if resp.ServerNonce != nil {
			c.serverNonce = resp.ServerNonce
		}

		if c.reactivating {
			c.setState(StateSessionRenewed)
		} else {
			c.setState(StateSession)
		}
	})
}

// buildUserIdentityToken resolves the configured identity token against
// the selected user token policy. A missing token activates anonymously.
func (c *Client) buildUserIdentityToken() UserIdentityToken {
	var policyID string
	if c.config.UserTokenPolicy != nil {
		policyID = c.config.UserTokenPolicy.PolicyID
	}

	switch t := c.config.UserIdentityToken.(type) {
	case *UserNameIdentityToken:
		tok := *t
		if tok.PolicyID == "" {
			tok.PolicyID = policyID
		}
		return &tok
	case *X509IdentityToken:
		tok := *t
		if tok.PolicyID == "" {
			tok.PolicyID = policyID
		}
		return &tok
	case *IssuedIdentityToken:
		tok := *t
		if tok.PolicyID == "" {
			tok.PolicyID = policyID
		}
		return &tok
	case *AnonymousIdentityToken:
		tok := *t
		if tok.PolicyID == "" {
			tok.PolicyID = policyID
		}
		return &tok
	default:
		return &AnonymousIdentityToken{PolicyID: policyID}
	}
}

// buildClientSignature signs the server certificate and nonce for
// secured channels; for SecurityPolicy#None it stays empty.
func (c *Client) buildClientSignature() SignatureData {
	sp := c.channel.securityPolicy
	if sp == nil || sp.URI == SecurityPolicyURINone ||
		c.serverNonce == nil || c.channel.remoteCertificate == nil {
		return SignatureData{}
	}

	dataToSign := make([]byte, 0, len(c.channel.remoteCertificate)+len(c.serverNonce))
	dataToSign = append(dataToSign, c.channel.remoteCertificate...)
	dataToSign = append(dataToSign, c.serverNonce...)

	signature, err := sp.AsymmetricSign(dataToSign)
	if err != nil {
		c.logger.Warn("signing the client signature failed", slog.String("error", err.Error()))
		return SignatureData{}
	}

	algo, err := GetSecurityAlgorithm(sp.URI)
	if err != nil {
		return SignatureData{}
	}
	return SignatureData{
		Algorithm: algo.AsymmetricSignature,
		Signature: signature,
	}
}
