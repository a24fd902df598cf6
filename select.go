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

import "log/slog"

// selectEndpoint fetches the server's endpoint list and installs the
// first endpoint and user token policy compatible with the local
// configuration. First match wins in both server-provided orders.
func (c *Client) selectEndpoint(endpointURL string) error {
	endpoints, err := c.getEndpointsInternal(endpointURL)
	if err != nil {
		return err
	}

	c.logger.Info("found endpoints", slog.Int("count", len(endpoints)))

	endpointFound := false
	tokenFound := false

	for i := range endpoints {
		endpoint := &endpoints[i]

		// Binary transport profile only. Siemens servers return an
		// empty profile URI; accept it as binary.
		if endpoint.TransportProfileURI != "" && endpoint.TransportProfileURI != TransportProfileBinary {
			continue
		}

		if endpoint.SecurityMode < MessageSecurityModeNone || endpoint.SecurityMode > MessageSecurityModeSignAndEncrypt {
			c.logger.Info("rejecting endpoint: invalid security mode", slog.Int("index", i))
			continue
		}

		if c.config.SecurityMode > 0 && c.config.SecurityMode != endpoint.SecurityMode {
			c.logger.Info("rejecting endpoint: security mode doesn't match", slog.Int("index", i))
			continue
		}

		if c.config.SecurityPolicyURI != "" && c.config.SecurityPolicyURI != endpoint.SecurityPolicyURI {
			c.logger.Info("rejecting endpoint: security policy doesn't match", slog.Int("index", i))
			continue
		}

		if c.securityPolicyByURI(endpoint.SecurityPolicyURI) == nil {
			c.logger.Info("rejecting endpoint: security policy not available", slog.Int("index", i))
			continue
		}

		endpointFound = true

		c.logger.Info("matching endpoint",
			slog.Int("index", i),
			slog.Int("user_token_policies", len(endpoint.UserIdentityTokens)))

		for j := range endpoint.UserIdentityTokens {
			userToken := &endpoint.UserIdentityTokens[j]

			// User tokens carry their own security policy.
			if userToken.SecurityPolicyURI != "" && c.securityPolicyByURI(userToken.SecurityPolicyURI) == nil {
				c.logger.Info("rejecting UserTokenPolicy: security policy not available",
					slog.Int("endpoint", i), slog.Int("index", j),
					slog.String("policy", userToken.SecurityPolicyURI))
				continue
			}

			if userToken.TokenType > UserTokenTypeIssuedToken {
				c.logger.Info("rejecting UserTokenPolicy: invalid token type",
					slog.Int("endpoint", i), slog.Int("index", j))
				continue
			}

			if !c.userTokenMatches(userToken.TokenType) {
				c.logger.Info("rejecting UserTokenPolicy: configuration doesn't match",
					slog.Int("endpoint", i), slog.Int("index", j),
					slog.String("token_type", userToken.TokenType.String()))
				continue
			}

			tokenFound = true

			// Install deep copies: the endpoint without its token
			// list, plus the selected token policy.
			selected := endpoint.DeepCopy()
			selected.UserIdentityTokens = nil
			c.config.Endpoint = selected
			c.config.UserTokenPolicy = userToken.DeepCopy()

			tokenPolicyURI := userToken.SecurityPolicyURI
			if tokenPolicyURI == "" {
				tokenPolicyURI = endpoint.SecurityPolicyURI
			}
			c.logger.Info("selected endpoint",
				slog.String("endpoint_url", endpoint.EndpointURL),
				slog.String("security_mode", endpoint.SecurityMode.String()),
				slog.String("security_policy", endpoint.SecurityPolicyURI))
			c.logger.Info("selected UserTokenPolicy",
				slog.String("policy_id", userToken.PolicyID),
				slog.String("token_type", userToken.TokenType.String()),
				slog.String("security_policy", tokenPolicyURI))
			break
		}

		if tokenFound {
			break
		}
	}

	if !endpointFound {
		c.logger.Error("No suitable endpoint found")
		return NewUAError(ServiceGetEndpoints, StatusBadInternalError, "no suitable endpoint found")
	}
	if !tokenFound {
		c.logger.Error("No suitable UserTokenPolicy found for the possible endpoints")
		return NewUAError(ServiceGetEndpoints, StatusBadInternalError, "no suitable UserTokenPolicy found")
	}
	return nil
}

// userTokenMatches reports whether the configured user identity token
// is compatible with a server token type. Anonymous policies match when
// no identity has been configured.
func (c *Client) userTokenMatches(tokenType UserTokenType) bool {
	configured := c.config.UserIdentityToken
	if tokenType == UserTokenTypeAnonymous {
		return configured == nil || configured.TokenType() == UserTokenTypeAnonymous
	}
	return configured != nil && configured.TokenType() == tokenType
}
