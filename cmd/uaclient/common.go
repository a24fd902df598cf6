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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/edgeo-scada/uaclient"
)

// parseSecurityPolicyURI converts a short policy name to its URI. An
// empty name accepts any policy.
func parseSecurityPolicyURI(s string) (string, error) {
	switch strings.ToLower(s) {
	case "":
		return "", nil
	case "none":
		return uaclient.SecurityPolicyURINone, nil
	case "basic128rsa15":
		return uaclient.SecurityPolicyURIBasic128Rsa15, nil
	case "basic256":
		return uaclient.SecurityPolicyURIBasic256, nil
	case "basic256sha256":
		return uaclient.SecurityPolicyURIBasic256Sha256, nil
	case "aes128sha256rsaoaep", "aes128sha256":
		return uaclient.SecurityPolicyURIAes128Sha256, nil
	case "aes256sha256rsapss", "aes256sha256":
		return uaclient.SecurityPolicyURIAes256Sha256, nil
	default:
		return "", fmt.Errorf("unknown security policy: %s", s)
	}
}

// parseSecurityMode converts a string to a MessageSecurityMode. An
// empty string accepts any mode.
func parseSecurityMode(s string) (uaclient.MessageSecurityMode, error) {
	switch strings.ToLower(s) {
	case "":
		return uaclient.MessageSecurityModeInvalid, nil
	case "none":
		return uaclient.MessageSecurityModeNone, nil
	case "sign":
		return uaclient.MessageSecurityModeSign, nil
	case "signandencrypt", "sign_and_encrypt":
		return uaclient.MessageSecurityModeSignAndEncrypt, nil
	default:
		return 0, fmt.Errorf("unknown security mode: %s", s)
	}
}

// buildClientOptions creates client options from the CLI flags.
func buildClientOptions() ([]uaclient.Option, error) {
	opts := []uaclient.Option{
		uaclient.WithTimeout(time.Duration(timeout) * time.Millisecond),
	}

	if verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		opts = append(opts, uaclient.WithLogger(logger))
	}

	policyURI, err := parseSecurityPolicyURI(securityPolicy)
	if err != nil {
		return nil, err
	}
	if policyURI != "" {
		opts = append(opts, uaclient.WithSecurityPolicyURI(policyURI))
	}

	mode, err := parseSecurityMode(securityMode)
	if err != nil {
		return nil, err
	}
	if mode != uaclient.MessageSecurityModeInvalid {
		opts = append(opts, uaclient.WithSecurityMode(mode))
	}

	policies := []*uaclient.SecurityPolicy{uaclient.NewSecurityPolicyNone()}
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return nil, fmt.Errorf("both --cert and --key must be specified together")
		}
		cert, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate: %w", err)
		}
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		for _, uri := range []string{
			uaclient.SecurityPolicyURIBasic256Sha256,
			uaclient.SecurityPolicyURIAes128Sha256,
			uaclient.SecurityPolicyURIAes256Sha256,
		} {
			sp, err := uaclient.NewSecurityPolicy(uri, cert, key)
			if err != nil {
				return nil, err
			}
			policies = append(policies, sp)
		}
	} else if mode > uaclient.MessageSecurityModeNone {
		return nil, fmt.Errorf("security mode %s requires a client certificate (use --cert and --key)", securityMode)
	}
	opts = append(opts, uaclient.WithSecurityPolicies(policies...))

	if username != "" {
		opts = append(opts, uaclient.WithUserNameAuth(username, password))
	}

	return opts, nil
}
