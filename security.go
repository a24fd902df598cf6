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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"
)

// SecurityPolicy binds a policy URI to the local certificate and the
// cryptographic operations of that policy. Policies are configured as an
// ordered list on the client and looked up by URI equality.
type SecurityPolicy struct {
	URI              string
	LocalCertificate []byte // DER encoded
	LocalPrivateKey  *rsa.PrivateKey
}

// SecurityAlgorithm represents the algorithm suite of a security policy.
type SecurityAlgorithm struct {
	AsymmetricSignature  string
	AsymmetricEncryption string
	SymmetricSignature   string
	SymmetricEncryption  string
	KeyDerivation        string
	SignatureKeyLength   int
	EncryptionKeyLength  int
	EncryptionBlockSize  int
}

// GetSecurityAlgorithm returns the algorithm suite for a policy URI.
func GetSecurityAlgorithm(policyURI string) (*SecurityAlgorithm, error) {
	switch policyURI {
	case SecurityPolicyURINone:
		return &SecurityAlgorithm{}, nil

	case SecurityPolicyURIBasic128Rsa15:
		return &SecurityAlgorithm{
			AsymmetricSignature:  "http://www.w3.org/2000/09/xmldsig#rsa-sha1",
			AsymmetricEncryption: "http://www.w3.org/2001/04/xmlenc#rsa-1_5",
			SymmetricSignature:   "http://www.w3.org/2000/09/xmldsig#hmac-sha1",
			SymmetricEncryption:  "http://www.w3.org/2001/04/xmlenc#aes128-cbc",
			KeyDerivation:        "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha1",
			SignatureKeyLength:   16,
			EncryptionKeyLength:  16,
			EncryptionBlockSize:  16,
		}, nil

	case SecurityPolicyURIBasic256:
		return &SecurityAlgorithm{
			AsymmetricSignature:  "http://www.w3.org/2000/09/xmldsig#rsa-sha1",
			AsymmetricEncryption: "http://www.w3.org/2001/04/xmlenc#rsa-oaep",
			SymmetricSignature:   "http://www.w3.org/2000/09/xmldsig#hmac-sha1",
			SymmetricEncryption:  "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
			KeyDerivation:        "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha1",
			SignatureKeyLength:   24,
			EncryptionKeyLength:  32,
			EncryptionBlockSize:  16,
		}, nil

	case SecurityPolicyURIBasic256Sha256:
		return &SecurityAlgorithm{
			AsymmetricSignature:  "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256",
			AsymmetricEncryption: "http://www.w3.org/2001/04/xmlenc#rsa-oaep",
			SymmetricSignature:   "http://www.w3.org/2000/09/xmldsig#hmac-sha256",
			SymmetricEncryption:  "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
			KeyDerivation:        "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha256",
			SignatureKeyLength:   32,
			EncryptionKeyLength:  32,
			EncryptionBlockSize:  16,
		}, nil

	case SecurityPolicyURIAes128Sha256:
		return &SecurityAlgorithm{
			AsymmetricSignature:  "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256",
			AsymmetricEncryption: "http://www.w3.org/2001/04/xmlenc#rsa-oaep",
			SymmetricSignature:   "http://www.w3.org/2000/09/xmldsig#hmac-sha256",
			SymmetricEncryption:  "http://www.w3.org/2001/04/xmlenc#aes128-cbc",
			KeyDerivation:        "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha256",
			SignatureKeyLength:   32,
			EncryptionKeyLength:  16,
			EncryptionBlockSize:  16,
		}, nil

	case SecurityPolicyURIAes256Sha256:
		return &SecurityAlgorithm{
			AsymmetricSignature:  "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256",
			AsymmetricEncryption: "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p",
			SymmetricSignature:   "http://www.w3.org/2000/09/xmldsig#hmac-sha256",
			SymmetricEncryption:  "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
			KeyDerivation:        "http://docs.oasis-open.org/ws-sx/ws-secureconversation/200512/dk/p_sha256",
			SignatureKeyLength:   32,
			EncryptionKeyLength:  32,
			EncryptionBlockSize:  16,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrSecurityPolicyNotSupported, policyURI)
	}
}

// NewSecurityPolicyNone returns the policy descriptor for
// SecurityPolicy#None.
func NewSecurityPolicyNone() *SecurityPolicy {
	return &SecurityPolicy{URI: SecurityPolicyURINone}
}

// NewSecurityPolicy creates a policy descriptor from a policy URI and a
// PEM encoded certificate and private key. The certificate and key may
// be nil for SecurityPolicy#None.
func NewSecurityPolicy(policyURI string, certPEM, keyPEM []byte) (*SecurityPolicy, error) {
	if _, err := GetSecurityAlgorithm(policyURI); err != nil {
		return nil, err
	}

	sp := &SecurityPolicy{URI: policyURI}
	if policyURI == SecurityPolicyURINone {
		return sp, nil
	}

	if certPEM == nil || keyPEM == nil {
		return nil, fmt.Errorf("certificate and key required for security policy %s", policyURI)
	}

	_, derCert, err := LoadCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	sp.LocalCertificate = derCert

	key, err := LoadPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	sp.LocalPrivateKey = key

	return sp, nil
}

// LoadCertificate loads a certificate from PEM encoded bytes.
func LoadCertificate(pemData []byte) (*x509.Certificate, []byte, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, nil, fmt.Errorf("failed to decode PEM block")
	}

	if block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("expected CERTIFICATE, got %s", block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert, block.Bytes, nil
}

// LoadPrivateKey loads an RSA private key from PEM encoded bytes.
func LoadPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS1 private key: %w", err)
		}
		return key, nil

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS8 private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil

	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// Thumbprint computes the SHA-1 thumbprint of a DER encoded certificate.
func Thumbprint(derCert []byte) []byte {
	if derCert == nil {
		return nil
	}
	h := sha1.Sum(derCert)
	return h[:]
}

// GenerateNonce generates a cryptographic nonce of the given length.
func GenerateNonce(length int) ([]byte, error) {
	nonce := make([]byte, length)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// AsymmetricSign signs data with the local private key using the
// signature algorithm of the policy.
func (sp *SecurityPolicy) AsymmetricSign(data []byte) ([]byte, error) {
	if sp.LocalPrivateKey == nil {
		return nil, fmt.Errorf("no private key configured for policy %s", sp.URI)
	}

	var h hash.Hash
	var hashType crypto.Hash

	switch sp.URI {
	case SecurityPolicyURIBasic128Rsa15, SecurityPolicyURIBasic256:
		h = sha1.New()
		hashType = crypto.SHA1
	case SecurityPolicyURIBasic256Sha256, SecurityPolicyURIAes128Sha256, SecurityPolicyURIAes256Sha256:
		h = sha256.New()
		hashType = crypto.SHA256
	default:
		return nil, fmt.Errorf("unsupported security policy for signing: %s", sp.URI)
	}

	h.Write(data)
	signature, err := rsa.SignPKCS1v15(rand.Reader, sp.LocalPrivateKey, hashType, h.Sum(nil))
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return signature, nil
}

// AsymmetricEncrypt encrypts data block-wise with the public key of the
// DER encoded remote certificate.
func (sp *SecurityPolicy) AsymmetricEncrypt(remoteCert, data []byte) ([]byte, error) {
	pubKey, err := remotePublicKey(remoteCert)
	if err != nil {
		return nil, err
	}

	keySize := pubKey.Size()
	var encrypted []byte

	encryptBlock := func(block []byte) ([]byte, error) {
		switch sp.URI {
		case SecurityPolicyURIBasic128Rsa15:
			return rsa.EncryptPKCS1v15(rand.Reader, pubKey, block)
		case SecurityPolicyURIBasic256, SecurityPolicyURIBasic256Sha256, SecurityPolicyURIAes128Sha256:
			return rsa.EncryptOAEP(sha1.New(), rand.Reader, pubKey, block, nil)
		case SecurityPolicyURIAes256Sha256:
			return rsa.EncryptOAEP(sha256.New(), rand.Reader, pubKey, block, nil)
		default:
			return nil, fmt.Errorf("unsupported security policy for encryption: %s", sp.URI)
		}
	}

	maxPlaintext := sp.PlainBlockSize(keySize)
	for i := 0; i < len(data); i += maxPlaintext {
		end := i + maxPlaintext
		if end > len(data) {
			end = len(data)
		}
		block, err := encryptBlock(data[i:end])
		if err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
		encrypted = append(encrypted, block...)
	}

	return encrypted, nil
}

// AsymmetricDecrypt decrypts data block-wise with the local private key.
func (sp *SecurityPolicy) AsymmetricDecrypt(data []byte) ([]byte, error) {
	if sp.LocalPrivateKey == nil {
		return nil, fmt.Errorf("no private key configured for policy %s", sp.URI)
	}

	keySize := sp.LocalPrivateKey.Size()
	var decrypted []byte

	decryptBlock := func(block []byte) ([]byte, error) {
		switch sp.URI {
		case SecurityPolicyURIBasic128Rsa15:
			return rsa.DecryptPKCS1v15(rand.Reader, sp.LocalPrivateKey, block)
		case SecurityPolicyURIBasic256, SecurityPolicyURIBasic256Sha256, SecurityPolicyURIAes128Sha256:
			return rsa.DecryptOAEP(sha1.New(), rand.Reader, sp.LocalPrivateKey, block, nil)
		case SecurityPolicyURIAes256Sha256:
			return rsa.DecryptOAEP(sha256.New(), rand.Reader, sp.LocalPrivateKey, block, nil)
		default:
			return nil, fmt.Errorf("unsupported security policy for decryption: %s", sp.URI)
		}
	}

	for i := 0; i < len(data); i += keySize {
		end := i + keySize
		if end > len(data) {
			return nil, fmt.Errorf("invalid ciphertext length")
		}
		block, err := decryptBlock(data[i:end])
		if err != nil {
			return nil, fmt.Errorf("decryption failed: %w", err)
		}
		decrypted = append(decrypted, block...)
	}

	return decrypted, nil
}

// PlainBlockSize returns the maximum plaintext block size for the
// remote key size in bytes.
func (sp *SecurityPolicy) PlainBlockSize(keySize int) int {
	switch sp.URI {
	case SecurityPolicyURIBasic128Rsa15:
		return keySize - 11 // PKCS#1 v1.5
	case SecurityPolicyURIAes256Sha256:
		return keySize - 66 // OAEP SHA-256
	default:
		return keySize - 42 // OAEP SHA-1
	}
}

// SignatureSize returns the size of the asymmetric signature in bytes.
func (sp *SecurityPolicy) SignatureSize() int {
	if sp.LocalPrivateKey == nil {
		return 0
	}
	return sp.LocalPrivateKey.Size()
}

// RemoteKeySize returns the size of the remote public key in bytes.
func (sp *SecurityPolicy) RemoteKeySize(remoteCert []byte) (int, error) {
	pubKey, err := remotePublicKey(remoteCert)
	if err != nil {
		return 0, err
	}
	return pubKey.Size(), nil
}

func remotePublicKey(remoteCert []byte) (*rsa.PublicKey, error) {
	if remoteCert == nil {
		return nil, fmt.Errorf("no remote certificate available")
	}
	cert, err := x509.ParseCertificate(remoteCert)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote certificate: %w", err)
	}
	pubKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("remote certificate does not contain an RSA public key")
	}
	return pubKey, nil
}

// CertificateApplicationURI extracts the application URI embedded in the
// URI subject-alternative-name of a DER encoded certificate.
func CertificateApplicationURI(derCert []byte) (string, error) {
	cert, err := x509.ParseCertificate(derCert)
	if err != nil {
		return "", fmt.Errorf("failed to parse certificate: %w", err)
	}
	if len(cert.URIs) == 0 {
		return "", nil
	}
	return cert.URIs[0].String(), nil
}
