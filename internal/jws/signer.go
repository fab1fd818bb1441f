package jws

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Checker-Finance/quoting-switch/pkg/fspiop"
	"github.com/Checker-Finance/quoting-switch/pkg/secrets"
)

// Signer produces FSPIOP-Signature header values.
type Signer interface {
	Sign(headers fspiop.Headers, method, uri string, body []byte) (string, error)
}

// RSASigner signs with RS256 over the protected FSPIOP headers and the body.
type RSASigner struct {
	key *rsa.PrivateKey
}

func NewRSASigner(key *rsa.PrivateKey) *RSASigner {
	return &RSASigner{key: key}
}

// signatureHeader is the FSPIOP-Signature JSON value.
type signatureHeader struct {
	Signature       string `json:"signature"`
	ProtectedHeader string `json:"protectedHeader"`
}

// protectedHeader returns the JOSE header covering the routing headers.
func protectedHeader(h fspiop.Headers, method, uri string) map[string]string {
	ph := map[string]string{
		"alg":                   jwt.SigningMethodRS256.Alg(),
		fspiop.HeaderURI:        uri,
		fspiop.HeaderHTTPMethod: method,
		fspiop.HeaderSource:     h.Source(),
	}
	if d := h.Destination(); d != "" {
		ph[fspiop.HeaderDestination] = d
	}
	if d := h.Get(fspiop.HeaderDate); d != "" {
		ph[fspiop.HeaderDate] = d
	}
	return ph
}

func (s *RSASigner) Sign(headers fspiop.Headers, method, uri string, body []byte) (string, error) {
	ph, err := json.Marshal(protectedHeader(headers, method, uri))
	if err != nil {
		return "", err
	}
	encodedHeader := base64.RawURLEncoding.EncodeToString(ph)
	signingString := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(body)

	sig, err := jwt.SigningMethodRS256.Sign(signingString, s.key)
	if err != nil {
		return "", fmt.Errorf("jws sign: %w", err)
	}
	out, err := json.Marshal(signatureHeader{
		Signature:       base64.RawURLEncoding.EncodeToString(sig),
		ProtectedHeader: encodedHeader,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify checks a signature produced by Sign against body.
func Verify(header string, body []byte, pub *rsa.PublicKey) error {
	var sh signatureHeader
	if err := json.Unmarshal([]byte(header), &sh); err != nil {
		return fmt.Errorf("decode signature header: %w", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sh.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	signingString := sh.ProtectedHeader + "." + base64.RawURLEncoding.EncodeToString(body)
	return jwt.SigningMethodRS256.Verify(signingString, sig, pub)
}

// LoadKeyFile reads a PEM encoded RSA private key from disk.
func LoadKeyFile(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return jwt.ParseRSAPrivateKeyFromPEM(b)
}

// LoadKeySecret reads a PEM encoded RSA private key from a secrets provider.
// The secret may be the bare PEM or a JSON object with a privateKey field.
func LoadKeySecret(ctx context.Context, p secrets.Provider, id string) (*rsa.PrivateKey, error) {
	sec, err := p.GetSecret(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch signing key %s: %w", id, err)
	}
	pem := sec["privateKey"]
	if pem == "" {
		pem = sec["value"]
	}
	if pem == "" {
		return nil, fmt.Errorf("secret %s has no private key", id)
	}
	return jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
}
