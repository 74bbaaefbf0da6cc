// Package auth signs venue handshakes and REST requests with RSA-PSS.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rickgao/tradelink/internal/wire"
)

// Header names carried on signed requests.
const (
	HeaderKey       = "TRADELINK-ACCESS-KEY"
	HeaderTimestamp = "TRADELINK-ACCESS-TIMESTAMP"
	HeaderSignature = "TRADELINK-ACCESS-SIGNATURE"
)

// StreamPath is the path signed for the stream handshake.
const StreamPath = "/v1/stream"

// Credentials holds the API key and private key for signing requests.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignRequest generates authentication headers for a REST request.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	ts := c.timestamp()

	signature, err := c.sign(ts, method, path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		HeaderKey:       c.KeyID,
		HeaderTimestamp: ts,
		HeaderSignature: signature,
	}, nil
}

// SignStream generates the headers sent when the stream is dialed.
func (c *Credentials) SignStream() (map[string]string, error) {
	return c.SignRequest("GET", StreamPath)
}

// SignHandshake builds the auth frame sent as the first command on a new
// stream. The signed message is timestamp + "AUTH" + StreamPath.
func (c *Credentials) SignHandshake() (wire.AuthParams, error) {
	ts := c.timestamp()

	signature, err := c.sign(ts, "AUTH", StreamPath)
	if err != nil {
		return wire.AuthParams{}, err
	}
	return wire.AuthParams{KeyID: c.KeyID, Timestamp: ts, Signature: signature}, nil
}

// Verify checks a signature produced by this package. Venue simulators use
// it to validate handshakes.
func Verify(pub *rsa.PublicKey, timestamp, method, path, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	hashed := sha256.Sum256([]byte(timestamp + method + path))
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

func (c *Credentials) timestamp() string {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return strconv.FormatInt(now().UnixMilli(), 10)
}

// sign creates an RSA-PSS signature over timestamp + method + path.
func (c *Credentials) sign(timestamp, method, path string) (string, error) {
	if c.PrivateKey == nil {
		return "", fmt.Errorf("sign message: no private key")
	}

	hashed := sha256.Sum256([]byte(timestamp + method + path))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}
