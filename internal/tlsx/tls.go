// Package tlsx covers the transport security of the relay: a self-signed
// certificate that the server presents in clear before the handshake, and
// the client-side trust-on-first-use pin store that remembers it.
package tlsx

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/filex"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
)

const (
	certFile = "relay.crt"
	keyFile  = "relay.key"

	certValidity = 365 * 24 * time.Hour
	maxCertSize  = 64 << 10
)

// ErrCertificateMismatch is returned when a server presents a certificate
// that differs from the one pinned for its address.
var ErrCertificateMismatch = errors.New("server certificate does not match pinned certificate")

// Identity is the server's certificate in both usable and raw form.
type Identity struct {
	Certificate tls.Certificate
	// Raw is the DER the server sends in clear before the handshake.
	Raw []byte
}

// LoadOrCreate reads relay.crt and relay.key from dir, generating and
// persisting a fresh self-signed pair when they are missing.
func LoadOrCreate(dir string) (*Identity, error) {
	certPath := filepath.Join(dir, certFile)
	keyPath := filepath.Join(dir, keyFile)

	certPEM, okCert, err := filex.ReadIfExists(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, okKey, err := filex.ReadIfExists(keyPath)
	if err != nil {
		return nil, err
	}

	if !okCert || !okKey {
		certPEM, keyPEM, err = generate(time.Now())
		if err != nil {
			return nil, err
		}
		if err := filex.WriteFileAtomic(keyPath, keyPEM, 0o600); err != nil {
			return nil, err
		}
		if err := filex.WriteFileAtomic(certPath, certPEM, 0o644); err != nil {
			return nil, err
		}
	}

	return parse(certPEM, keyPEM)
}

func generate(now time.Time) (certPEM, keyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: common.AppName},
		DNSNames:     []string{common.AppName},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return certPEM, keyPEM, nil
}

func parse(certPEM, keyPEM []byte) (*Identity, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &Identity{Certificate: cert, Raw: cert.Certificate[0]}, nil
}

// ServerConfig returns a TLS 1.3-only server configuration.
func (id *Identity) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientConfig returns a TLS 1.3 client configuration that accepts exactly
// the pinned certificate and nothing else.
func ClientConfig(pinned []byte) *tls.Config {
	want := append([]byte(nil), pinned...)
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: common.AppName,
		// Chain verification is replaced by the byte comparison below.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], want) {
				return ErrCertificateMismatch
			}
			return nil
		},
	}
}

// SendCertificate writes the raw certificate as one length-prefixed block.
func SendCertificate(w io.Writer, raw []byte) error {
	return protocol.WriteBlock(w, raw)
}

// ReceiveCertificate reads the block written by SendCertificate.
func ReceiveCertificate(r io.Reader) ([]byte, error) {
	raw, err := protocol.ReadBlock(r, maxCertSize)
	if err != nil {
		return nil, fmt.Errorf("receive certificate: %w", err)
	}
	if _, err := x509.ParseCertificate(raw); err != nil {
		return nil, fmt.Errorf("%w: certificate: %v", common.ErrStructural, err)
	}
	return raw, nil
}
