package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	alpn            = "beam"
	certValidityDur = 365 * 24 * time.Hour
)

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// tlsConfig builds a TLS config whose certificate is bound to the identity
// key. Chain validation is disabled; authentication is the pubkey pin checked
// by verifyPeer after the handshake.
func (id Identity) tlsConfig() (*tls.Config, error) {
	cert, err := selfSignedCert(id.key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}, nil
}

func selfSignedCert(key ed25519.PrivateKey) (tls.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		NotAfter:     time.Now().Add(certValidityDur),
		NotBefore:    time.Now(),
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"beam"}},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Bytes: certDER, Type: "CERTIFICATE"})
	keyPEM := pem.EncodeToMemory(&pem.Block{Bytes: keyDER, Type: "PRIVATE KEY"})

	return tls.X509KeyPair(certPEM, keyPEM)
}

// peerNodeID extracts the NodeID from a handshake-verified connection state.
func peerNodeID(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("peer presented no certificate")
	}
	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("peer certificate key is not ed25519")
	}
	return hex.EncodeToString(pub), nil
}
