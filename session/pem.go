package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// CertPoolFromPEM builds a pool from PEM-encoded certificates.
func CertPoolFromPEM(pemBytes []byte) (pool *x509.CertPool, err error) {
	pool = x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(pemBytes); !ok {
		pool = nil
		err = fmt.Errorf("session: no certificates found in PEM input")
		return
	}
	return
}

// CertPoolFromFile reads a PEM bundle from disk.
func CertPoolFromFile(path string) (pool *x509.CertPool, err error) {
	pemBytes, readErr := os.ReadFile(path)
	if readErr != nil {
		err = readErr
		return
	}
	pool, err = CertPoolFromPEM(pemBytes)
	return
}

// GenCertificate issues a fresh self-signed ed25519 certificate for the given
// DNS names. Meant for tests and bootstrap setups, not for production trust.
func GenCertificate(names ...string) (cert tls.Certificate, err error) {
	_, priv, keyErr := ed25519.GenerateKey(rand.Reader)
	if keyErr != nil {
		err = fmt.Errorf("session: generate private key: %w", keyErr)
		return
	}
	return signCertificate(priv, names)
}

func signCertificate(priv ed25519.PrivateKey, names []string) (cert tls.Certificate, err error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, serialErr := rand.Int(rand.Reader, serialNumberLimit)
	if serialErr != nil {
		err = fmt.Errorf("session: generate serial number: %w", serialErr)
		return
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "async-tls"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour * 365),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     names,
	}

	certDER, signErr := x509.CreateCertificate(rand.Reader, &template, &template, priv.Public(), priv)
	if signErr != nil {
		err = signErr
		return
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	privDER, marshalErr := x509.MarshalPKCS8PrivateKey(priv)
	if marshalErr != nil {
		err = marshalErr
		return
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	return tls.X509KeyPair(certPEM, privPEM)
}

// CertPEM returns the leaf certificate of a keypair PEM-encoded, ready to be
// handed to CertPoolFromPEM on the peer side.
func CertPEM(cert tls.Certificate) []byte {
	if len(cert.Certificate) == 0 {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})
}
