package session

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"golang.org/x/crypto/sha3"
)

// Fingerprint is the SHA3-256 digest of a certificate's DER-encoded public
// key. Pinning works on the key, not the certificate, so a peer may rotate
// certificates as long as the keypair stays the same.
type Fingerprint [32]byte

func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

func FingerprintFromHex(s string) (fp Fingerprint, err error) {
	raw, decodeErr := hex.DecodeString(s)
	if decodeErr != nil {
		err = decodeErr
		return
	}
	if len(raw) != len(fp) {
		err = fmt.Errorf("session: fingerprint must be %d bytes, got %d", len(fp), len(raw))
		return
	}
	copy(fp[:], raw)
	return
}

// FingerprintCertificate digests the public key of a DER-encoded certificate.
func FingerprintCertificate(der []byte) (fp Fingerprint, err error) {
	cert, parseErr := x509.ParseCertificate(der)
	if parseErr != nil {
		err = parseErr
		return
	}
	pubDER, marshalErr := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if marshalErr != nil {
		err = marshalErr
		return
	}
	fp = sha3.Sum256(pubDER)
	return
}

// VerifyPinned builds a VerifyPeerCertificate callback accepting any peer
// whose public key digest matches one of the allowed fingerprints. Used for
// the "no trust anchors" configuration mode.
func VerifyPinned(allowed []Fingerprint) func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			fp, err := FingerprintCertificate(raw)
			if err != nil {
				return err
			}
			for _, want := range allowed {
				if bytes.Equal(fp[:], want[:]) {
					return nil
				}
			}
		}
		return fmt.Errorf("session: peer is not pinned")
	}
}
