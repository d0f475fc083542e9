package asynctls

import (
	"crypto/tls"
	"crypto/x509"
	"github.com/Atmelfan/async-tls/session"
	"github.com/brickingsoft/errors"
)

// DefaultMaxEarlyData caps how much application data a connector offers
// before the handshake resolved when early data is enabled.
const DefaultMaxEarlyData = 16384

type Options struct {
	TLSConfig    *tls.Config
	TrustAnchors *x509.CertPool
	Pins         []session.Fingerprint
	Insecure     bool
	Certificates []tls.Certificate
	NextProtos   []string
	EarlyData    bool
	MaxEarlyData int
}

type Option func(options *Options) (err error)

// WithTLSConfig
// uses config as the base TLS configuration. It is cloned before use; other
// options apply on top of the clone.
func WithTLSConfig(config *tls.Config) Option {
	return func(options *Options) (err error) {
		if config == nil {
			err = errors.New("asynctls: nil tls config")
			return
		}
		options.TLSConfig = config
		return
	}
}

// WithTrustAnchors
// verifies peers against pool instead of the system roots.
func WithTrustAnchors(pool *x509.CertPool) Option {
	return func(options *Options) (err error) {
		options.TrustAnchors = pool
		return
	}
}

// WithTrustAnchorsPEM
// verifies peers against the PEM encoded certificates in pemCerts instead of
// the system roots.
func WithTrustAnchorsPEM(pemCerts []byte) Option {
	return func(options *Options) (err error) {
		pool, poolErr := session.CertPoolFromPEM(pemCerts)
		if poolErr != nil {
			err = poolErr
			return
		}
		options.TrustAnchors = pool
		return
	}
}

// WithTrustAnchorsFile
// verifies peers against the PEM encoded certificates in the given file
// instead of the system roots.
func WithTrustAnchorsFile(path string) Option {
	return func(options *Options) (err error) {
		pool, poolErr := session.CertPoolFromFile(path)
		if poolErr != nil {
			err = poolErr
			return
		}
		options.TrustAnchors = pool
		return
	}
}

// WithPinnedPeers
// skips chain verification and accepts only peers whose public key matches
// one of the given fingerprints.
func WithPinnedPeers(pins ...session.Fingerprint) Option {
	return func(options *Options) (err error) {
		if len(pins) == 0 {
			err = errors.New("asynctls: no pinned fingerprints")
			return
		}
		options.Pins = pins
		return
	}
}

// WithoutVerification
// disables peer certificate verification entirely. For tests.
func WithoutVerification() Option {
	return func(options *Options) (err error) {
		options.Insecure = true
		return
	}
}

// WithCertificates
// presents the given certificate chains to the peer. Acceptors require at
// least one.
func WithCertificates(certificates ...tls.Certificate) Option {
	return func(options *Options) (err error) {
		options.Certificates = certificates
		return
	}
}

// WithNextProtos
// sets the ALPN protocols to offer, in preference order.
func WithNextProtos(protos ...string) Option {
	return func(options *Options) (err error) {
		options.NextProtos = protos
		return
	}
}

// WithEarlyData
// enables offering application data before the handshake resolved.
// maxEarlyData <= 0 selects DefaultMaxEarlyData.
func WithEarlyData(maxEarlyData int) Option {
	return func(options *Options) (err error) {
		options.EarlyData = true
		if maxEarlyData <= 0 {
			maxEarlyData = DefaultMaxEarlyData
		}
		options.MaxEarlyData = maxEarlyData
		return
	}
}

func buildOptions(opts []Option) (options *Options, err error) {
	options = &Options{}
	for _, opt := range opts {
		if err = opt(options); err != nil {
			return
		}
	}
	return
}

func (options *Options) buildConfig() (config *tls.Config) {
	if options.TLSConfig != nil {
		config = options.TLSConfig.Clone()
	} else {
		config = &tls.Config{}
	}
	if len(options.Certificates) > 0 {
		config.Certificates = options.Certificates
	}
	if len(options.NextProtos) > 0 {
		config.NextProtos = options.NextProtos
	}
	if options.TrustAnchors != nil {
		config.RootCAs = options.TrustAnchors
	}
	if len(options.Pins) > 0 {
		config.InsecureSkipVerify = true
		config.VerifyPeerCertificate = session.VerifyPinned(options.Pins)
	}
	if options.Insecure {
		config.InsecureSkipVerify = true
	}
	return
}
