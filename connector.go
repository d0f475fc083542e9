package asynctls

import (
	"context"
	"crypto/tls"
	"github.com/Atmelfan/async-tls/session"
	"github.com/Atmelfan/async-tls/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// Connector builds client side TLS streams over caller supplied transports.
// A Connector is immutable after construction and shared freely across
// goroutines; every Connect derives a fresh session from the same
// configuration.
type Connector struct {
	config       *tls.Config
	earlyData    bool
	maxEarlyData int
}

// NewConnector builds a Connector from the given options. Without
// WithTrustAnchors peers are verified against the system roots.
func NewConnector(opts ...Option) (c *Connector, err error) {
	options, optErr := buildOptions(opts)
	if optErr != nil {
		err = optErr
		return
	}
	c = &Connector{
		config:       options.buildConfig(),
		earlyData:    options.EarlyData,
		maxEarlyData: options.MaxEarlyData,
	}
	return
}

// Connect runs the client handshake against the peer behind tr, verifying it
// as domain. The domain is validated before the transport is touched; an
// invalid name fails immediately with ErrInvalidDomain.
func (c *Connector) Connect(ctx context.Context, domain string, tr transport.Transport) (future async.Future[*TlsStream]) {
	future = c.connect(ctx, domain, tr, nil, nil)
	return
}

// ConnectWith is Connect with a session customization hook, called once
// before the handshake starts. The hook must not retain the engine.
func (c *Connector) ConnectWith(ctx context.Context, domain string, tr transport.Transport, setup func(engine *session.StdEngine)) (future async.Future[*TlsStream]) {
	future = c.connect(ctx, domain, tr, nil, setup)
	return
}

// ConnectEarly is Connect with application data supplied up front. When the
// connector has early data enabled and the session can send it, earlyData
// travels with the handshake; otherwise it is written as the first
// application data right after the handshake, before the future resolves.
func (c *Connector) ConnectEarly(ctx context.Context, domain string, tr transport.Transport, earlyData []byte) (future async.Future[*TlsStream]) {
	ctx = withExecutors(ctx)
	if max := c.maxEarlyData; c.earlyData && len(earlyData) > max {
		future = async.FailedImmediately[*TlsStream](ctx, errors.New(
			"early data exceeds limit",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpConnect),
		))
		return
	}
	future = c.connect(ctx, domain, tr, earlyData, nil)
	return
}

func (c *Connector) connect(ctx context.Context, domain string, tr transport.Transport, earlyData []byte, setup func(engine *session.StdEngine)) (future async.Future[*TlsStream]) {
	ctx = withExecutors(ctx)
	if !validDomain(domain) {
		future = async.FailedImmediately[*TlsStream](ctx, errInvalidDomain(domain))
		return
	}
	engine := session.Client(c.config, domain)
	if setup != nil {
		setup(engine)
	}
	Logger.Debugf("connecting to %s", domain)
	future = handshake(ctx, engine, tr, earlyData)
	return
}

// validDomain checks DNS naming rules: dot separated labels of letters,
// digits and hyphens, each 1 to 63 bytes, not starting or ending with a
// hyphen, 253 bytes overall. A single trailing dot is tolerated.
func validDomain(s string) bool {
	if s == "" {
		return false
	}
	if l := len(s); l > 1 && s[l-1] == '.' {
		s = s[:l-1]
	}
	if len(s) > 253 {
		return false
	}
	last := byte('.')
	nonNumeric := false
	partLen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_':
			nonNumeric = true
			partLen++
		case '0' <= c && c <= '9':
			partLen++
		case c == '-':
			if last == '.' {
				return false
			}
			partLen++
			nonNumeric = true
		case c == '.':
			if last == '.' || last == '-' {
				return false
			}
			if partLen > 63 || partLen == 0 {
				return false
			}
			partLen = 0
		default:
			return false
		}
		last = c
	}
	if last == '-' || partLen > 63 || partLen == 0 {
		return false
	}
	return nonNumeric
}
