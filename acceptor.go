package asynctls

import (
	"context"
	"crypto/tls"
	"github.com/Atmelfan/async-tls/session"
	"github.com/Atmelfan/async-tls/transport"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
)

// Acceptor builds server side TLS streams over caller supplied transports.
// Like Connector it is immutable and safe for concurrent use.
type Acceptor struct {
	config *tls.Config
}

// NewAcceptor builds an Acceptor from the given options. At least one
// certificate chain is required unless the base config supplies its own
// certificate source.
func NewAcceptor(opts ...Option) (a *Acceptor, err error) {
	options, optErr := buildOptions(opts)
	if optErr != nil {
		err = optErr
		return
	}
	config := options.buildConfig()
	if len(config.Certificates) == 0 && config.GetCertificate == nil && config.GetConfigForClient == nil {
		err = errors.New(
			"no certificates configured",
			errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
			errors.WithMeta(errMetaOpKey, errMetaOpAccept),
		)
		return
	}
	a = &Acceptor{config: config}
	return
}

// Accept runs the server handshake against the peer behind tr. The future
// succeeds with an established stream or fails with the handshake error; in
// the latter case the transport stays with the caller.
func (a *Acceptor) Accept(ctx context.Context, tr transport.Transport) (future async.Future[*TlsStream]) {
	future = a.accept(ctx, tr, nil)
	return
}

// AcceptWith is Accept with a session customization hook, called once before
// the handshake starts. The hook must not retain the engine.
func (a *Acceptor) AcceptWith(ctx context.Context, tr transport.Transport, setup func(engine *session.StdEngine)) (future async.Future[*TlsStream]) {
	future = a.accept(ctx, tr, setup)
	return
}

func (a *Acceptor) accept(ctx context.Context, tr transport.Transport, setup func(engine *session.StdEngine)) (future async.Future[*TlsStream]) {
	ctx = withExecutors(ctx)
	engine := session.Server(a.config)
	if setup != nil {
		setup(engine)
	}
	future = handshake(ctx, engine, tr, nil)
	return
}
