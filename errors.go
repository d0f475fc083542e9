package asynctls

import (
	"github.com/Atmelfan/async-tls/transport"
	"github.com/brickingsoft/errors"
	"net"
)

var (
	// ErrInvalidDomain reports a server name that fails DNS naming rules.
	// Raised by Connect before any I/O happens.
	ErrInvalidDomain = errors.Define("asynctls: invalid domain")
	// ErrProtocol wraps fatal errors reported by the session engine: bad
	// certificates, handshake failures, malformed records, peer alerts.
	ErrProtocol = errors.Define("asynctls: protocol error")
	// ErrShutdown reports a write on a stream half that was already shut.
	ErrShutdown = errors.Define("asynctls: stream closed for writing")
	// ErrClosed reports use of a fully shut down or closed stream.
	ErrClosed = errors.Define("asynctls: closed")
	// ErrBusy reports a second in-flight operation on the same direction.
	// Streams are single-task objects; one read and one write may be pending
	// at a time.
	ErrBusy = errors.Define("asynctls: operation already in flight")
)

const (
	errMetaPkgKey = "pkg"
	errMetaPkgVal = "asynctls"

	errMetaOpKey       = "op"
	errMetaOpConnect   = "connect"
	errMetaOpAccept    = "accept"
	errMetaOpHandshake = "handshake"
	errMetaOpRead      = "read"
	errMetaOpWrite     = "write"
	errMetaOpFlush     = "flush"
	errMetaOpShutdown  = "shutdown"
)

func newProtocolError(op string, cause error) error {
	return errors.New(
		"protocol failure",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(errors.Join(ErrProtocol, cause)),
	)
}

func newTransportError(op string, cause error) error {
	return errors.New(
		"transport failure",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(cause),
	)
}

func errShutdown(op string) error {
	return errors.New(
		"stream closed for writing",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(ErrShutdown),
	)
}

func errBusy(op string) error {
	return errors.New(
		"operation already in flight",
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, op),
		errors.WithWrap(ErrBusy),
	)
}

func errInvalidDomain(domain string) error {
	return errors.New(
		"invalid server name: "+domain,
		errors.WithMeta(errMetaPkgKey, errMetaPkgVal),
		errors.WithMeta(errMetaOpKey, errMetaOpConnect),
		errors.WithWrap(ErrInvalidDomain),
	)
}

func IsInvalidDomain(err error) bool {
	return errors.Is(unwrapOpErr(err), ErrInvalidDomain)
}

func IsProtocol(err error) bool {
	return errors.Is(unwrapOpErr(err), ErrProtocol)
}

func IsShutdown(err error) bool {
	return errors.Is(unwrapOpErr(err), ErrShutdown)
}

func IsClosed(err error) bool {
	err = unwrapOpErr(err)
	return errors.Is(err, ErrClosed) || errors.Is(err, transport.ErrClosed)
}

func IsBusy(err error) bool {
	return errors.Is(unwrapOpErr(err), ErrBusy)
}

func unwrapOpErr(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err
	}
	return err
}
