// Package session defines the TLS session engine capability consumed by the
// async stream adapter, plus a reference engine backed by crypto/tls.
//
// An Engine owns all protocol state: handshake progress, negotiated keys and
// plaintext buffering. It performs no I/O of its own; callers pump ciphertext
// in and out through FeedCiphertext/ProduceCiphertext and exchange plaintext
// through ReadPlaintext/WritePlaintext.
package session

import (
	"github.com/brickingsoft/errors"
)

var (
	// ErrEngineWouldBlock reports that the engine cannot make progress until
	// more ciphertext is fed or the handshake advances.
	ErrEngineWouldBlock = errors.Define("session: engine would block")
	ErrEngineClosed     = errors.Define("session: engine closed")
	ErrEngineStarted    = errors.Define("session: handshake already started")
)

func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrEngineWouldBlock)
}

// Engine is an opaque TLS protocol state machine. Exactly one stream owns an
// Engine for its whole lifetime; implementations may lock internally but
// callers never access one concurrently.
type Engine interface {
	// FeedCiphertext hands bytes received from the peer to the engine. The
	// engine buffers internally and always consumes all of p unless a fatal
	// protocol error is pending.
	FeedCiphertext(p []byte) (n int, err error)
	// ProduceCiphertext drains bytes the engine wants on the wire into p.
	// n == 0 means nothing is pending.
	ProduceCiphertext(p []byte) (n int, err error)
	// ReadPlaintext fills p with decrypted application data. It returns
	// ErrEngineWouldBlock when none is buffered, and io.EOF after the peer's
	// close-notify has been processed.
	ReadPlaintext(p []byte) (n int, err error)
	// WritePlaintext accepts application data for encryption. It returns
	// ErrEngineWouldBlock while the handshake is still in flight.
	WritePlaintext(p []byte) (n int, err error)
	// WantsRead reports whether the engine is waiting for peer ciphertext.
	WantsRead() bool
	// WantsWrite reports whether ProduceCiphertext would yield bytes.
	WantsWrite() bool
	IsHandshaking() bool
	// ProcessErrors surfaces a pending fatal protocol error, if any.
	ProcessErrors() (err error)
	// SendCloseNotify queues the close-notify alert. The caller still has to
	// flush the produced ciphertext.
	SendCloseNotify() (err error)
	Close() (err error)
}

// EarlyDataWriter is implemented by engines that can transmit application
// data before the handshake completes. WriteEarlyData may accept fewer bytes
// than offered; once it returns ErrEngineWouldBlock the caller falls back to
// the ordinary handshake path.
type EarlyDataWriter interface {
	WriteEarlyData(p []byte) (n int, err error)
}
