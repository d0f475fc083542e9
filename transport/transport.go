package transport

import (
	"github.com/brickingsoft/errors"
)

var (
	ErrWouldBlock = errors.Define("transport: operation would block")
	ErrClosed     = errors.Define("transport: use of closed transport")
)

func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// Waker is a one-shot readiness callback. It is invoked once, from an
// arbitrary goroutine, after the direction it was registered for becomes
// ready. No transport locks are held during the call.
type Waker func()

// Transport is a duplex byte channel with non-blocking semantics. TryRead and
// TryWrite never wait: when the channel is not ready they return
// ErrWouldBlock and the caller registers a Waker to be resumed.
//
// A Transport is owned by exactly one stream at a time. Implementations need
// not support more than one pending caller per direction.
type Transport interface {
	// TryRead fills p with available bytes. It returns ErrWouldBlock when no
	// bytes are ready and io.EOF once the peer side is closed and drained.
	TryRead(p []byte) (n int, err error)
	// TryWrite queues bytes for the peer. It may accept a prefix of p and
	// returns ErrWouldBlock when nothing can be accepted right now.
	TryWrite(p []byte) (n int, err error)
	// WakeRead registers w to fire once the transport becomes readable.
	WakeRead(w Waker)
	// WakeWrite registers w to fire once the transport becomes writable.
	WakeWrite(w Waker)
	Close() (err error)
}
