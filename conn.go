package asynctls

import (
	"context"
	"crypto/tls"
	"github.com/Atmelfan/async-tls/session"
	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/rxp/async"
	"io"
	"sync"
	"sync/atomic"
)

// ErrEmptyBytes means read or write was called with an empty buffer.
var ErrEmptyBytes = errors.Define("asynctls: empty bytes")

// TlsStream is an established TLS connection. Reads and writes are served as
// futures and may be in flight concurrently with each other, but each
// direction admits one operation at a time; a second concurrent call on the
// same direction fails with ErrBusy.
//
// The two directions shut down independently. Once both are shut the stream
// releases the session engine and the transport handle.
type TlsStream struct {
	ctx      context.Context
	s        *stream
	mu       sync.Mutex
	state    TlsState
	readErr  error
	writeErr error
	reading  atomic.Bool
	writing  atomic.Bool
	released atomic.Bool
}

func newTlsStream(ctx context.Context, s *stream) *TlsStream {
	return &TlsStream{
		ctx:   ctx,
		s:     s,
		state: StateStream,
	}
}

// State reports the current shutdown state.
func (conn *TlsStream) State() TlsState {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.state
}

// ConnectionState reports the negotiated TLS parameters when the underlying
// engine exposes them.
func (conn *TlsStream) ConnectionState() (state tls.ConnectionState, ok bool) {
	type stater interface {
		ConnectionState() tls.ConnectionState
	}
	if cs, is := conn.s.engine.(stater); is {
		state = cs.ConnectionState()
		ok = true
	}
	return
}

// Read decrypts application data into p. The future succeeds with 0 at end
// of stream: after the peer's close-notify, or immediately once the read
// direction was shut down, without touching the transport. A read that
// previously failed keeps failing with the same error.
func (conn *TlsStream) Read(p []byte) (future async.Future[int]) {
	ctx := conn.ctx
	if len(p) == 0 {
		future = async.FailedImmediately[int](ctx, ErrEmptyBytes)
		return
	}
	conn.mu.Lock()
	if !conn.state.readable() {
		conn.mu.Unlock()
		future = async.SucceedImmediately[int](ctx, 0)
		return
	}
	if conn.readErr != nil {
		err := conn.readErr
		conn.mu.Unlock()
		future = async.FailedImmediately[int](ctx, err)
		return
	}
	conn.mu.Unlock()
	if !conn.reading.CompareAndSwap(false, true) {
		future = async.FailedImmediately[int](ctx, errBusy(errMetaOpRead))
		return
	}
	promise, promiseErr := async.Make[int](ctx, async.WithWait())
	if promiseErr != nil {
		conn.reading.Store(false)
		future = async.FailedImmediately[int](ctx, promiseErr)
		return
	}
	conn.pollRead(p, promise)
	future = promise.Future()
	return
}

func (conn *TlsStream) pollRead(p []byte, promise async.Promise[int]) {
	if cause := conn.ctx.Err(); cause != nil {
		conn.reading.Store(false)
		promise.Fail(cause)
		return
	}
	n, need, err := conn.s.readPlain(errMetaOpRead, p)
	if err != nil {
		if err == io.EOF {
			// peer's close-notify: clean end of stream
			conn.shutRead()
			conn.reading.Store(false)
			promise.Succeed(0)
			return
		}
		conn.mu.Lock()
		conn.readErr = err
		conn.mu.Unlock()
		conn.reading.Store(false)
		promise.Fail(err)
		return
	}
	if n > 0 {
		conn.reading.Store(false)
		promise.Succeed(n)
		return
	}
	conn.s.suspend(need, func() {
		conn.pollRead(p, promise)
	})
}

// Write encrypts p and flushes it to the transport. The future succeeds with
// the number of plaintext bytes accepted once the transport took all produced
// ciphertext. After Shutdown or Close it fails with ErrShutdown.
func (conn *TlsStream) Write(p []byte) (future async.Future[int]) {
	ctx := conn.ctx
	if len(p) == 0 {
		future = async.FailedImmediately[int](ctx, ErrEmptyBytes)
		return
	}
	conn.mu.Lock()
	if !conn.state.writeable() {
		conn.mu.Unlock()
		future = async.FailedImmediately[int](ctx, errShutdown(errMetaOpWrite))
		return
	}
	if conn.writeErr != nil {
		err := conn.writeErr
		conn.mu.Unlock()
		future = async.FailedImmediately[int](ctx, err)
		return
	}
	conn.mu.Unlock()
	if !conn.writing.CompareAndSwap(false, true) {
		future = async.FailedImmediately[int](ctx, errBusy(errMetaOpWrite))
		return
	}
	promise, promiseErr := async.Make[int](ctx, async.WithWait())
	if promiseErr != nil {
		conn.writing.Store(false)
		future = async.FailedImmediately[int](ctx, promiseErr)
		return
	}
	conn.pollWrite(p, 0, promise)
	future = promise.Future()
	return
}

func (conn *TlsStream) pollWrite(p []byte, accepted int, promise async.Promise[int]) {
	for {
		if cause := conn.ctx.Err(); cause != nil {
			conn.writing.Store(false)
			promise.Fail(cause)
			return
		}
		taken := 0
		if accepted < len(p) {
			n, werr := conn.s.writePlain(p[accepted:])
			accepted += n
			taken = n
			if werr != nil && !session.IsWouldBlock(werr) {
				failWrite(conn, promise, newProtocolError(errMetaOpWrite, werr))
				return
			}
		}
		need, err := conn.s.flush(errMetaOpWrite)
		if err != nil {
			failWrite(conn, promise, err)
			return
		}
		if need == 0 {
			if accepted == len(p) {
				conn.writing.Store(false)
				promise.Succeed(accepted)
				return
			}
			if taken > 0 {
				continue
			}
			// engine refused plaintext with nothing left to flush: wait for
			// the transport instead of spinning
			need = pollNeedWrite
		}
		total := accepted
		conn.s.suspend(need, func() {
			conn.pollWrite(p, total, promise)
		})
		return
	}
}

// Flush pushes any buffered ciphertext out to the transport.
func (conn *TlsStream) Flush() (future async.Future[async.Void]) {
	ctx := conn.ctx
	conn.mu.Lock()
	if !conn.state.writeable() {
		conn.mu.Unlock()
		future = async.SucceedImmediately[async.Void](ctx, async.Void{})
		return
	}
	if conn.writeErr != nil {
		err := conn.writeErr
		conn.mu.Unlock()
		future = async.FailedImmediately[async.Void](ctx, err)
		return
	}
	conn.mu.Unlock()
	if !conn.writing.CompareAndSwap(false, true) {
		future = async.FailedImmediately[async.Void](ctx, errBusy(errMetaOpFlush))
		return
	}
	promise, promiseErr := async.Make[async.Void](ctx, async.WithWait())
	if promiseErr != nil {
		conn.writing.Store(false)
		future = async.FailedImmediately[async.Void](ctx, promiseErr)
		return
	}
	conn.pollFlush(errMetaOpFlush, promise)
	future = promise.Future()
	return
}

func (conn *TlsStream) pollFlush(op string, promise async.Promise[async.Void]) {
	if cause := conn.ctx.Err(); cause != nil {
		conn.writing.Store(false)
		promise.Fail(cause)
		return
	}
	need, err := conn.s.flush(op)
	if err != nil {
		failWrite(conn, promise, err)
		return
	}
	if need == 0 {
		finishShutdown := op == errMetaOpShutdown
		conn.writing.Store(false)
		if finishShutdown {
			conn.maybeRelease()
		}
		promise.Succeed(async.Void{})
		return
	}
	conn.s.suspend(need, func() {
		conn.pollFlush(op, promise)
	})
}

// Shutdown sends the close-notify alert, flushes it, and shuts the write
// direction down. Reading from the peer stays possible until its own
// close-notify arrives. Calling Shutdown again succeeds immediately without
// touching the transport.
func (conn *TlsStream) Shutdown() (future async.Future[async.Void]) {
	ctx := conn.ctx
	conn.mu.Lock()
	if !conn.state.writeable() {
		conn.mu.Unlock()
		future = async.SucceedImmediately[async.Void](ctx, async.Void{})
		return
	}
	conn.mu.Unlock()
	if !conn.writing.CompareAndSwap(false, true) {
		future = async.FailedImmediately[async.Void](ctx, errBusy(errMetaOpShutdown))
		return
	}
	conn.mu.Lock()
	conn.state.shutdownWrite()
	conn.mu.Unlock()
	if err := conn.s.sendCloseNotify(); err != nil {
		conn.writing.Store(false)
		conn.maybeRelease()
		future = async.FailedImmediately[async.Void](ctx, newProtocolError(errMetaOpShutdown, err))
		return
	}
	promise, promiseErr := async.Make[async.Void](ctx, async.WithWait())
	if promiseErr != nil {
		conn.writing.Store(false)
		conn.maybeRelease()
		future = async.FailedImmediately[async.Void](ctx, promiseErr)
		return
	}
	Logger.Debugf("shutting down write direction")
	conn.pollFlush(errMetaOpShutdown, promise)
	future = promise.Future()
	return
}

// Close tears the stream down without a close-notify exchange. Use Shutdown
// for a graceful close; Close is for abandoning the connection.
func (conn *TlsStream) Close() (err error) {
	conn.mu.Lock()
	conn.state.shutdownRead()
	conn.state.shutdownWrite()
	conn.mu.Unlock()
	err = conn.release()
	return
}

func (conn *TlsStream) shutRead() {
	conn.mu.Lock()
	conn.state.shutdownRead()
	conn.mu.Unlock()
	conn.maybeRelease()
}

func (conn *TlsStream) maybeRelease() {
	conn.mu.Lock()
	done := conn.state == StateFullyShutdown
	conn.mu.Unlock()
	if done {
		_ = conn.release()
	}
}

func (conn *TlsStream) release() (err error) {
	if !conn.released.CompareAndSwap(false, true) {
		return
	}
	Logger.Debugf("releasing stream")
	err = conn.s.release()
	return
}

func failWrite[T any](conn *TlsStream, promise async.Promise[T], err error) {
	conn.mu.Lock()
	conn.writeErr = err
	conn.mu.Unlock()
	conn.writing.Store(false)
	promise.Fail(err)
}
