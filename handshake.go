package asynctls

import (
	"context"
	"github.com/Atmelfan/async-tls/session"
	"github.com/Atmelfan/async-tls/transport"
	"github.com/brickingsoft/rxp/async"
)

// Handshake drives the TLS handshake between engine and tr to completion.
// The future succeeds with an established stream once the final flight was
// flushed, and fails with a protocol or transport error otherwise. On failure
// the engine is closed; the transport stays with the caller.
//
// Cancelling ctx abandons the handshake between suspension points. The
// transport is never left mid-operation: it can be closed immediately.
func Handshake(ctx context.Context, engine session.Engine, tr transport.Transport) (future async.Future[*TlsStream]) {
	future = handshake(ctx, engine, tr, nil)
	return
}

func handshake(ctx context.Context, engine session.Engine, tr transport.Transport, earlyData []byte) (future async.Future[*TlsStream]) {
	ctx = withExecutors(ctx)
	promise, promiseErr := async.Make[*TlsStream](ctx, async.WithWait())
	if promiseErr != nil {
		future = async.FailedImmediately[*TlsStream](ctx, promiseErr)
		return
	}
	mid := &midHandshake{
		ctx:   ctx,
		s:     newStream(engine, tr),
		early: earlyData,
	}
	mid.poll(promise)
	future = promise.Future()
	return
}

// midHandshake is the in-flight handshake. It owns the stream until the
// future resolves, so nothing here needs synchronization: poll runs on one
// goroutine at a time, re-entered by at most one transport waker.
type midHandshake struct {
	ctx       context.Context
	s         *stream
	early     []byte
	earlySent int
	offered   bool
}

func (mid *midHandshake) poll(promise async.Promise[*TlsStream]) {
	for {
		if cause := mid.ctx.Err(); cause != nil {
			mid.fail(promise, cause)
			return
		}
		mid.offerEarlyData()
		progress, need, err := mid.s.pumpStep(errMetaOpHandshake, true)
		if err != nil {
			Logger.Debugf("handshake failed: %v", err)
			mid.fail(promise, err)
			return
		}
		if !mid.s.engine.IsHandshaking() {
			if rest := mid.early[mid.earlySent:]; len(rest) > 0 {
				// early data the engine did not take pre-handshake goes out
				// as the first application data, before the stream is handed
				// to the caller
				n, werr := mid.s.writePlain(rest)
				mid.earlySent += n
				if werr != nil && !session.IsWouldBlock(werr) {
					mid.fail(promise, newProtocolError(errMetaOpHandshake, werr))
					return
				}
				if n > 0 {
					progress = true
				}
			} else if mid.s.flushed() {
				Logger.Debugf("handshake complete")
				promise.Succeed(newTlsStream(mid.ctx, mid.s))
				return
			}
		}
		if !progress {
			mid.s.suspend(need, func() {
				mid.poll(promise)
			})
			return
		}
	}
}

// offerEarlyData hands application bytes to the engine before the handshake
// resolved. Engines that cannot send early data simply never accept any; the
// remainder is written right after the handshake instead.
func (mid *midHandshake) offerEarlyData() {
	if mid.offered || mid.earlySent == len(mid.early) {
		return
	}
	w, ok := mid.s.engine.(session.EarlyDataWriter)
	if !ok {
		mid.offered = true
		return
	}
	n, err := w.WriteEarlyData(mid.early[mid.earlySent:])
	mid.earlySent += n
	if err != nil || mid.earlySent == len(mid.early) {
		mid.offered = true
	}
}

func (mid *midHandshake) fail(promise async.Promise[*TlsStream], cause error) {
	_ = mid.s.engine.Close()
	promise.Fail(cause)
}
