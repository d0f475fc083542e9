package asynctls

import (
	"github.com/Atmelfan/async-tls/session"
	"github.com/Atmelfan/async-tls/transport"
	"io"
	"sync"
	"sync/atomic"
)

const cipherChunk = 16384 + 2048 // one full TLS record plus expansion

// pollState is a bitset of the transport directions a poll is blocked on.
type pollState uint8

const (
	pollNeedRead pollState = 1 << iota
	pollNeedWrite
)

// stream couples one session engine to one transport and performs bounded
// units of progress between them. One read and one write poll may be in
// flight at the same time; mu serializes them, since both directions drive
// the same engine and the same pending-ciphertext buffer.
type stream struct {
	engine session.Engine
	tr     transport.Transport
	mu     sync.Mutex
	rbuf   []byte
	wbuf   []byte
	wpend  []byte // produced ciphertext not yet accepted by the transport
}

func newStream(engine session.Engine, tr transport.Transport) *stream {
	return &stream{
		engine: engine,
		tr:     tr,
	}
}

// pump forwards ciphertext in both directions. Per invocation it performs at
// most one TryWrite and at most one TryRead, so a stalled peer cannot starve
// other tasks sharing the scheduler. Partial progress stays in the engine's
// buffers or in wpend and is safe to resume from. The caller holds mu.
func (s *stream) pump(op string, wantRead bool) (progress bool, need pollState, err error) {
	if perr := s.engine.ProcessErrors(); perr != nil {
		err = newProtocolError(op, perr)
		return
	}

	// engine -> transport
	if len(s.wpend) == 0 && s.engine.WantsWrite() {
		if s.wbuf == nil {
			s.wbuf = make([]byte, cipherChunk)
		}
		n, perr := s.engine.ProduceCiphertext(s.wbuf)
		if perr != nil {
			err = newProtocolError(op, perr)
			return
		}
		s.wpend = s.wbuf[:n]
	}
	if len(s.wpend) > 0 {
		n, werr := s.tr.TryWrite(s.wpend)
		if n > 0 {
			s.wpend = s.wpend[n:]
			progress = true
		}
		if werr != nil {
			if !transport.IsWouldBlock(werr) {
				err = newTransportError(op, werr)
				return
			}
			need |= pollNeedWrite
		}
	}

	// transport -> engine
	if wantRead {
		if s.rbuf == nil {
			s.rbuf = make([]byte, cipherChunk)
		}
		n, rerr := s.tr.TryRead(s.rbuf)
		if n > 0 {
			fed := 0
			for fed < n {
				m, ferr := s.engine.FeedCiphertext(s.rbuf[fed:n])
				if ferr != nil {
					err = newProtocolError(op, ferr)
					return
				}
				if m == 0 {
					break
				}
				fed += m
			}
			progress = true
		}
		// a terminal error delivered together with final bytes is deferred:
		// the transport reports it again on the next attempt, after the
		// bytes (possibly a close-notify) went through the engine
		if rerr != nil && n == 0 {
			switch {
			case transport.IsWouldBlock(rerr):
				need |= pollNeedRead
			case rerr == io.EOF:
				err = newTransportError(op, io.ErrUnexpectedEOF)
				return
			default:
				err = newTransportError(op, rerr)
				return
			}
		}
	}

	if perr := s.engine.ProcessErrors(); perr != nil {
		progress = false
		err = newProtocolError(op, perr)
		return
	}
	return
}

// pumpStep is a single locked pump invocation, for the handshake driver.
func (s *stream) pumpStep(op string, wantRead bool) (progress bool, need pollState, err error) {
	s.mu.Lock()
	progress, need, err = s.pump(op, wantRead)
	s.mu.Unlock()
	return
}

// readPlain fills p with decrypted bytes, pumping the transport as needed.
// n == 0 with nil err means the poll suspended; need names the directions to
// wait on. io.EOF reports the peer's clean close-notify.
func (s *stream) readPlain(op string, p []byte) (n int, need pollState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		rn, rerr := s.engine.ReadPlaintext(p)
		if rerr == nil && rn > 0 {
			n = rn
			return
		}
		if rerr != nil && !session.IsWouldBlock(rerr) {
			if rerr == io.EOF {
				err = io.EOF
				return
			}
			err = newProtocolError(op, rerr)
			return
		}
		progress, nd, perr := s.pump(op, true)
		if perr != nil {
			err = perr
			return
		}
		if !progress {
			need = nd
			if need == 0 {
				need = pollNeedRead
			}
			return
		}
	}
}

// writePlain hands plaintext to the engine for encryption.
func (s *stream) writePlain(p []byte) (n int, err error) {
	s.mu.Lock()
	n, err = s.engine.WritePlaintext(p)
	s.mu.Unlock()
	return
}

// flush drives pending ciphertext out until the transport accepted all of it
// or reported would-block.
func (s *stream) flush(op string) (need pollState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.wpend) == 0 && !s.engine.WantsWrite() {
			return
		}
		progress, nd, perr := s.pump(op, false)
		if perr != nil {
			err = perr
			return
		}
		if len(s.wpend) == 0 && !s.engine.WantsWrite() {
			return
		}
		if !progress {
			need = nd
			if need == 0 {
				need = pollNeedWrite
			}
			return
		}
	}
}

// sendCloseNotify queues the engine's close-notify alert.
func (s *stream) sendCloseNotify() (err error) {
	s.mu.Lock()
	err = s.engine.SendCloseNotify()
	s.mu.Unlock()
	return
}

// flushed reports whether no ciphertext is pending on the way out.
func (s *stream) flushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wpend) == 0 && !s.engine.WantsWrite()
}

// suspend registers cont on every direction in need. Whichever readiness
// signal fires first wins; the others become no-ops, so cont runs at most
// once per suspension. The continuation runs on its own goroutine: readiness
// often fires from inside the peer's poll, and resuming inline there would
// re-enter a stream that is still holding mu.
func (s *stream) suspend(need pollState, cont func()) {
	fired := new(atomic.Bool)
	guard := func() {
		if fired.CompareAndSwap(false, true) {
			go cont()
		}
	}
	if need&pollNeedRead != 0 {
		s.tr.WakeRead(guard)
	}
	if need&pollNeedWrite != 0 {
		s.tr.WakeWrite(guard)
	}
}

// release drops the transport handle and the engine. Safe to call twice.
func (s *stream) release() (err error) {
	_ = s.engine.Close()
	err = s.tr.Close()
	return
}
