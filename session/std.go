package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Client builds a crypto/tls backed engine for the connecting side. The
// config is cloned; serverName overrides config.ServerName when non-empty.
func Client(config *tls.Config, serverName string) *StdEngine {
	cfg := config.Clone()
	if serverName != "" {
		cfg.ServerName = serverName
	}
	return newStdEngine(cfg, true)
}

// Server builds a crypto/tls backed engine for the accepting side.
func Server(config *tls.Config) *StdEngine {
	return newStdEngine(config.Clone(), false)
}

func newStdEngine(config *tls.Config, isClient bool) *StdEngine {
	e := &StdEngine{
		config:   config,
		isClient: isClient,
		link:     newLink(),
	}
	return e
}

// StdEngine adapts crypto/tls, which expects to loop synchronously over a
// net.Conn, into the non-blocking Engine contract. The tls.Conn runs against
// an in-memory link: reads during the handshake block on a cond until
// ciphertext is fed, writes only ever fill a buffer. The handshake itself
// runs on a dedicated goroutine that exits as soon as the handshake resolves;
// after that every engine call is served synchronously on the caller's
// goroutine with the link in non-blocking mode.
type StdEngine struct {
	config    *tls.Config
	isClient  bool
	link      *link
	conn      *tls.Conn
	startOnce sync.Once
	started   atomic.Bool
	done      atomic.Bool
	mu        sync.Mutex
	hsErr     error
	fatal     error
}

// SetALPNProtocols sets the protocols offered or selected during the
// handshake. It must be called before the first handshake step and is meant
// for connector customization callbacks.
func (e *StdEngine) SetALPNProtocols(protos []string) (err error) {
	if e.started.Load() {
		err = ErrEngineStarted
		return
	}
	e.config.NextProtos = protos
	return
}

func (e *StdEngine) start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		if e.isClient {
			e.conn = tls.Client(e.link, e.config)
		} else {
			e.conn = tls.Server(e.link, e.config)
		}
		go func() {
			err := e.conn.HandshakeContext(context.Background())
			e.mu.Lock()
			e.hsErr = err
			e.mu.Unlock()
			e.done.Store(true)
			e.link.setNonblock()
		}()
		e.link.waitQuiesce()
	})
}

func (e *StdEngine) FeedCiphertext(p []byte) (n int, err error) {
	e.start()
	if ferr := e.ProcessErrors(); ferr != nil {
		err = ferr
		return
	}
	n, err = e.link.feed(p)
	if err != nil {
		return
	}
	if !e.done.Load() {
		// hand the bytes to the handshake goroutine and wait until it went
		// back to sleep, produced output or resolved the handshake
		e.link.waitQuiesce()
	}
	return
}

func (e *StdEngine) ProduceCiphertext(p []byte) (n int, err error) {
	e.start()
	n = e.link.produce(p)
	return
}

func (e *StdEngine) ReadPlaintext(p []byte) (n int, err error) {
	e.start()
	if !e.done.Load() {
		err = ErrEngineWouldBlock
		return
	}
	if herr := e.handshakeErr(); herr != nil {
		err = herr
		return
	}
	e.mu.Lock()
	fatal := e.fatal
	e.mu.Unlock()
	if fatal != nil {
		err = fatal
		return
	}
	n, err = e.conn.Read(p)
	if err != nil {
		if isTransient(err) {
			err = nil
			if n == 0 {
				err = ErrEngineWouldBlock
			}
			return
		}
		if err != io.EOF {
			e.mu.Lock()
			e.fatal = err
			e.mu.Unlock()
		}
	}
	return
}

func (e *StdEngine) WritePlaintext(p []byte) (n int, err error) {
	e.start()
	if !e.done.Load() {
		err = ErrEngineWouldBlock
		return
	}
	if herr := e.handshakeErr(); herr != nil {
		err = herr
		return
	}
	n, err = e.conn.Write(p)
	if err != nil && !isTransient(err) {
		e.mu.Lock()
		e.fatal = err
		e.mu.Unlock()
	}
	return
}

func (e *StdEngine) WantsRead() bool {
	e.start()
	return e.link.wantsRead(!e.done.Load())
}

func (e *StdEngine) WantsWrite() bool {
	e.start()
	return e.link.wantsWrite()
}

func (e *StdEngine) IsHandshaking() bool {
	if !e.started.Load() {
		return true
	}
	return !e.done.Load()
}

func (e *StdEngine) ProcessErrors() (err error) {
	if !e.done.Load() {
		return
	}
	if herr := e.handshakeErr(); herr != nil {
		err = herr
		return
	}
	e.mu.Lock()
	err = e.fatal
	e.mu.Unlock()
	return
}

func (e *StdEngine) SendCloseNotify() (err error) {
	if e.conn == nil || !e.done.Load() {
		err = ErrEngineWouldBlock
		return
	}
	err = e.conn.CloseWrite()
	return
}

func (e *StdEngine) Close() (err error) {
	e.link.shut()
	return
}

// ConnectionState reports the negotiated TLS state once the handshake
// completed.
func (e *StdEngine) ConnectionState() tls.ConnectionState {
	if e.conn == nil {
		return tls.ConnectionState{}
	}
	return e.conn.ConnectionState()
}

func (e *StdEngine) handshakeErr() error {
	e.mu.Lock()
	err := e.hsErr
	e.mu.Unlock()
	return err
}

// transientError is what the link reports to crypto/tls when no ciphertext
// is buffered. crypto/tls treats timeout-ish net.Errors as resumable and
// keeps partial records in its own buffers.
type transientError struct{}

func (transientError) Error() string   { return "session: no buffered records" }
func (transientError) Timeout() bool   { return true }
func (transientError) Temporary() bool { return true }

func isTransient(err error) bool {
	_, ok := err.(transientError)
	return ok
}

// link is the in-memory net.Conn the tls.Conn runs against.
type link struct {
	mu          sync.Mutex
	cond        *sync.Cond
	in          bytes.Buffer // ciphertext from the peer
	out         bytes.Buffer // ciphertext for the peer
	readWaiting bool
	nonblock    bool
	closed      bool
}

func newLink() *link {
	l := &link{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *link) Read(p []byte) (n int, err error) {
	l.mu.Lock()
	for l.in.Len() == 0 {
		if l.closed {
			l.mu.Unlock()
			err = io.EOF
			return
		}
		if l.nonblock {
			l.mu.Unlock()
			err = transientError{}
			return
		}
		l.readWaiting = true
		l.cond.Broadcast()
		l.cond.Wait()
	}
	l.readWaiting = false
	n, _ = l.in.Read(p)
	l.mu.Unlock()
	return
}

func (l *link) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		err = net.ErrClosed
		return
	}
	n, _ = l.out.Write(p)
	l.mu.Unlock()
	return
}

func (l *link) feed(p []byte) (n int, err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		err = ErrEngineClosed
		return
	}
	n, _ = l.in.Write(p)
	l.cond.Broadcast()
	l.mu.Unlock()
	return
}

func (l *link) produce(p []byte) (n int) {
	l.mu.Lock()
	n, _ = l.out.Read(p)
	l.mu.Unlock()
	return
}

// waitQuiesce blocks until the handshake goroutine cannot run any further on
// its own: it either sleeps waiting for ciphertext with an empty inbox, or it
// resolved the handshake (nonblock set). The wait is on local computation
// only, never on network readiness.
func (l *link) waitQuiesce() {
	l.mu.Lock()
	for !l.nonblock && !(l.readWaiting && l.in.Len() == 0) {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *link) setNonblock() {
	l.mu.Lock()
	l.nonblock = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *link) wantsRead(handshaking bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if handshaking {
		return l.readWaiting && l.in.Len() == 0
	}
	return l.in.Len() == 0
}

func (l *link) wantsWrite() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Len() > 0
}

func (l *link) shut() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *link) LocalAddr() net.Addr                { return linkAddr{} }
func (l *link) RemoteAddr() net.Addr               { return linkAddr{} }
func (l *link) SetDeadline(t time.Time) error      { return nil }
func (l *link) SetReadDeadline(t time.Time) error  { return nil }
func (l *link) SetWriteDeadline(t time.Time) error { return nil }
func (l *link) Close() error {
	l.shut()
	return nil
}

type linkAddr struct{}

func (linkAddr) Network() string { return "mem" }
func (linkAddr) String() string  { return "session" }
