package asynctls

import (
	"bytes"
	"errors"
	"github.com/Atmelfan/async-tls/session"
	"github.com/Atmelfan/async-tls/transport"
	"io"
	"testing"
	"time"
)

// scriptEngine is a hand-driven session engine. The handshake completes once
// hsNeed ciphertext bytes were fed; everything fed afterwards becomes
// plaintext verbatim, everything written becomes ciphertext verbatim.
type scriptEngine struct {
	hsNeed    int
	fed       int
	toSend    []byte
	plaintext bytes.Buffer
	written   bytes.Buffer
	fatal     error
	closed    bool
	sentClose bool
	peerEOF   bool
}

func (e *scriptEngine) FeedCiphertext(p []byte) (n int, err error) {
	if e.fatal != nil {
		err = e.fatal
		return
	}
	n = len(p)
	if e.fed < e.hsNeed {
		hs := min(n, e.hsNeed-e.fed)
		e.fed += hs
		p = p[hs:]
	}
	e.plaintext.Write(p)
	return
}

func (e *scriptEngine) ProduceCiphertext(p []byte) (n int, err error) {
	n = copy(p, e.toSend)
	e.toSend = e.toSend[n:]
	return
}

func (e *scriptEngine) ReadPlaintext(p []byte) (n int, err error) {
	if e.fatal != nil {
		err = e.fatal
		return
	}
	if e.plaintext.Len() == 0 {
		if e.peerEOF {
			err = io.EOF
			return
		}
		err = session.ErrEngineWouldBlock
		return
	}
	n, _ = e.plaintext.Read(p)
	return
}

func (e *scriptEngine) WritePlaintext(p []byte) (n int, err error) {
	if e.IsHandshaking() {
		err = session.ErrEngineWouldBlock
		return
	}
	e.written.Write(p)
	e.toSend = append(e.toSend, p...)
	n = len(p)
	return
}

func (e *scriptEngine) WantsRead() bool      { return e.IsHandshaking() }
func (e *scriptEngine) WantsWrite() bool     { return len(e.toSend) > 0 }
func (e *scriptEngine) IsHandshaking() bool  { return e.fed < e.hsNeed }
func (e *scriptEngine) ProcessErrors() error { return e.fatal }

func (e *scriptEngine) SendCloseNotify() (err error) {
	if !e.sentClose {
		e.sentClose = true
		e.toSend = append(e.toSend, "close-notify"...)
	}
	return
}

func (e *scriptEngine) Close() (err error) {
	e.closed = true
	return
}

// scriptTransport serves reads from a list of chunks and counts every touch.
// An exhausted chunk list reads as would-block; wakers are collected for the
// test to fire by hand.
type scriptTransport struct {
	chunks     [][]byte
	written    bytes.Buffer
	writeLimit int
	blockWrite bool
	reads      int
	writes     int
	rwakers    []transport.Waker
	wwakers    []transport.Waker
	closed     bool
}

func (tr *scriptTransport) TryRead(p []byte) (n int, err error) {
	tr.reads++
	if len(tr.chunks) == 0 {
		err = transport.ErrWouldBlock
		return
	}
	chunk := tr.chunks[0]
	n = copy(p, chunk)
	if n < len(chunk) {
		tr.chunks[0] = chunk[n:]
	} else {
		tr.chunks = tr.chunks[1:]
	}
	return
}

func (tr *scriptTransport) TryWrite(p []byte) (n int, err error) {
	tr.writes++
	if tr.blockWrite {
		err = transport.ErrWouldBlock
		return
	}
	if tr.writeLimit > 0 && len(p) > tr.writeLimit {
		p = p[:tr.writeLimit]
	}
	n, _ = tr.written.Write(p)
	return
}

func (tr *scriptTransport) WakeRead(w transport.Waker)  { tr.rwakers = append(tr.rwakers, w) }
func (tr *scriptTransport) WakeWrite(w transport.Waker) { tr.wwakers = append(tr.wwakers, w) }

func (tr *scriptTransport) Close() (err error) {
	tr.closed = true
	return
}

func (tr *scriptTransport) fireRead() {
	wakers := tr.rwakers
	tr.rwakers = nil
	for _, w := range wakers {
		w()
	}
}

func TestPumpTouchesTransportOncePerDirection(t *testing.T) {
	engine := &scriptEngine{hsNeed: 100, toSend: []byte("flight")}
	tr := &scriptTransport{chunks: [][]byte{[]byte("aa"), []byte("bb")}}
	s := newStream(engine, tr)

	progress, _, err := s.pump(errMetaOpHandshake, true)
	if err != nil {
		t.Fatal(err)
	}
	if !progress {
		t.Error("expected progress")
	}
	if tr.reads != 1 {
		t.Error("reads per pump:", tr.reads)
	}
	if tr.writes != 1 {
		t.Error("writes per pump:", tr.writes)
	}
	if got := tr.written.String(); got != "flight" {
		t.Error("written:", got)
	}
	if engine.fed != 2 {
		t.Error("fed:", engine.fed)
	}
}

func TestPumpRetainsUnsentCiphertext(t *testing.T) {
	engine := &scriptEngine{hsNeed: 100, toSend: []byte("abcdef")}
	tr := &scriptTransport{writeLimit: 2}
	s := newStream(engine, tr)

	for i := 0; i < 3; i++ {
		if _, _, err := s.pump(errMetaOpHandshake, false); err != nil {
			t.Fatal(err)
		}
	}
	if got := tr.written.String(); got != "abcdef" {
		t.Error("written across pumps:", got)
	}
	if len(s.wpend) != 0 {
		t.Error("pending ciphertext left:", len(s.wpend))
	}
}

func TestPumpReportsBlockedDirections(t *testing.T) {
	engine := &scriptEngine{hsNeed: 100, toSend: []byte("flight")}
	tr := &scriptTransport{blockWrite: true}
	s := newStream(engine, tr)

	progress, need, err := s.pump(errMetaOpHandshake, true)
	if err != nil {
		t.Fatal(err)
	}
	if progress {
		t.Error("no progress expected")
	}
	if need&pollNeedWrite == 0 || need&pollNeedRead == 0 {
		t.Error("need:", need)
	}
}

func TestPumpSurfacesEngineErrors(t *testing.T) {
	engine := &scriptEngine{hsNeed: 100, fatal: io.ErrClosedPipe}
	tr := &scriptTransport{}
	s := newStream(engine, tr)

	_, _, err := s.pump(errMetaOpRead, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsProtocol(err) {
		t.Error("not a protocol error:", err)
	}
	if tr.reads != 0 || tr.writes != 0 {
		t.Error("transport touched after fatal engine error")
	}
}

func TestPumpUnexpectedEOF(t *testing.T) {
	engine := &scriptEngine{hsNeed: 100}
	tr := &scriptTransport{}
	s := newStream(engine, tr)
	tr.chunks = nil

	// an empty chunk list is would-block; a closed scripted transport is
	// modeled by making TryRead return io.EOF
	eofTr := &eofTransport{}
	s.tr = eofTr
	_, _, err := s.pump(errMetaOpHandshake, true)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsProtocol(err) {
		t.Error("want transport class, got protocol:", err)
	}
}

type eofTransport struct {
	scriptTransport
}

func (tr *eofTransport) TryRead(p []byte) (n int, err error) {
	err = io.EOF
	return
}

// finalTransport delivers its last bytes and io.EOF in the same TryRead.
type finalTransport struct {
	scriptTransport
	data []byte
	done bool
}

func (tr *finalTransport) TryRead(p []byte) (n int, err error) {
	tr.reads++
	err = io.EOF
	if !tr.done {
		tr.done = true
		n = copy(p, tr.data)
	}
	return
}

func TestReadPlainDeliversFinalBytesBeforeEOF(t *testing.T) {
	engine := &scriptEngine{}
	tr := &finalTransport{data: []byte("bye")}
	s := newStream(engine, tr)

	buf := make([]byte, 16)
	n, _, err := s.readPlain(errMetaOpRead, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "bye" {
		t.Error("read:", string(buf[:n]))
	}

	// the transport's end surfaces only on the next attempt
	_, _, err = s.readPlain(errMetaOpRead, buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("want unexpected EOF, got:", err)
	}
}

func TestReadPlainDrainsBufferedBeforeTransport(t *testing.T) {
	engine := &scriptEngine{}
	engine.plaintext.WriteString("buffered")
	tr := &scriptTransport{}
	s := newStream(engine, tr)

	buf := make([]byte, 16)
	n, _, err := s.readPlain(errMetaOpRead, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "buffered" {
		t.Error("read:", string(buf[:n]))
	}
	if tr.reads != 0 {
		t.Error("transport read despite buffered plaintext")
	}
}

func TestReadPlainSuspendsWhenIdle(t *testing.T) {
	engine := &scriptEngine{}
	tr := &scriptTransport{}
	s := newStream(engine, tr)

	n, need, err := s.readPlain(errMetaOpRead, make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("n:", n)
	}
	if need&pollNeedRead == 0 {
		t.Error("need:", need)
	}
}

func TestSuspendFiresContinuationOnce(t *testing.T) {
	engine := &scriptEngine{}
	tr := &scriptTransport{}
	s := newStream(engine, tr)

	calls := make(chan struct{}, 2)
	s.suspend(pollNeedRead|pollNeedWrite, func() {
		calls <- struct{}{}
	})
	if len(tr.rwakers) != 1 || len(tr.wwakers) != 1 {
		t.Fatal("wakers not registered on both directions")
	}
	tr.rwakers[0]()
	tr.wwakers[0]()
	<-calls
	select {
	case <-calls:
		t.Error("continuation ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}
