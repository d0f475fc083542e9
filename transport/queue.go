package transport

import (
	"github.com/valyala/bytebufferpool"
	"io"
	"sync"
)

const defaultQueueSize = 64 * 1024

// queue is a bounded FIFO of bytes shared by the in-memory pipe and the
// net.Conn bridge. Readiness is signalled twice: through one-shot Wakers for
// non-blocking callers and through a cond for the bridge goroutines.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	bb      *bytebufferpool.ByteBuffer
	head    int
	max     int
	closed   bool
	released bool
	failure  error
	rwakers []Waker
	wwakers []Waker
}

func newQueue(max int) *queue {
	if max < 1 {
		max = defaultQueueSize
	}
	q := &queue{
		bb:  bytebufferpool.Get(),
		max: max,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) length() int {
	return len(q.bb.B) - q.head
}

func (q *queue) compact() {
	if q.head == 0 {
		return
	}
	n := copy(q.bb.B, q.bb.B[q.head:])
	q.bb.B = q.bb.B[:n]
	q.head = 0
}

func (q *queue) tryRead(p []byte) (n int, err error) {
	q.mu.Lock()
	if q.length() == 0 {
		if q.closed {
			err = q.failure
			if err == nil {
				err = io.EOF
			}
			q.releaseLocked()
			q.mu.Unlock()
			return
		}
		err = ErrWouldBlock
		q.mu.Unlock()
		return
	}
	n = copy(p, q.bb.B[q.head:])
	q.head += n
	if q.head == len(q.bb.B) {
		q.bb.Reset()
		q.head = 0
	}
	wakers := q.takeWriteWakersLocked()
	q.cond.Broadcast()
	q.mu.Unlock()
	fire(wakers)
	return
}

func (q *queue) tryWrite(p []byte) (n int, err error) {
	q.mu.Lock()
	if q.closed {
		err = ErrClosed
		q.mu.Unlock()
		return
	}
	space := q.max - q.length()
	if space == 0 {
		err = ErrWouldBlock
		q.mu.Unlock()
		return
	}
	if len(p) > space {
		p = p[:space]
	}
	q.compact()
	_, _ = q.bb.Write(p)
	n = len(p)
	wakers := q.takeReadWakersLocked()
	q.cond.Broadcast()
	q.mu.Unlock()
	fire(wakers)
	return
}

// write blocks until all of p is queued or the queue is closed. Used by the
// net.Conn bridge goroutines, never by the non-blocking surface.
func (q *queue) write(p []byte) (err error) {
	q.mu.Lock()
	for len(p) > 0 {
		if q.closed {
			err = ErrClosed
			break
		}
		space := q.max - q.length()
		if space == 0 {
			q.cond.Wait()
			continue
		}
		if space > len(p) {
			space = len(p)
		}
		q.compact()
		_, _ = q.bb.Write(p[:space])
		p = p[space:]
		wakers := q.takeReadWakersLocked()
		q.mu.Unlock()
		fire(wakers)
		q.mu.Lock()
	}
	q.mu.Unlock()
	return
}

// read blocks until at least one byte is available or the queue is closed.
func (q *queue) read(p []byte) (n int, err error) {
	q.mu.Lock()
	for q.length() == 0 {
		if q.closed {
			err = q.failure
			if err == nil {
				err = io.EOF
			}
			q.releaseLocked()
			q.mu.Unlock()
			return
		}
		q.cond.Wait()
	}
	n = copy(p, q.bb.B[q.head:])
	q.head += n
	if q.head == len(q.bb.B) {
		q.bb.Reset()
		q.head = 0
	}
	wakers := q.takeWriteWakersLocked()
	q.cond.Broadcast()
	q.mu.Unlock()
	fire(wakers)
	return
}

func (q *queue) wakeRead(w Waker) {
	q.mu.Lock()
	if q.length() > 0 || q.closed {
		q.mu.Unlock()
		w()
		return
	}
	q.rwakers = append(q.rwakers, w)
	q.mu.Unlock()
}

func (q *queue) wakeWrite(w Waker) {
	q.mu.Lock()
	if q.max-q.length() > 0 || q.closed {
		q.mu.Unlock()
		w()
		return
	}
	q.wwakers = append(q.wwakers, w)
	q.mu.Unlock()
}

// close marks the queue terminal. Buffered bytes remain readable, then
// readers observe cause (io.EOF when cause is nil).
func (q *queue) close(cause error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.failure = cause
	wakers := append(q.takeReadWakersLocked(), q.takeWriteWakersLocked()...)
	q.cond.Broadcast()
	q.mu.Unlock()
	fire(wakers)
}

func (q *queue) takeReadWakersLocked() []Waker {
	wakers := q.rwakers
	q.rwakers = nil
	return wakers
}

func (q *queue) takeWriteWakersLocked() []Waker {
	wakers := q.wwakers
	q.wwakers = nil
	return wakers
}

func (q *queue) releaseLocked() {
	if q.released {
		return
	}
	q.released = true
	bb := q.bb
	q.bb = new(bytebufferpool.ByteBuffer)
	q.head = 0
	bb.Reset()
	bytebufferpool.Put(bb)
}

func fire(wakers []Waker) {
	for _, w := range wakers {
		w()
	}
}
