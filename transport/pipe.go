package transport

// Pipe returns a connected in-memory Transport pair. Bytes written to one end
// become readable on the other. Each direction buffers up to size bytes
// (defaultQueueSize when size < 1), so writers observe backpressure the same
// way a socket send buffer would.
//
// Closing either end closes both directions: the peer drains what was already
// queued and then reads io.EOF; further writes on either end fail with
// ErrClosed.
func Pipe() (a Transport, b Transport) {
	return BufferedPipe(0)
}

func BufferedPipe(size int) (a Transport, b Transport) {
	ab := newQueue(size)
	ba := newQueue(size)
	a = &pipeEnd{in: ba, out: ab}
	b = &pipeEnd{in: ab, out: ba}
	return
}

type pipeEnd struct {
	in  *queue
	out *queue
}

func (p *pipeEnd) TryRead(b []byte) (n int, err error) {
	if len(b) == 0 {
		return
	}
	n, err = p.in.tryRead(b)
	return
}

func (p *pipeEnd) TryWrite(b []byte) (n int, err error) {
	if len(b) == 0 {
		return
	}
	n, err = p.out.tryWrite(b)
	return
}

func (p *pipeEnd) WakeRead(w Waker) {
	p.in.wakeRead(w)
}

func (p *pipeEnd) WakeWrite(w Waker) {
	p.out.wakeWrite(w)
}

func (p *pipeEnd) Close() (err error) {
	p.out.close(nil)
	p.in.close(nil)
	return
}
