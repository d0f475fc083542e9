package transport

import (
	"net"
	"sync"
)

// FromConn bridges a blocking net.Conn into the non-blocking Transport
// contract. Two goroutines pump the socket: one reads into a bounded inbound
// queue, one drains a bounded outbound queue. The non-blocking surface only
// ever touches the queues.
//
// Socket errors are surfaced verbatim through TryRead/TryWrite once the
// queues drain. Close stops both pumps and closes the socket.
func FromConn(conn net.Conn) Transport {
	bc := &bridge{
		conn: conn,
		in:   newQueue(0),
		out:  newQueue(0),
	}
	go bc.readLoop()
	go bc.writeLoop()
	return bc
}

type bridge struct {
	conn      net.Conn
	in        *queue
	out       *queue
	closeOnce sync.Once
}

func (bc *bridge) readLoop() {
	p := make([]byte, 32*1024)
	for {
		n, err := bc.conn.Read(p)
		if n > 0 {
			if werr := bc.in.write(p[:n]); werr != nil {
				// local side closed, stop pumping
				return
			}
		}
		if err != nil {
			bc.in.close(err)
			return
		}
	}
}

func (bc *bridge) writeLoop() {
	p := make([]byte, 32*1024)
	for {
		n, err := bc.out.read(p)
		if err != nil {
			return
		}
		wrote := 0
		for wrote < n {
			wn, werr := bc.conn.Write(p[wrote:n])
			wrote += wn
			if werr != nil {
				bc.out.close(werr)
				return
			}
		}
	}
}

func (bc *bridge) TryRead(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	n, err = bc.in.tryRead(p)
	return
}

func (bc *bridge) TryWrite(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	n, err = bc.out.tryWrite(p)
	if IsClosed(err) && bc.out.failureCause() != nil {
		err = bc.out.failureCause()
	}
	return
}

func (bc *bridge) WakeRead(w Waker) {
	bc.in.wakeRead(w)
}

func (bc *bridge) WakeWrite(w Waker) {
	bc.out.wakeWrite(w)
}

func (bc *bridge) Close() (err error) {
	bc.closeOnce.Do(func() {
		bc.in.close(nil)
		bc.out.close(nil)
		err = bc.conn.Close()
	})
	return
}

func (q *queue) failureCause() error {
	q.mu.Lock()
	cause := q.failure
	q.mu.Unlock()
	return cause
}
