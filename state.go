// Package asynctls adapts TLS sessions to a non-blocking, event-driven I/O
// contract. A Connector or Acceptor drives the handshake against a
// transport.Transport without ever blocking a goroutine on the network;
// every operation yields an async.Future suspension point that resolves once
// the cooperative scheduler has made enough progress.
package asynctls

// TlsState tracks the two half-close directions of an established stream.
// Transitions are monotonic toward StateFullyShutdown: once a direction has
// been shut it never reopens, and shutting the remaining direction of a
// half-shut stream always lands in StateFullyShutdown.
type TlsState uint8

const (
	// StateEarlyData marks a client stream still buffering 0-RTT plaintext.
	// Reserved for engines that hand over before the early flight drained;
	// streams produced by Handshake and ConnectEarly flush buffered early
	// data first and start at StateStream.
	StateEarlyData TlsState = iota
	// StateStream is the ordinary full-duplex state.
	StateStream
	StateReadShutdown
	StateWriteShutdown
	StateFullyShutdown
)

func (s *TlsState) shutdownRead() {
	switch *s {
	case StateWriteShutdown, StateFullyShutdown:
		*s = StateFullyShutdown
	default:
		*s = StateReadShutdown
	}
}

func (s *TlsState) shutdownWrite() {
	switch *s {
	case StateReadShutdown, StateFullyShutdown:
		*s = StateFullyShutdown
	default:
		*s = StateWriteShutdown
	}
}

func (s TlsState) readable() bool {
	return s != StateReadShutdown && s != StateFullyShutdown
}

func (s TlsState) writeable() bool {
	return s != StateWriteShutdown && s != StateFullyShutdown
}

func (s TlsState) String() string {
	switch s {
	case StateEarlyData:
		return "early-data"
	case StateStream:
		return "stream"
	case StateReadShutdown:
		return "read-shutdown"
	case StateWriteShutdown:
		return "write-shutdown"
	case StateFullyShutdown:
		return "fully-shutdown"
	default:
		return "invalid"
	}
}
