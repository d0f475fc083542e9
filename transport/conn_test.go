package transport_test

import (
	"github.com/Atmelfan/async-tls/transport"
	"io"
	"net"
	"testing"
	"time"
)

func waitReadable(t *testing.T, tr transport.Transport) {
	t.Helper()
	ready := make(chan struct{})
	tr.WakeRead(func() {
		close(ready)
	})
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("transport never became readable")
	}
}

func TestFromConnRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	tr := transport.FromConn(a)
	defer tr.Close()
	defer b.Close()

	if _, err := tr.TryWrite([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Error("peer read:", string(buf[:n]))
	}

	go func() {
		_, _ = b.Write([]byte("world"))
	}()
	waitReadable(t, tr)
	n, err = tr.TryRead(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "world" {
		t.Error("bridge read:", string(buf[:n]))
	}
}

func TestFromConnPeerClose(t *testing.T) {
	a, b := net.Pipe()
	tr := transport.FromConn(a)
	defer tr.Close()

	_ = b.Close()
	waitReadable(t, tr)
	if _, err := tr.TryRead(make([]byte, 16)); err != io.EOF {
		t.Error("read after peer close:", err)
	}
}

func TestFromConnLocalClose(t *testing.T) {
	a, b := net.Pipe()
	tr := transport.FromConn(a)
	defer b.Close()

	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.TryWrite([]byte("x")); !transport.IsClosed(err) {
		t.Error("write after close:", err)
	}
}
