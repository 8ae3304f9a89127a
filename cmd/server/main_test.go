package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// startCapture runs a one-shot backend on a loopback port that records
// everything it receives until the proxy closes the leg.
func startCapture(t *testing.T) (int, chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("backend listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	got := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		data, _ := io.ReadAll(c)
		got <- data
	}()
	return ln.Addr().(*net.TCPAddr).Port, got
}

func startProxy(t *testing.T, knockValue []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("proxy listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go acceptExternal(ctx, ln, newServerState(), nil, knockValue)
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})
	return ln.Addr().String()
}

func testConfig(t *testing.T, normalPort, hiddenPort int) {
	t.Helper()
	old := cfg
	t.Cleanup(func() { cfg = old })
	cfg.NormalPort = normalPort
	cfg.HiddenPort = hiddenPort
	cfg.KnockTimeout = 150 * time.Millisecond
	cfg.IdleTimeout = time.Second
	cfg.MaxRecvBuf = 1024
	cfg.MaxConns = 16
}

func expectCapture(t *testing.T, got chan []byte, want []byte) {
	t.Helper()
	select {
	case data := <-got:
		if !bytes.Equal(data, want) {
			t.Errorf("backend received %x, want %x", data, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("backend never reported its bytes")
	}
}

func expectSilence(t *testing.T, got chan []byte) {
	t.Helper()
	select {
	case data := <-got:
		t.Errorf("backend unexpectedly received %x", data)
	case <-time.After(100 * time.Millisecond):
	}
}

var testKnock = []byte{0xDE, 0xAD, 0xBE, 0xEF}

func TestKnockRoutesHiddenWithPrefixStripped(t *testing.T) {
	normalPort, normalGot := startCapture(t)
	hiddenPort, hiddenGot := startCapture(t)
	testConfig(t, normalPort, hiddenPort)
	addr := startProxy(t, testKnock)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	if _, err := c.Write(append(append([]byte{}, testKnock...), []byte("hello")...)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.Close()

	expectCapture(t, hiddenGot, []byte("hello"))
	expectSilence(t, normalGot)
}

func TestNoKnockRoutesNormalUnmodified(t *testing.T) {
	normalPort, normalGot := startCapture(t)
	hiddenPort, hiddenGot := startCapture(t)
	testConfig(t, normalPort, hiddenPort)
	addr := startProxy(t, testKnock)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	if _, err := c.Write([]byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.Close()

	expectCapture(t, normalGot, []byte("abcd"))
	expectSilence(t, hiddenGot)
}

func TestSilentClientRoutesNormalAfterTimeout(t *testing.T) {
	normalPort, normalGot := startCapture(t)
	hiddenPort, hiddenGot := startCapture(t)
	testConfig(t, normalPort, hiddenPort)
	addr := startProxy(t, testKnock)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	// Send nothing until well past the knock timeout; the connection must
	// already be piped to the normal backend by then.
	time.Sleep(300 * time.Millisecond)
	if _, err := c.Write([]byte("late")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.Close()

	expectCapture(t, normalGot, []byte("late"))
	expectSilence(t, hiddenGot)
}

func TestBackendResponseReachesClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("backend listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 16)
		n, _ := c.Read(buf)
		_, _ = c.Write(bytes.ToUpper(buf[:n]))
	}()

	hiddenPort, _ := startCapture(t)
	testConfig(t, ln.Addr().(*net.TCPAddr).Port, hiddenPort)
	addr := startProxy(t, testKnock)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, 4)
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(c, reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if string(reply) != "PING" {
		t.Errorf("reply = %q, want %q", reply, "PING")
	}
}

func TestUnreachableBackendClosesClient(t *testing.T) {
	// Reserve a port and close it so the dial is guaranteed to fail.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	deadPort := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	hiddenPort, hiddenGot := startCapture(t)
	testConfig(t, deadPort, hiddenPort)
	addr := startProxy(t, testKnock)

	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Error("expected the client connection to be closed after the dial failure")
	}
	expectSilence(t, hiddenGot)
}
