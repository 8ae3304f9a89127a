package knock

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestDetect(t *testing.T) {
	value := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	cases := []struct {
		name   string
		buf    []byte
		hidden bool
		rest   []byte
	}{
		{"exact match strips prefix", []byte{0xDE, 0xAD, 0xBE, 0xEF}, true, []byte{}},
		{"match with trailing data", []byte{0xDE, 0xAD, 0xBE, 0xEF, 'h', 'e', 'l', 'l', 'o'}, true, []byte("hello")},
		{"mismatch keeps bytes", []byte("abcd"), false, []byte("abcd")},
		{"partial prefix never matches", []byte{0xDE, 0xAD}, false, []byte{0xDE, 0xAD}},
		{"mismatch longer than knock", []byte("abcdefgh"), false, []byte("abcdefgh")},
		{"empty buffer routes normal", []byte{}, false, []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hidden, rest := Detect(tc.buf, value)
			if hidden != tc.hidden {
				t.Errorf("hidden = %v, want %v", hidden, tc.hidden)
			}
			if !bytes.Equal(rest, tc.rest) {
				t.Errorf("rest = %x, want %x", rest, tc.rest)
			}
		})
	}
}

func TestDetectZeroLengthKnock(t *testing.T) {
	// With an empty knock value, any data at all selects the hidden backend,
	// but a silent client still routes normal.
	if hidden, _ := Detect([]byte{'x'}, nil); !hidden {
		t.Error("expected hidden route for non-empty buffer")
	}
	if hidden, _ := Detect(nil, nil); hidden {
		t.Error("expected normal route for empty buffer")
	}
}

func TestSniffReturnsFirstSegment(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("hello"))
	}()

	buf, err := Sniff(server, 1024, time.Second)
	if err != nil {
		t.Fatalf("Sniff error: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("buf = %q, want %q", buf, "hello")
	}
}

func TestSniffTimeoutIsNotAnError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	buf, err := Sniff(server, 1024, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must route, got error: %v", err)
	}
	if len(buf) != 0 {
		t.Errorf("expected empty buffer on timeout, got %q", buf)
	}
}

func TestSniffPeerClosedBeforeData(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	_ = client.Close()
	if _, err := Sniff(server, 1024, time.Second); err == nil {
		t.Error("expected error when peer closes before sending anything")
	}
}
