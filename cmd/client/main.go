// Command client is a netcat-style helper for talking to a knockmux server:
// it dials the external port, sends the knock prefix, then pipes stdin and
// stdout over the connection.
package main

import (
	"encoding/hex"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"time"
)

func main() {
	var server string
	var knockHex string
	var timeout time.Duration
	flag.StringVar(&server, "server", "127.0.0.1:8022", "knockmux external address")
	flag.StringVar(&knockHex, "knock", "deadbeef", "hex encoded knock prefix to send before piping stdin")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	knock, err := hex.DecodeString(knockHex)
	if err != nil {
		log.Fatalf("invalid knock %q: %v", knockHex, err)
	}
	c, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		log.Fatalf("dial %s: %v", server, err)
	}
	defer c.Close()
	if len(knock) > 0 {
		if _, err := c.Write(knock); err != nil {
			log.Fatalf("send knock: %v", err)
		}
	}

	go func() {
		_, _ = io.Copy(c, os.Stdin)
		// Half-close so the far side sees EOF but can still answer.
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	_, _ = io.Copy(os.Stdout, c)
}
