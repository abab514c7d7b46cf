package proxy

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// startTestOrigin runs a raw TCP origin on an ephemeral loopback port.
// For every accepted connection it reads once, passes the request to
// the handler and writes the returned bytes, then closes the
// connection so full reads terminate. Returns the host, port and a
// stop function.
func startTestOrigin(t *testing.T, handler func(request string) string) (string, int, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 8192)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				response := handler(string(buf[:n]))
				_, _ = conn.Write([]byte(response))
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return host, port, func() { listener.Close() }
}
