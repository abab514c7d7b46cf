package proxy

import (
	"fmt"
	"net"
	"sync"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// connectionEstablished is the exact handshake line written to the
// client once a tunnel target is reachable (or a blocked CONNECT is
// about to be refused over the same socket).
const connectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// Tunnel relays opaque bytes between a client and an origin after a
// CONNECT handshake. It never inspects or re-frames the traffic.
type Tunnel struct {
	bufferPool *BufferPool
}

// NewTunnel creates a Tunnel copying with buffers from the pool.
func NewTunnel(bufferPool *BufferPool) *Tunnel {
	return &Tunnel{bufferPool: bufferPool}
}

// Open dials (host, port) and writes the 200 Connection Established
// line to the client. The returned origin connection is owned by the
// caller until Relay takes over.
func (t *Tunnel) Open(clientConn net.Conn, host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	originConn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, NewConnectionError(ErrCodeUpstreamConnectFailed, err)
	}
	if err := writeAll(clientConn, []byte(connectionEstablished)); err != nil {
		if closeErr := originConn.Close(); closeErr != nil {
			logger.Debug("Failed to close origin connection to %s: %v", addr, closeErr)
		}
		return nil, NewConnectionError(ErrCodeTunnelFailed, err)
	}
	return originConn, nil
}

// Relay pumps bytes in both directions until either side closes, then
// closes both sockets. There is no timeout: a half-open peer that
// never closes or sends keeps the relay alive indefinitely. Returns
// the byte counts client→origin and origin→client.
func (t *Tunnel) Relay(clientConn, originConn net.Conn) (bytesOut, bytesIn int64) {
	var wg sync.WaitGroup
	var once sync.Once

	closeBoth := func() {
		if err := clientConn.Close(); err != nil {
			logger.Trace("Tunnel client close: %v", err)
		}
		if err := originConn.Close(); err != nil {
			logger.Trace("Tunnel origin close: %v", err)
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := t.bufferPool.copyBuffer(originConn, clientConn)
		bytesOut = n
		if err != nil {
			logger.Trace("Tunnel client→origin ended: %v", err)
		}
		once.Do(closeBoth)
	}()
	go func() {
		defer wg.Done()
		n, err := t.bufferPool.copyBuffer(clientConn, originConn)
		bytesIn = n
		if err != nil {
			logger.Trace("Tunnel origin→client ended: %v", err)
		}
		once.Do(closeBoth)
	}()

	wg.Wait()
	return bytesOut, bytesIn
}
