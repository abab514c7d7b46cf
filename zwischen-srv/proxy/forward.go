package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// Forwarder opens outbound connections to origin servers and relays
// raw request bytes. It performs no request rewriting.
type Forwarder struct {
	bufferPool *BufferPool
}

// NewForwarder creates a Forwarder reading with buffers from the pool.
func NewForwarder(bufferPool *BufferPool) *Forwarder {
	return &Forwarder{bufferPool: bufferPool}
}

// Forward dials (host, port), sends the raw request and reads the
// response. With fullRead the response is read until the origin closes
// the connection; otherwise exactly one bounded read is performed,
// which is enough to see a status line but may truncate anything
// larger. A read failure yields whatever bytes were already received,
// never an error. The outbound socket is always closed before
// returning.
func (f *Forwarder) Forward(request []byte, host string, port int, fullRead bool) ([]byte, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, NewConnectionError(ErrCodeDialFailed, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Debug("Failed to close origin connection to %s: %v", addr, closeErr)
		}
	}()

	if err := writeAll(conn, request); err != nil {
		return nil, NewConnectionError(ErrCodeSendFailed, err)
	}

	if !fullRead {
		buf := f.bufferPool.Get()
		defer f.bufferPool.Put(buf)
		n, readErr := conn.Read(buf)
		if readErr != nil && readErr != io.EOF {
			logger.Debug("Single read from %s failed: %v", addr, readErr)
			return []byte{}, nil
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}

	var response bytes.Buffer
	if _, err := f.bufferPool.copyBuffer(&response, conn); err != nil {
		logger.Debug("Read from %s ended with error after %d bytes: %v", addr, response.Len(), err)
	}
	return response.Bytes(), nil
}

// writeAll writes the whole buffer to the connection, retrying on
// partial writes.
func writeAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
