package proxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardFullRead(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	host, port, stop := startTestOrigin(t, func(request string) string {
		assert.True(t, strings.HasPrefix(request, "GET /index.html"))
		return response
	})
	defer stop()

	forwarder := NewForwarder(NewBufferPool(8192))
	got, err := forwarder.Forward([]byte("GET /index.html HTTP/1.1\r\nHost: test\r\n\r\n"), host, port, true)
	require.NoError(t, err)
	assert.Equal(t, []byte(response), got)
}

func TestForwardFullReadLargeResponse(t *testing.T) {
	// Larger than one buffer, so a full read must concatenate several
	// reads until the origin closes.
	body := strings.Repeat("x", 20000)
	response := "HTTP/1.1 200 OK\r\n\r\n" + body
	host, port, stop := startTestOrigin(t, func(string) string { return response })
	defer stop()

	forwarder := NewForwarder(NewBufferPool(4096))
	got, err := forwarder.Forward([]byte("GET /big HTTP/1.1\r\n\r\n"), host, port, true)
	require.NoError(t, err)
	assert.Equal(t, []byte(response), got)
}

func TestForwardSingleRead(t *testing.T) {
	response := "HTTP/1.1 304 Not Modified\r\n\r\n"
	host, port, stop := startTestOrigin(t, func(string) string { return response })
	defer stop()

	forwarder := NewForwarder(NewBufferPool(8192))
	got, err := forwarder.Forward([]byte("GET / HTTP/1.1\r\nIf-Modified-Since: x\r\n\r\n"), host, port, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("304"), ExtractStatusCode(got))
}

func TestForwardSingleReadIsBounded(t *testing.T) {
	body := strings.Repeat("y", 10000)
	response := "HTTP/1.1 200 OK\r\n\r\n" + body
	host, port, stop := startTestOrigin(t, func(string) string { return response })
	defer stop()

	bufSize := 1024
	forwarder := NewForwarder(NewBufferPool(bufSize))
	got, err := forwarder.Forward([]byte("GET / HTTP/1.1\r\n\r\n"), host, port, false)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), bufSize)
	assert.NotEmpty(t, got)
}

func TestForwardDialFailure(t *testing.T) {
	// Grab and immediately release a port so nothing is listening.
	host, port, stop := startTestOrigin(t, func(string) string { return "" })
	stop()

	forwarder := NewForwarder(NewBufferPool(8192))
	_, err := forwarder.Forward([]byte("GET / HTTP/1.1\r\n\r\n"), host, port, true)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}
