package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// blockedResponse is the exact payload served for block-list matches.
const blockedResponse = "HTTP/1.1 403 Forbidden\r\n" +
	"Content-Type: text/html\r\n\r\n" +
	"<html><head><title>403 Forbidden</title></head><body><h1>403 Forbidden</h1>" +
	"<p>This page has been blocked by the proxy server.</p></body></html>"

// connHandler runs the per-connection state machine: receive, parse,
// classify, respond, close. Every failure is contained to this
// connection.
type connHandler struct {
	proxy  *Proxy
	connID int64
	tag    string
}

func connTag(connID int64) string {
	return fmt.Sprintf("c%d", connID)
}

func newConnHandler(p *Proxy, connID int64) *connHandler {
	return &connHandler{
		proxy:  p,
		connID: connID,
		tag:    connTag(connID),
	}
}

func (h *connHandler) handle(ctx context.Context, conn net.Conn) {
	start := time.Now()
	var bytesIn, bytesOut int64
	tunneled := false

	defer func() {
		// The tunnel relay closes both sockets itself.
		if !tunneled {
			if err := conn.Close(); err != nil {
				logger.Trace("%s", logger.WithConnID(h.tag, "Error closing client connection: %v", err))
			}
		}
		duration := time.Since(start)
		if err := h.proxy.collector.EndConnection(ctx, h.connID, bytesIn, bytesOut, duration); err != nil {
			logger.Warn("Failed to record connection end: %v", err)
		}
		h.proxy.sink.Emit(Event{
			Kind:     EventConnectionClosed,
			ConnID:   h.connID,
			Elapsed:  duration,
			BytesIn:  bytesIn,
			BytesOut: bytesOut,
		}.withTimestamp())
	}()

	// RECEIVE: one bounded read. There is no read deadline; a silent
	// client keeps this handler parked.
	buf := h.proxy.bufferPool.Get()
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		h.proxy.bufferPool.Put(buf)
		if err != nil && err != io.EOF {
			logger.Trace("%s", logger.WithConnID(h.tag, "Read from client failed: %v", err))
		}
		return
	}
	request := string(buf[:n])
	h.proxy.bufferPool.Put(buf)
	bytesIn = int64(n)

	// PARSE
	target, err := ExtractTarget(request)
	if err != nil {
		logger.Debug("%s", logger.WithConnID(h.tag, "Dropping malformed request: %v", err))
		h.recordError(ctx, ErrCodeMalformedRequestLine, err)
		return
	}
	host := ExtractHost(request)
	method := ExtractMethod(request)

	// CLASSIFY: blocked wins over everything, including the cache.
	switch {
	case h.proxy.blockList.Contains(target):
		bytesOut += h.serveBlocked(ctx, conn, method, target)
	case h.proxy.cache.Lookup(target) != nil:
		bytesOut += h.serveCached(ctx, conn, request, method, target, host, start)
	case method == http.MethodConnect:
		in, out := h.serveTunnel(ctx, conn, target, host, start)
		bytesIn += in
		bytesOut += out
		tunneled = true
	default:
		bytesOut += h.serveDirect(ctx, conn, request, method, target, host)
	}
}

// serveBlocked answers a block-list match with the fixed 403 body. A
// blocked CONNECT first gets the 200 handshake line so the client
// reads the refusal instead of treating the connection as broken; no
// tunnel is opened.
func (h *connHandler) serveBlocked(ctx context.Context, conn net.Conn, method, target string) int64 {
	var written int64
	if method == http.MethodConnect {
		if err := writeAll(conn, []byte(connectionEstablished)); err != nil {
			h.recordError(ctx, ErrCodeResponseWriteFailed, err)
			return written
		}
		written += int64(len(connectionEstablished))
	}
	if err := writeAll(conn, []byte(blockedResponse)); err != nil {
		h.recordError(ctx, ErrCodeResponseWriteFailed, err)
		return written
	}
	written += int64(len(blockedResponse))

	logger.Info("%s", logger.WithConnID(h.tag, "Blocked request for %s", target))
	if err := h.proxy.collector.RecordBlockedRequest(ctx, h.connID, target); err != nil {
		logger.Warn("Failed to record blocked request: %v", err)
	}
	h.proxy.sink.Emit(Event{
		Kind:   EventRequestBlocked,
		ConnID: h.connID,
		Target: target,
	}.withTimestamp())
	return written
}

// serveCached revalidates a cached entry with a conditional GET. A 304
// serves the stored bytes; anything else falls through to a fresh full
// fetch that overwrites the entry.
func (h *connHandler) serveCached(ctx context.Context, conn net.Conn, request, method, target, host string, start time.Time) int64 {
	result, timeSaved, err := h.proxy.cache.Revalidate(target, host, h.proxy.config.HTTPPort)
	if err != nil {
		logger.Warn("%s", logger.WithConnID(h.tag, "Revalidation of %s failed: %v", target, err))
		h.recordError(ctx, errorCode(err), err)
		h.writeBadGateway(ctx, conn, errorCode(err))
		return 0
	}

	if result == ResultNotModified {
		entry := h.proxy.cache.Lookup(target)
		if entry == nil {
			// Entry vanished between classify and revalidate; treat as
			// uncached.
			return h.serveDirect(ctx, conn, request, method, target, host)
		}
		if err := writeAll(conn, entry.RawResponse); err != nil {
			h.recordError(ctx, ErrCodeResponseWriteFailed, err)
			return 0
		}
		elapsed := time.Since(start)
		logger.Info("%s", logger.WithConnID(h.tag,
			"Served %s from cache in %v, saved %v", target, elapsed, timeSaved))
		if err := h.proxy.collector.RecordCacheHit(ctx, h.connID, target, timeSaved); err != nil {
			logger.Warn("Failed to record cache hit: %v", err)
		}
		h.proxy.sink.Emit(Event{
			Kind:      EventCacheHit,
			ConnID:    h.connID,
			Target:    target,
			Elapsed:   elapsed,
			TimeSaved: timeSaved,
		}.withTimestamp())
		return int64(len(entry.RawResponse))
	}

	return h.serveDirect(ctx, conn, request, method, target, host)
}

// serveDirect fetches the target from the origin in full, relays the
// bytes to the client and overwrites the cache entry.
func (h *connHandler) serveDirect(ctx context.Context, conn net.Conn, request, method, target, host string) int64 {
	fetchStart := time.Now()
	response, err := h.proxy.forwarder.Forward([]byte(request), host, h.proxy.config.HTTPPort, true)
	if err != nil {
		logger.Warn("%s", logger.WithConnID(h.tag, "Fetch of %s from %s failed: %v", target, host, err))
		h.recordError(ctx, errorCode(err), err)
		h.writeBadGateway(ctx, conn, errorCode(err))
		return 0
	}
	latency := time.Since(fetchStart)

	if err := writeAll(conn, response); err != nil {
		h.recordError(ctx, ErrCodeResponseWriteFailed, err)
		return 0
	}

	lastModified := ExtractLastModified(response)
	h.proxy.cache.Put(target, response, lastModified, latency)

	statusCode := string(ExtractStatusCode(response))
	logger.Info("%s", logger.WithConnID(h.tag, "Forwarded %s %s in %v", method, target, latency))
	if err := h.proxy.collector.RecordHTTPRequest(ctx, h.connID, method, target, host, statusCode, int64(len(response)), latency); err != nil {
		logger.Warn("Failed to record request: %v", err)
	}
	if err := h.proxy.collector.RecordCacheStore(ctx, h.connID, target, int64(len(response))); err != nil {
		logger.Warn("Failed to record cache store: %v", err)
	}
	h.proxy.sink.Emit(Event{
		Kind:       EventRequestForwarded,
		ConnID:     h.connID,
		Target:     target,
		Host:       host,
		Elapsed:    latency,
		StatusCode: statusCode,
	}.withTimestamp())
	h.proxy.sink.Emit(Event{
		Kind:    EventCacheStore,
		ConnID:  h.connID,
		Target:  target,
		BytesIn: int64(len(response)),
	}.withTimestamp())
	return int64(len(response))
}

// serveTunnel establishes a CONNECT tunnel and relays bytes until
// either side closes. The cache is never involved; the payload is
// opaque.
func (h *connHandler) serveTunnel(ctx context.Context, conn net.Conn, target, host string, start time.Time) (bytesIn, bytesOut int64) {
	originConn, err := h.proxy.tunnel.Open(conn, host, h.proxy.config.HTTPSPort)
	if err != nil {
		logger.Warn("%s", logger.WithConnID(h.tag, "Tunnel to %s failed: %v", host, err))
		h.recordError(ctx, errorCode(err), err)
		h.writeBadGateway(ctx, conn, errorCode(err))
		if closeErr := conn.Close(); closeErr != nil {
			logger.Trace("%s", logger.WithConnID(h.tag, "Error closing client connection: %v", closeErr))
		}
		return 0, 0
	}

	logger.Debug("%s", logger.WithConnID(h.tag, "Tunnel established to %s", host))
	h.proxy.sink.Emit(Event{
		Kind:   EventTunnelOpened,
		ConnID: h.connID,
		Target: target,
		Host:   host,
	}.withTimestamp())

	out, in := h.proxy.tunnel.Relay(conn, originConn)

	duration := time.Since(start)
	logger.Debug("%s", logger.WithConnID(h.tag,
		"Tunnel to %s closed after %v (%d bytes out, %d bytes in)", host, duration, out, in))
	if err := h.proxy.collector.RecordTunnel(ctx, h.connID, host, in, out, duration); err != nil {
		logger.Warn("Failed to record tunnel: %v", err)
	}
	h.proxy.sink.Emit(Event{
		Kind:     EventTunnelClosed,
		ConnID:   h.connID,
		Host:     host,
		Elapsed:  duration,
		BytesIn:  in,
		BytesOut: out,
	}.withTimestamp())
	return in, out
}

// writeBadGateway answers an origin failure with a synthesized 502.
func (h *connHandler) writeBadGateway(ctx context.Context, conn net.Conn, code string) {
	if err := writeAll(conn, badGatewayResponse(code)); err != nil {
		logger.Trace("%s", logger.WithConnID(h.tag, "Failed to write 502 response: %v", err))
	}
}

func (h *connHandler) recordError(ctx context.Context, code string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := h.proxy.collector.RecordError(ctx, h.connID, code, msg); err != nil {
		logger.Warn("Failed to record error: %v", err)
	}
	h.proxy.sink.Emit(Event{
		Kind:    EventConnectionError,
		ConnID:  h.connID,
		Message: msg,
	}.withTimestamp())
}

// errorCode extracts the code from a proxy error, defaulting to the
// internal error code.
func errorCode(err error) string {
	if proxyErr, ok := err.(*Error); ok {
		return proxyErr.Code
	}
	return ErrCodeInternalError
}
