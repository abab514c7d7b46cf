package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"

	"github.com/codefionn/zwischen/zwischen-srv/config"
	"github.com/codefionn/zwischen/zwischen-srv/logger"
	"github.com/codefionn/zwischen/zwischen-srv/stats"
)

// Proxy is the forward proxy server. It owns the shared block list and
// cache store and spawns one connection handler per accepted
// connection.
type Proxy struct {
	config     *config.Config
	blockList  *BlockList
	cache      *CacheStore
	forwarder  *Forwarder
	tunnel     *Tunnel
	bufferPool *BufferPool
	collector  stats.Collector
	sink       EventSink

	listener net.Listener
	mu       sync.Mutex
	started  bool
	stopped  atomic.Bool
}

// NewProxy creates a proxy from the configuration. A nil collector
// falls back to the in-memory one; a nil sink discards events.
func NewProxy(cfg *config.Config, collector stats.Collector, sink EventSink) *Proxy {
	if collector == nil {
		collector = stats.NewDummyCollector()
	}
	if sink == nil {
		sink = NopSink
	}
	bufferPool := NewBufferPool(cfg.BufferSize)
	forwarder := NewForwarder(bufferPool)
	return &Proxy{
		config:     cfg,
		blockList:  NewBlockList(cfg.Blocklist...),
		cache:      NewCacheStore(forwarder),
		forwarder:  forwarder,
		tunnel:     NewTunnel(bufferPool),
		bufferPool: bufferPool,
		collector:  collector,
		sink:       sink,
	}
}

// BlockList returns the block list shared with the control surface.
func (p *Proxy) BlockList() *BlockList {
	return p.blockList
}

// Cache returns the cache store shared with the control surface.
func (p *Proxy) Cache() *CacheStore {
	return p.cache
}

// Collector returns the statistics collector.
func (p *Proxy) Collector() stats.Collector {
	return p.collector
}

// Start binds the configured listen address and accepts connections
// until Stop is called. It blocks for the lifetime of the listener.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", p.config.ListenAddress)
	if err != nil {
		return NewProxyError(ErrCodeListenerCreateFailed, GetErrorDescription(ErrCodeListenerCreateFailed), err)
	}
	return p.StartWithListener(listener)
}

// StartWithListener accepts connections on the given listener. Tests
// use this with an ephemeral port.
func (p *Proxy) StartWithListener(listener net.Listener) error {
	// The OS accept backlog is not settable from Go; the configured
	// value is advisory and logged for parity with the listen address.
	logger.Info("Backlog set to %d!", p.config.Backlog)

	if p.config.MaxConcurrentConnections > 0 {
		listener = netutil.LimitListener(listener, p.config.MaxConcurrentConnections)
		logger.Info("Connection cap enabled: %d concurrent connections", p.config.MaxConcurrentConnections)
	}

	p.mu.Lock()
	p.listener = listener
	p.started = true
	p.mu.Unlock()

	logger.Info("Proxy server listening on %s", listener.Addr())
	p.sink.Emit(Event{
		Kind:    EventServerStarted,
		Message: listener.Addr().String(),
	}.withTimestamp())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if p.stopped.Load() || errors.Is(err, net.ErrClosed) {
				logger.Info("Proxy server stopped")
				p.sink.Emit(Event{Kind: EventServerStopped}.withTimestamp())
				return nil
			}
			logger.Error("Failed to accept connection: %v", err)
			continue
		}
		go p.handleConnection(conn)
	}
}

// Addr returns the address the proxy is listening on, or nil before
// Start.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop closes the listener. In-flight connections are not interrupted;
// they end when their peers close, matching the no-cancellation model.
func (p *Proxy) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Debug("Error closing listener: %v", err)
		}
	}
}

func (p *Proxy) handleConnection(conn net.Conn) {
	clientAddr := conn.RemoteAddr().String()
	ctx := context.Background()

	connID, err := p.collector.StartConnection(ctx, clientAddr)
	if err != nil {
		logger.Warn("Failed to record connection start: %v", err)
	}

	logger.Debug("%s", logger.WithConnID(connTag(connID), "Accepted connection from %s", clientAddr))
	p.sink.Emit(Event{
		Kind:   EventConnectionOpened,
		ConnID: connID,
		Host:   clientAddr,
	}.withTimestamp())

	handler := newConnHandler(p, connID)
	handler.handle(ctx, conn)
}
