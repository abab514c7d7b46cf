package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/codefionn/zwischen/zwischen-srv/config"
	"github.com/codefionn/zwischen/zwischen-srv/logger"
	"github.com/codefionn/zwischen/zwischen-srv/proxy"
	"github.com/codefionn/zwischen/zwischen-srv/stats"
)

const tokenLifetime = 24 * time.Hour

// Server is the admin control API. It mutates the block list and cache
// the connection handlers read, serves aggregate statistics and streams
// proxy events over a websocket.
type Server struct {
	cfg       config.ControlConfig
	blockList *proxy.BlockList
	cache     *proxy.CacheStore
	collector stats.Collector
	hub       *Hub
	upgrader  websocket.Upgrader
	server    *http.Server
	startedAt time.Time
}

// NewServer creates a control server over the proxy's shared state.
func NewServer(cfg config.ControlConfig, p *proxy.Proxy, hub *Hub) *Server {
	return &Server{
		cfg:       cfg,
		blockList: p.BlockList(),
		cache:     p.Cache(),
		collector: p.Collector(),
		hub:       hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler, wrapped in auth middleware when
// an auth secret is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/api/blocklist", s.requireAuth(s.handleBlocklist))
	mux.HandleFunc("/api/cache", s.requireAuth(s.handleCache))
	mux.HandleFunc("/api/events", s.requireAuth(s.handleEvents))
	return mux
}

// Start serves the control API until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Control API listening on %s", s.cfg.ListenAddress)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the control API down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleLogin exchanges the configured auth secret for a signed token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AuthSecret == "" {
		writeJSON(w, http.StatusOK, map[string]string{"token": ""})
		return
	}

	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(s.cfg.AuthSecret)) != 1 {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "control",
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.AuthSecret))
	if err != nil {
		logger.Error("Failed to sign control token: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

// requireAuth validates the bearer token when an auth secret is
// configured; without one the control API is open.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthSecret == "" {
			next(w, r)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.AuthSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// The websocket client cannot set headers from a browser, so the
	// token may arrive as a query parameter instead.
	return r.URL.Query().Get("token")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	overview, err := s.collector.GetOverviewStats(r.Context())
	if err != nil {
		logger.Error("Failed to load overview stats: %v", err)
		http.Error(w, "failed to load statistics", http.StatusInternalServerError)
		return
	}

	healthy := s.collector.HealthCheck(r.Context()) == nil

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":            time.Since(s.startedAt).String(),
		"collector_healthy": healthy,
		"blocklist_size":    s.blockList.Len(),
		"cache_entries":     s.cache.Len(),
		"stats":             overview,
	})
}

func (s *Server) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"blocked": s.blockList.Snapshot()})
	case http.MethodPost:
		target, ok := decodeTarget(w, r)
		if !ok {
			return
		}
		s.blockList.Add(target)
		logger.Info("Control API blocked %s", target)
		writeJSON(w, http.StatusOK, map[string]string{"blocked": target})
	case http.MethodDelete:
		target, ok := decodeTarget(w, r)
		if !ok {
			return
		}
		s.blockList.Remove(target)
		logger.Info("Control API unblocked %s", target)
		writeJSON(w, http.StatusOK, map[string]string{"unblocked": target})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"entries": s.cache.Snapshot()})
	case http.MethodDelete:
		dropped := s.cache.Clear()
		logger.Info("Control API cleared %d cache entries", dropped)
		writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEvents upgrades to a websocket and streams proxy events until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("Websocket upgrade failed: %v", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Trace("Error closing websocket: %v", closeErr)
		}
	}()

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	// Reader goroutine: its only job is noticing the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("Failed to write event to websocket: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}

func decodeTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		http.Error(w, "target is required", http.StatusBadRequest)
		return "", false
	}
	return body.Target, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode control API response: %v", err)
	}
}
