package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/zwischen/zwischen-srv/config"
	"github.com/codefionn/zwischen/zwischen-srv/proxy"
)

func newTestServer(t *testing.T, authSecret string) (*Server, *proxy.Proxy, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		ListenAddress: "127.0.0.1:0",
		BufferSize:    config.DefaultBufferSize,
		HTTPPort:      config.DefaultHTTPPort,
		HTTPSPort:     config.DefaultHTTPSPort,
	}
	hub := NewHub()
	p := proxy.NewProxy(cfg, nil, hub)

	server := NewServer(config.ControlConfig{
		Enabled:    true,
		AuthSecret: authSecret,
	}, p, hub)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, p, ts
}

func login(t *testing.T, ts *httptest.Server, secret string) string {
	t.Helper()

	body, err := json.Marshal(map[string]string{"secret": secret})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Token
}

func authedRequest(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestLoginAndAuth(t *testing.T) {
	_, _, ts := newTestServer(t, "letmein")

	// Wrong secret is rejected.
	body, _ := json.Marshal(map[string]string{"secret": "wrong"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// No token on a protected route is rejected.
	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid token gets through.
	token := login(t, ts, "letmein")
	require.NotEmpty(t, token)
	resp = authedRequest(t, http.MethodGet, ts.URL+"/api/status", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	_, _, ts := newTestServer(t, "letmein")
	resp := authedRequest(t, http.MethodGet, ts.URL+"/api/status", "not-a-jwt", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenAccessWithoutSecret(t *testing.T) {
	_, _, ts := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBlocklistEndpoint(t *testing.T) {
	_, p, ts := newTestServer(t, "")

	resp := authedRequest(t, http.MethodPost, ts.URL+"/api/blocklist", "", map[string]string{"target": "/ads.js"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, p.BlockList().Contains("/ads.js"))

	resp = authedRequest(t, http.MethodGet, ts.URL+"/api/blocklist", "", nil)
	var listing struct {
		Blocked []string `json:"blocked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	assert.Equal(t, []string{"/ads.js"}, listing.Blocked)

	resp = authedRequest(t, http.MethodDelete, ts.URL+"/api/blocklist", "", map[string]string{"target": "/ads.js"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, p.BlockList().Contains("/ads.js"))

	// Missing target is a client error.
	resp = authedRequest(t, http.MethodPost, ts.URL+"/api/blocklist", "", map[string]string{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCacheEndpoint(t *testing.T) {
	_, p, ts := newTestServer(t, "")

	p.Cache().Put("/page", []byte("response"), []byte("Mon, 01 Jan 2024 00:00:00 GMT"), 10*time.Millisecond)

	resp := authedRequest(t, http.MethodGet, ts.URL+"/api/cache", "", nil)
	var listing struct {
		Entries []proxy.EntryInfo `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "/page", listing.Entries[0].Target)
	assert.Equal(t, 8, listing.Entries[0].Size)

	resp = authedRequest(t, http.MethodDelete, ts.URL+"/api/cache", "", nil)
	var cleared struct {
		Dropped int `json:"dropped"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cleared))
	resp.Body.Close()
	assert.Equal(t, 1, cleared.Dropped)
	assert.Equal(t, 0, p.Cache().Len())
}

func TestStatusEndpoint(t *testing.T) {
	_, p, ts := newTestServer(t, "")

	p.BlockList().Add("/blocked")

	resp := authedRequest(t, http.MethodGet, ts.URL+"/api/status", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		CollectorHealthy bool `json:"collector_healthy"`
		BlocklistSize    int  `json:"blocklist_size"`
		CacheEntries     int  `json:"cache_entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.CollectorHealthy)
	assert.Equal(t, 1, status.BlocklistSize)
	assert.Equal(t, 0, status.CacheEntries)
}

func TestEventStream(t *testing.T) {
	server, _, ts := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Wait until the subscription is registered before emitting.
	require.Eventually(t, func() bool {
		return server.hub.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	server.hub.Emit(proxy.Event{Kind: proxy.EventCacheHit, Target: "/page"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event proxy.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, proxy.EventCacheHit, event.Kind)
	assert.Equal(t, "/page", event.Target)
}
