package proxy

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
)

// CacheEntry holds a complete cached origin response. Entries are
// replaced wholesale on every successful non-304 fetch; fields are
// never mutated in place.
type CacheEntry struct {
	RawResponse  []byte
	LastModified []byte
	FetchLatency time.Duration
	StoredAt     time.Time
}

// RevalidateResult is the outcome of a conditional-GET probe.
type RevalidateResult int

const (
	// ResultFresh means the origin no longer vouches for the cached
	// copy; the caller must re-fetch the resource in full.
	ResultFresh RevalidateResult = iota
	// ResultNotModified means the cached bytes are still current and
	// must be served as-is.
	ResultNotModified
)

// CacheStore maps request-line targets to cached responses. It is
// shared by every connection handler and lives for the process
// lifetime; there is no eviction, TTL or size bound. The key is the
// raw target string without host qualification; two hosts sharing an
// origin-form path collide.
type CacheStore struct {
	mu        sync.RWMutex
	entries   map[string]*CacheEntry
	forwarder *Forwarder
}

// NewCacheStore creates an empty cache backed by the given forwarder
// for revalidation probes.
func NewCacheStore(forwarder *Forwarder) *CacheStore {
	return &CacheStore{
		entries:   make(map[string]*CacheEntry),
		forwarder: forwarder,
	}
}

// Lookup returns the entry for a target, or nil when absent.
func (cs *CacheStore) Lookup(target string) *CacheEntry {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.entries[target]
}

// Put unconditionally overwrites the entry for a target.
func (cs *CacheStore) Put(target string, rawResponse, lastModified []byte, fetchLatency time.Duration) {
	entry := &CacheEntry{
		RawResponse:  rawResponse,
		LastModified: lastModified,
		FetchLatency: fetchLatency,
		StoredAt:     time.Now(),
	}
	cs.mu.Lock()
	cs.entries[target] = entry
	cs.mu.Unlock()
}

// Revalidate sends a conditional GET for a cached target and reports
// whether the cached copy may still be served. The probe is a single
// bounded read: a 304 carries no body, and a full read would block
// forever waiting for one. Any status other than 304 means Fresh; the
// probe bytes are discarded because they may be truncated. On
// NotModified the returned timeSaved is the stored fetch latency minus
// the probe's elapsed time — observational only, and it can be
// negative.
func (cs *CacheStore) Revalidate(target, host string, port int) (RevalidateResult, time.Duration, error) {
	entry := cs.Lookup(target)
	if entry == nil {
		return ResultFresh, 0, NewInternalError(ErrCodeInternalError, "revalidate called for uncached target", nil)
	}

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nIf-Modified-Since: %s\r\n\r\n",
		target, host, entry.LastModified)

	start := time.Now()
	probe, err := cs.forwarder.Forward([]byte(request), host, port, false)
	if err != nil {
		return ResultFresh, 0, err
	}
	elapsed := time.Since(start)

	status := ExtractStatusCode(probe)
	if bytes.Equal(status, []byte("304")) {
		timeSaved := entry.FetchLatency - elapsed
		logger.Debug("Cache revalidation for %s: not modified, saved %v", target, timeSaved)
		return ResultNotModified, timeSaved, nil
	}
	logger.Debug("Cache revalidation for %s: origin answered %s, re-fetching", target, status)
	return ResultFresh, 0, nil
}

// Len returns the number of cached entries.
func (cs *CacheStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.entries)
}

// EntryInfo describes a cached entry without exposing its bytes.
type EntryInfo struct {
	Target       string    `json:"target"`
	Size         int       `json:"size"`
	LastModified string    `json:"last_modified"`
	FetchLatency string    `json:"fetch_latency"`
	StoredAt     time.Time `json:"stored_at"`
}

// Snapshot returns metadata for all cached entries.
func (cs *CacheStore) Snapshot() []EntryInfo {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]EntryInfo, 0, len(cs.entries))
	for target, entry := range cs.entries {
		out = append(out, EntryInfo{
			Target:       target,
			Size:         len(entry.RawResponse),
			LastModified: string(entry.LastModified),
			FetchLatency: entry.FetchLatency.String(),
			StoredAt:     entry.StoredAt,
		})
	}
	return out
}

// Clear removes all cached entries and returns how many were dropped.
func (cs *CacheStore) Clear() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := len(cs.entries)
	cs.entries = make(map[string]*CacheEntry)
	return n
}
