package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/infrastructure/ecommerce"
)

// FakePlatform is an in-process commerce platform serving the token,
// export trigger, job status and feed endpoints on their default paths.
type FakePlatform struct {
	server *httptest.Server

	mu            sync.Mutex
	jobKey        string
	statuses      []string
	feed          string
	unauthorized  int
	tokenHits     int
	exportHits    int
	statusHits    int
	feedHits      int
	exportBodies  []map[string]any
	tokenSequence int
}

// NewFakePlatform starts a platform whose jobs complete on the first poll
// and whose feed is empty. The server is closed on test cleanup.
func NewFakePlatform(t *testing.T) *FakePlatform {
	t.Helper()
	p := &FakePlatform{
		jobKey:   "job-1",
		statuses: []string{ecommerce.DefaultCompletedStatus},
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

// URL returns the platform base URL
func (p *FakePlatform) URL() string {
	return p.server.URL
}

// ExportConfig returns an adapter config pointed at the platform with
// millisecond poll delays.
func (p *FakePlatform) ExportConfig() *ecommerce.ExportConfig {
	cfg := ecommerce.NewExportConfig(p.server.URL, "client-1", "secret-1", "catalog")
	cfg.InitialPollDelay = time.Millisecond
	cfg.MaxPollDelay = 5 * time.Millisecond
	return cfg
}

// SetFeed sets the NDJSON feed body; each line is one JSON array of records
func (p *FakePlatform) SetFeed(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feed = strings.Join(lines, "\n")
}

// SetStatuses sets the statusId returned by successive polls; the last one repeats
func (p *FakePlatform) SetStatuses(statuses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = statuses
}

// SetJobKey sets the job key returned by the export trigger; empty means no job
func (p *FakePlatform) SetJobKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobKey = key
}

// RejectNextPolls answers the next n status polls with 401
func (p *FakePlatform) RejectNextPolls(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unauthorized = n
}

// PlatformCounts is a snapshot of the requests a FakePlatform served
type PlatformCounts struct {
	TokenHits    int
	ExportHits   int
	StatusHits   int
	FeedHits     int
	ExportBodies []map[string]any
}

// Counts returns a snapshot of the request counters
func (p *FakePlatform) Counts() PlatformCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlatformCounts{
		TokenHits:    p.tokenHits,
		ExportHits:   p.exportHits,
		StatusHits:   p.statusHits,
		FeedHits:     p.feedHits,
		ExportBodies: append([]map[string]any(nil), p.exportBodies...),
	}
}

func (p *FakePlatform) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case ecommerce.DefaultTokenPath:
		p.mu.Lock()
		p.tokenHits++
		p.tokenSequence++
		n := p.tokenSequence
		p.mu.Unlock()
		writeJSON(w, map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

	case ecommerce.DefaultExportPath:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.exportHits++
		p.exportBodies = append(p.exportBodies, body)
		handle := map[string]any{"code": "OK"}
		if p.jobKey != "" {
			handle["jobKey"] = p.jobKey
		}
		p.mu.Unlock()
		writeJSON(w, handle)

	case ecommerce.DefaultJobStatusPath:
		p.mu.Lock()
		p.statusHits++
		n := p.statusHits
		reject := p.unauthorized > 0
		if reject {
			p.unauthorized--
		}
		status := p.statuses[len(p.statuses)-1]
		if n <= len(p.statuses) {
			status = p.statuses[n-1]
		}
		key := p.jobKey
		p.mu.Unlock()

		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]any{
			"key":         key,
			"statusId":    status,
			"start":       time.Now().UTC().Format(time.RFC3339),
			"lastUpdated": time.Now().UTC().Format(time.RFC3339),
		}
		if status == ecommerce.DefaultCompletedStatus {
			resp["dataUrl"] = p.server.URL + "/feed"
		}
		writeJSON(w, resp)

	case "/feed":
		p.mu.Lock()
		p.feedHits++
		body := p.feed
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, body)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
