package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// fakePlatform is an in-process export API: token, trigger, job status and feed endpoints
type fakePlatform struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	jobKey        string
	dataURL       string
	statuses      []string
	statusCodes   []int
	feedBody      string
	feedStatus    int
	tokenHits     int
	exportHits    int
	statusHits    int
	feedHits      int
	exportBodies  []map[string]any
	feedAuth      string
	appHeaders    map[string]bool
	onStatusPoll  func(n int)
	tokenSequence int
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	p := &fakePlatform{
		t:          t,
		jobKey:     "abc",
		statuses:   []string{"completed"},
		feedStatus: http.StatusOK,
		appHeaders: make(map[string]bool),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePlatform) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.appHeaders[r.Header.Get("X-Application-Name")] = true
	p.mu.Unlock()

	switch r.URL.Path {
	case "/connect/token":
		p.mu.Lock()
		p.tokenHits++
		p.tokenSequence++
		n := p.tokenSequence
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("token-%d", n)})

	case "/exports/product":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.exportHits++
		p.exportBodies = append(p.exportBodies, body)
		handle := map[string]any{"code": "OK", "itemsTotal": 3}
		if p.jobKey != "" {
			handle["jobKey"] = p.jobKey
		}
		p.mu.Unlock()
		_ = json.NewEncoder(w).Encode(handle)

	case "/jobs/job":
		p.mu.Lock()
		p.statusHits++
		n := p.statusHits
		hook := p.onStatusPoll
		code := http.StatusOK
		if n <= len(p.statusCodes) {
			code = p.statusCodes[n-1]
		}
		status := p.statuses[len(p.statuses)-1]
		if n <= len(p.statuses) {
			status = p.statuses[n-1]
		}
		dataURL := p.dataURL
		if dataURL == "" {
			dataURL = p.server.URL + "/feed"
		}
		p.mu.Unlock()

		assert.Equal(p.t, p.jobKey, r.URL.Query().Get("jobKey"))
		if hook != nil {
			hook(n)
		}
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		resp := map[string]any{
			"clientId":    "client-1",
			"key":         p.jobKey,
			"channelKey":  "web",
			"statusId":    status,
			"itemsTotal":  3,
			"start":       "2024-03-05T10:20:30.123Z",
			"lastUpdated": "2024-03-05T10:21:00Z",
		}
		if status == "completed" {
			resp["dataUrl"] = dataURL
		}
		_ = json.NewEncoder(w).Encode(resp)

	case "/feed":
		p.mu.Lock()
		p.feedHits++
		p.feedAuth = r.Header.Get("Authorization")
		status := p.feedStatus
		body := p.feedBody
		p.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)

	default:
		http.NotFound(w, r)
	}
}

// snapshot returns a copy of the request counters
func (p *fakePlatform) snapshot() fakePlatformCounts {
	p.mu.Lock()
	defer p.mu.Unlock()
	headers := make(map[string]bool, len(p.appHeaders))
	for k, v := range p.appHeaders {
		headers[k] = v
	}
	return fakePlatformCounts{
		tokenHits:    p.tokenHits,
		exportHits:   p.exportHits,
		statusHits:   p.statusHits,
		feedHits:     p.feedHits,
		feedAuth:     p.feedAuth,
		exportBodies: append([]map[string]any(nil), p.exportBodies...),
		appHeaders:   headers,
	}
}

type fakePlatformCounts struct {
	tokenHits    int
	exportHits   int
	statusHits   int
	feedHits     int
	feedAuth     string
	exportBodies []map[string]any
	appHeaders   map[string]bool
}

// hostRewriteTransport sends every request to target regardless of its host
type hostRewriteTransport struct {
	target *url.URL
}

func (h hostRewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = h.target.Scheme
	clone.URL.Host = h.target.Host
	clone.Host = h.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

// recordingSleeper records requested delays and returns immediately
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestAdapter(t *testing.T, platform *fakePlatform, logger *zap.Logger, opts ...ExportAdapterOption) (*ExportAdapter, *recordingSleeper) {
	t.Helper()
	config := NewExportConfig(platform.server.URL, "client-1", "secret-1", "catalog")
	config.ApplicationName = "catalogsync-test"

	opts = append([]ExportAdapterOption{WithExportLogger(logger)}, opts...)
	adapter, err := NewExportAdapter(config, opts...)
	require.NoError(t, err)

	sleeper := &recordingSleeper{}
	adapter.sleep = sleeper.sleep
	adapter.executor.sleep = sleeper.sleep
	adapter.executor.delay = func(int) time.Duration { return time.Millisecond }
	return adapter, sleeper
}

func collectIDs(t *testing.T, ctx context.Context, body io.Reader) []string {
	t.Helper()
	var ids []string
	for record, err := range DecodeFeed(ctx, body, zap.NewNop()) {
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}
	return ids
}

// ---------------------------------------------------------------------------
// Constructor Tests
// ---------------------------------------------------------------------------

func TestNewExportAdapter_InvalidConfig(t *testing.T) {
	_, err := NewExportAdapter(NewExportConfig("", "client", "secret", ""))
	assert.ErrorIs(t, err, ErrExportConfigMissingBaseURL)
}

func TestExportAdapter_FetchExport_InvalidRequest(t *testing.T) {
	platform := newFakePlatform(t)
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	_, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("  ", nil))
	assert.ErrorIs(t, err, integration.ErrExportInvalidChannelKey)
	assert.Equal(t, 0, platform.snapshot().exportHits)
}

// ---------------------------------------------------------------------------
// Export Flow Tests
// ---------------------------------------------------------------------------

func TestExportAdapter_FetchExport_CompletesOnThirdPoll(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing", "processing", "completed"}
	platform.dataURL = "https://x/feed"
	platform.feedBody = "[{\"id\":\"1\"}]\n[{\"id\":\"2\"},{\"id\":\"3\"}]"

	target, err := url.Parse(platform.server.URL)
	require.NoError(t, err)
	client := &http.Client{Transport: hostRewriteTransport{target: target}}

	adapter, sleeper := newTestAdapter(t, platform, zap.NewNop(), WithExportHTTPClient(client))

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)
	defer result.Close()

	assert.Equal(t, integration.ExportOutcomeCompleted, result.Outcome)
	assert.Equal(t, "abc", result.Handle.JobKey)
	assert.Equal(t, 3, result.Polls)
	assert.Equal(t, "completed", result.Status.StatusID)

	assert.Equal(t, []string{"1", "2", "3"}, collectIDs(t, context.Background(), result.Stream()))

	assert.Equal(t, 1, platform.snapshot().exportHits)
	assert.Equal(t, 3, platform.snapshot().statusHits)
	assert.Equal(t, 1, platform.snapshot().feedHits)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, sleeper.delays)
	// feed host differs from the API host, so no bearer token is sent
	assert.Empty(t, platform.snapshot().feedAuth)
}

func TestExportAdapter_FetchExport_CompletedOnPollK(t *testing.T) {
	for k := 1; k <= 5; k++ {
		platform := newFakePlatform(t)
		statuses := make([]string, 0, k)
		for i := 1; i < k; i++ {
			statuses = append(statuses, "queued")
		}
		platform.statuses = append(statuses, "completed")
		platform.feedBody = `[{"id":"only"}]`

		adapter, _ := newTestAdapter(t, platform, zap.NewNop())
		result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
		require.NoError(t, err)

		assert.True(t, result.IsCompleted())
		assert.Equal(t, k, result.Polls)
		assert.Equal(t, k, platform.snapshot().statusHits)
		assert.Equal(t, 1, platform.snapshot().feedHits)
		// same host: the feed request carries the bearer token
		assert.Equal(t, "Bearer token-1", platform.snapshot().feedAuth)
		require.NoError(t, result.Close())
	}
}

func TestExportAdapter_FetchExport_NoJobKey(t *testing.T) {
	platform := newFakePlatform(t)
	platform.jobKey = ""
	core, logs := observer.New(zapcore.DebugLevel)
	adapter, _ := newTestAdapter(t, platform, zap.New(core))

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)

	assert.Equal(t, integration.ExportOutcomeNoData, result.Outcome)
	assert.False(t, result.IsCompleted())
	assert.Equal(t, 0, result.Polls)
	assert.Equal(t, 0, platform.snapshot().statusHits)
	assert.Equal(t, 0, platform.snapshot().feedHits)

	body, err := io.ReadAll(result.Stream())
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestExportAdapter_FetchExport_PollBudgetExhausted(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing"}
	core, logs := observer.New(zapcore.DebugLevel)
	adapter, sleeper := newTestAdapter(t, platform, zap.New(core))

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)

	assert.Equal(t, integration.ExportOutcomeTimedOut, result.Outcome)
	assert.Nil(t, result.Body)
	assert.Equal(t, DefaultMaxPolls, result.Polls)
	assert.Equal(t, DefaultMaxPolls, platform.snapshot().statusHits)
	assert.Equal(t, 0, platform.snapshot().feedHits)

	errorLogs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorLogs, 1)
	assert.Equal(t, "Export job did not complete within poll budget", errorLogs[0].Message)

	var ids []string
	for record, err := range DecodeFeed(context.Background(), result.Stream(), zap.NewNop()) {
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}
	assert.Empty(t, ids)

	// no sleep after the last poll
	require.Len(t, sleeper.delays, DefaultMaxPolls-1)
	assert.Equal(t, DefaultInitialPollDelay, sleeper.delays[0])
	for i := 1; i < len(sleeper.delays); i++ {
		prev, cur := sleeper.delays[i-1], sleeper.delays[i]
		assert.GreaterOrEqual(t, cur, prev)
		assert.LessOrEqual(t, cur, DefaultMaxPollDelay)
		assert.Equal(t, min(prev*2, DefaultMaxPollDelay), cur)
	}
	assert.Equal(t, DefaultMaxPollDelay, sleeper.delays[len(sleeper.delays)-1])
}

func TestExportAdapter_FetchExport_FailedStatus(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing", "failed"}
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	_, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	assert.ErrorIs(t, err, integration.ErrExportJobFailed)
	assert.Equal(t, 2, platform.snapshot().statusHits)
	assert.Equal(t, 0, platform.snapshot().feedHits)
}

func TestExportAdapter_FetchExport_DeltaRequestBody(t *testing.T) {
	platform := newFakePlatform(t)
	platform.feedBody = "[]"
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	since := time.Date(2024, 3, 5, 10, 20, 30, 123_000_000, time.UTC)
	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", &since))
	require.NoError(t, err)
	defer result.Close()

	require.Len(t, platform.snapshot().exportBodies, 1)
	assert.Equal(t, "web", platform.snapshot().exportBodies[0]["channelKey"])
	assert.Equal(t, "2024-03-05T10:20:30.123Z", platform.snapshot().exportBodies[0]["deltaFromDate"])
}

func TestExportAdapter_FetchExport_FullRequestOmitsDelta(t *testing.T) {
	platform := newFakePlatform(t)
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)
	defer result.Close()

	require.Len(t, platform.snapshot().exportBodies, 1)
	_, hasDelta := platform.snapshot().exportBodies[0]["deltaFromDate"]
	assert.False(t, hasDelta)
}

func TestExportAdapter_FetchExport_RefreshesTokenOnUnauthorizedPoll(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing", "processing", "completed"}
	platform.statusCodes = []int{http.StatusOK, http.StatusUnauthorized}
	platform.feedBody = `[{"id":"1"}]`
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)
	defer result.Close()

	assert.True(t, result.IsCompleted())
	// initial token plus exactly one refresh for the single 401
	assert.Equal(t, 2, platform.snapshot().tokenHits)
	assert.Equal(t, int64(2), adapter.Tokens().Exchanges())
	assert.Equal(t, Credential("token-2"), adapter.Tokens().Current())
}

func TestExportAdapter_FetchExport_FeedNotRetried(t *testing.T) {
	platform := newFakePlatform(t)
	platform.feedStatus = http.StatusInternalServerError
	platform.feedBody = "storage unavailable"
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	_, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, 1, platform.snapshot().feedHits)
}

func TestExportAdapter_FetchExport_StatusErrorPropagates(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statusCodes = []int{http.StatusInternalServerError, http.StatusInternalServerError}
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	_, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	assert.ErrorIs(t, err, integration.ErrPlatformRequestFailed)
	// basic policy: one retry of the failed status request
	assert.Equal(t, 2, platform.snapshot().statusHits)
}

func TestExportAdapter_FetchExport_SendsApplicationHeader(t *testing.T) {
	platform := newFakePlatform(t)
	adapter, _ := newTestAdapter(t, platform, zap.NewNop())

	result, err := adapter.FetchExport(context.Background(), integration.NewExportJobRequest("web", nil))
	require.NoError(t, err)
	defer result.Close()

	assert.Equal(t, map[string]bool{"catalogsync-test": true}, platform.snapshot().appHeaders)
}

// ---------------------------------------------------------------------------
// Cancellation Tests
// ---------------------------------------------------------------------------

func TestExportAdapter_FetchExport_CancelledMidPoll(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	platform.onStatusPoll = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	adapter, _ := newTestAdapter(t, platform, zap.NewNop())
	adapter.sleep = sleepContext
	adapter.config.InitialPollDelay = 10 * time.Millisecond

	start := time.Now()
	_, err := adapter.FetchExport(ctx, integration.NewExportJobRequest("web", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 2, platform.snapshot().statusHits)
	assert.Equal(t, 0, platform.snapshot().feedHits)
}

func TestExportAdapter_FetchExport_CancelledDuringLongBackoff(t *testing.T) {
	platform := newFakePlatform(t)
	platform.statuses = []string{"processing"}

	adapter, _ := newTestAdapter(t, platform, zap.NewNop())
	adapter.sleep = sleepContext
	adapter.config.InitialPollDelay = time.Hour
	adapter.config.MaxPollDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := adapter.FetchExport(ctx, integration.NewExportJobRequest("web", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, platform.snapshot().statusHits)
}

// ---------------------------------------------------------------------------
// Feed URL Tests
// ---------------------------------------------------------------------------

func TestExportAdapter_FeedURL(t *testing.T) {
	config := NewExportConfig("https://api.example.com/v1", "client", "secret", "")
	adapter, err := NewExportAdapter(config)
	require.NoError(t, err)

	tests := []struct {
		name   string
		handle *integration.ExportJobHandle
		status *integration.ExportJobStatus
		want   string
	}{
		{
			name:   "status data URL wins",
			handle: &integration.ExportJobHandle{DataURL: "https://cdn.example.com/a"},
			status: &integration.ExportJobStatus{DataURL: "https://cdn.example.com/b"},
			want:   "https://cdn.example.com/b",
		},
		{
			name:   "falls back to handle",
			handle: &integration.ExportJobHandle{DataURL: "https://cdn.example.com/a"},
			status: &integration.ExportJobStatus{},
			want:   "https://cdn.example.com/a",
		},
		{
			name:   "relative URL resolved against base",
			handle: &integration.ExportJobHandle{},
			status: &integration.ExportJobStatus{DataURL: "files/feed.ndjson"},
			want:   "https://api.example.com/v1/files/feed.ndjson",
		},
		{
			name:   "missing",
			handle: &integration.ExportJobHandle{},
			status: &integration.ExportJobStatus{},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.feedURL(tt.handle, tt.status))
		})
	}
}
