package storage

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Helpers
// ============================================================================

type s3Request struct {
	Method      string
	Path        string
	ContentType string
	Body        string
}

// fakeS3 records requests and answers like a path-style S3 endpoint
type fakeS3 struct {
	mu           sync.Mutex
	requests     []s3Request
	bucketExists bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, s3Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		Body:        string(body),
	})
	exists := f.bucketExists
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && !exists:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && r.URL.Path == "/feeds-bucket":
		f.mu.Lock()
		f.bucketExists = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeS3) snapshot() []s3Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]s3Request(nil), f.requests...)
}

func newTestPublisher(t *testing.T, fake *fakeS3) *S3FeedPublisher {
	t.Helper()

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p, err := NewS3FeedPublisher(context.Background(), &config.StorageConfig{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "feeds-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
		KeyPrefix:       "/catalog/",
	}, WithTempDir(t.TempDir()))
	require.NoError(t, err)
	return p
}

func recordsOf(t *testing.T, lines ...string) iter.Seq2[integration.ProductRecord, error] {
	t.Helper()

	recs := make([]integration.ProductRecord, 0, len(lines))
	for _, l := range lines {
		var r integration.ProductRecord
		require.NoError(t, r.UnmarshalJSON([]byte(l)))
		recs = append(recs, r)
	}
	return func(yield func(integration.ProductRecord, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewS3FeedPublisher_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{"nil config", nil, "configuration is required"},
		{"missing bucket", &config.StorageConfig{AccessKeyID: "k", SecretAccessKey: "s"}, "bucket is required"},
		{"missing access key", &config.StorageConfig{Bucket: "b", SecretAccessKey: "s"}, "access key is required"},
		{"missing secret key", &config.StorageConfig{Bucket: "b", AccessKeyID: "k"}, "secret key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3FeedPublisher(ctx, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestS3FeedPublisher_ObjectKey(t *testing.T) {
	p := newTestPublisher(t, &fakeS3{})

	assert.Equal(t, "catalog/web/run-1.ndjson", p.ObjectKey("web", "run-1"))

	p.keyPrefix = ""
	assert.Equal(t, "web/run-1.ndjson", p.ObjectKey("web", "run-1"))
}

func TestS3FeedPublisher_Publish(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	p := newTestPublisher(t, fake)

	pub, err := p.Publish(context.Background(), "web", "run-1", recordsOf(t,
		`{"id": 1, "sku": "A-1", "price": "9.99"}`,
		`{"id": "2", "name": "Lamp"}`,
	))
	require.NoError(t, err)

	assert.Equal(t, "s3://feeds-bucket/catalog/web/run-1.ndjson", pub.Location)
	assert.Equal(t, 2, pub.RecordCount)
	wantBody := `{"id":1,"sku":"A-1","price":"9.99"}` + "\n" + `{"id":"2","name":"Lamp"}` + "\n"
	assert.Equal(t, int64(len(wantBody)), pub.SizeBytes)

	reqs := fake.snapshot()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/feeds-bucket/catalog/web/run-1.ndjson", reqs[0].Path)
	assert.Equal(t, FeedContentType, reqs[0].ContentType)
	assert.Contains(t, reqs[0].Body, wantBody)
}

func TestS3FeedPublisher_Publish_EmptyFeed(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	p := newTestPublisher(t, fake)

	pub, err := p.Publish(context.Background(), "web", "run-2", recordsOf(t))
	require.NoError(t, err)

	assert.Equal(t, 0, pub.RecordCount)
	assert.Equal(t, int64(0), pub.SizeBytes)
	assert.Len(t, fake.snapshot(), 1, "an empty object is still uploaded")
}

func TestS3FeedPublisher_Publish_DecodeErrorAborts(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	p := newTestPublisher(t, fake)
	readErr := errors.New("connection reset")

	records := func(yield func(integration.ProductRecord, error) bool) {
		var r integration.ProductRecord
		_ = r.UnmarshalJSON([]byte(`{"id":1}`))
		if !yield(r, nil) {
			return
		}
		yield(integration.ProductRecord{}, readErr)
	}

	pub, err := p.Publish(context.Background(), "web", "run-3", records)
	require.Error(t, err)
	assert.Nil(t, pub)
	assert.ErrorIs(t, err, readErr)
	assert.Empty(t, fake.snapshot(), "nothing is uploaded when the feed breaks")
}

func TestS3FeedPublisher_Publish_Validation(t *testing.T) {
	p := newTestPublisher(t, &fakeS3{})

	_, err := p.Publish(context.Background(), "", "run", recordsOf(t))
	assert.ErrorIs(t, err, integration.ErrExportInvalidChannelKey)

	_, err = p.Publish(context.Background(), "web", "", recordsOf(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run id is required")
}

func TestS3FeedPublisher_EnsureBucket(t *testing.T) {
	fake := &fakeS3{}
	p := newTestPublisher(t, fake)

	require.NoError(t, p.EnsureBucket(context.Background()))

	reqs := fake.snapshot()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodHead, reqs[0].Method)
	assert.Equal(t, http.MethodPut, reqs[1].Method)
	assert.Equal(t, "/feeds-bucket", reqs[1].Path)

	require.NoError(t, p.EnsureBucket(context.Background()))
	assert.Len(t, fake.snapshot(), 3, "existing bucket only needs a HEAD")
}

func TestDiscardFeedPublisher(t *testing.T) {
	p := NewDiscardFeedPublisher()

	pub, err := p.Publish(context.Background(), "web", "run", recordsOf(t, `{"id":1}`, `{"id":2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, pub.RecordCount)
	assert.Equal(t, int64(len(`{"id":1}`+"\n")*2), pub.SizeBytes)
	assert.Empty(t, pub.Location)

	_, err = p.Publish(context.Background(), "", "run", recordsOf(t))
	assert.ErrorIs(t, err, integration.ErrExportInvalidChannelKey)
}

func TestWriteNDJSON_PriceRoundTrip(t *testing.T) {
	var sb strings.Builder
	rec := integration.ProductRecord{ID: "7", Price: decimal.NewNullDecimal(decimal.RequireFromString("12.50"))}

	n, err := writeNDJSON(&sb, func(yield func(integration.ProductRecord, error) bool) {
		yield(rec, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, `{"id":"7","price":"12.5"}`+"\n", sb.String())
}
