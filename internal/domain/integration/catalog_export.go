package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"
)

// Catalog export errors
var (
	ErrPlatformNotConfigured   = errors.New("integration: platform not configured")
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed   = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrPlatformAuthFailed      = errors.New("integration: platform authentication failed")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limited")

	ErrExportInvalidChannelKey = errors.New("integration: channel key is required")
	ErrExportJobFailed         = errors.New("integration: export job failed")
	ErrExportTimedOut          = errors.New("integration: export job did not complete in time")
)

// DeltaDateLayout is the textual format of ExportJobRequest.DeltaFromDate on the wire
const DeltaDateLayout = "2006-01-02T15:04:05.000Z"

// ---------------------------------------------------------------------------
// Export Job Types
// ---------------------------------------------------------------------------

// ExportJobRequest asks the platform to materialize a catalog export
type ExportJobRequest struct {
	// ChannelKey selects the catalog/export configuration on the platform
	ChannelKey string
	// DeltaFromDate limits the export to records changed since this time; nil means full export
	DeltaFromDate *time.Time
}

// NewExportJobRequest creates a request, normalizing the delta timestamp to UTC
func NewExportJobRequest(channelKey string, deltaFromDate *time.Time) ExportJobRequest {
	req := ExportJobRequest{ChannelKey: strings.TrimSpace(channelKey)}
	if deltaFromDate != nil && !deltaFromDate.IsZero() {
		utc := deltaFromDate.UTC()
		req.DeltaFromDate = &utc
	}
	return req
}

// Validate validates the export job request
func (r ExportJobRequest) Validate() error {
	if strings.TrimSpace(r.ChannelKey) == "" {
		return ErrExportInvalidChannelKey
	}
	return nil
}

// IsDelta returns true if the request asks for a delta feed
func (r ExportJobRequest) IsDelta() bool {
	return r.DeltaFromDate != nil
}

// FormattedDeltaFromDate returns the delta timestamp in wire format, or "" for a full export
func (r ExportJobRequest) FormattedDeltaFromDate() string {
	if r.DeltaFromDate == nil {
		return ""
	}
	return r.DeltaFromDate.UTC().Format(DeltaDateLayout)
}

// MarshalJSON encodes the request body sent to the export endpoint
func (r ExportJobRequest) MarshalJSON() ([]byte, error) {
	body := struct {
		ChannelKey    string `json:"channelKey"`
		DeltaFromDate string `json:"deltaFromDate,omitempty"`
	}{
		ChannelKey:    r.ChannelKey,
		DeltaFromDate: r.FormattedDeltaFromDate(),
	}
	return json.Marshal(body)
}

// ExportJobHandle is the platform's answer to an export trigger
type ExportJobHandle struct {
	Code        string `json:"code"`
	JobKey      string `json:"jobKey"`
	DataURL     string `json:"dataUrl"`
	ContentType string `json:"contentType"`
	ItemsTotal  int    `json:"itemsTotal"`
}

// HasJob returns true if the trigger produced a job that can be polled
func (h *ExportJobHandle) HasJob() bool {
	return h != nil && strings.TrimSpace(h.JobKey) != ""
}

// ExportJobStatus is one observation of a running export job
type ExportJobStatus struct {
	ClientID      string    `json:"clientId"`
	Key           string    `json:"key"`
	ChannelKey    string    `json:"channelKey"`
	Endpoint      string    `json:"endpoint"`
	Type          string    `json:"type"`
	DeltaFromDate Timestamp `json:"deltaFromDate"`
	ItemsTotal    int       `json:"itemsTotal"`
	StatusID      string    `json:"statusId"`
	Start         Timestamp `json:"start"`
	Stop          Timestamp `json:"stop"`
	LastUpdated   Timestamp `json:"lastUpdated"`
	// DataURL is set by some platforms once the job has completed
	DataURL string `json:"dataUrl"`
}

// HasStatus reports whether the job is in the given status (case-insensitive)
func (s *ExportJobStatus) HasStatus(statusID string) bool {
	return s != nil && strings.EqualFold(strings.TrimSpace(s.StatusID), statusID)
}

// Timestamp is a lenient JSON time: it accepts the layouts the export API is known
// to emit and decodes anything else (including null) as the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	DeltaDateLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Time = time.Time{}
		return nil
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ---------------------------------------------------------------------------
// Export Result
// ---------------------------------------------------------------------------

// ExportOutcome tags how an export retrieval ended
type ExportOutcome string

const (
	// ExportOutcomeCompleted means the job finished and Body streams its feed
	ExportOutcomeCompleted ExportOutcome = "COMPLETED"
	// ExportOutcomeNoData means the platform did not start a job
	ExportOutcomeNoData ExportOutcome = "NO_DATA"
	// ExportOutcomeTimedOut means the job never completed within the poll budget
	ExportOutcomeTimedOut ExportOutcome = "TIMED_OUT"
)

// IsValid returns true if the outcome is known
func (o ExportOutcome) IsValid() bool {
	switch o {
	case ExportOutcomeCompleted, ExportOutcomeNoData, ExportOutcomeTimedOut:
		return true
	default:
		return false
	}
}

// String returns the string representation of ExportOutcome
func (o ExportOutcome) String() string {
	return string(o)
}

// ExportResult is the tagged result of one FetchExport call
type ExportResult struct {
	Outcome ExportOutcome
	// Body is the feed stream; non-nil only when Outcome is Completed. Caller must close it.
	Body io.ReadCloser
	// Handle is the trigger response
	Handle *ExportJobHandle
	// Status is the last observed job status, nil if no poll happened
	Status *ExportJobStatus
	// Polls is the number of status requests issued
	Polls int
}

// IsCompleted returns true if a feed body is available
func (r *ExportResult) IsCompleted() bool {
	return r != nil && r.Outcome == ExportOutcomeCompleted && r.Body != nil
}

// Stream returns the feed body, or an empty stream when no data was retrieved
func (r *ExportResult) Stream() io.ReadCloser {
	if r.IsCompleted() {
		return r.Body
	}
	return http.NoBody
}

// Close releases the feed body if one is held
func (r *ExportResult) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// CatalogExporter triggers platform export jobs and returns their feed
type CatalogExporter interface {
	// FetchExport triggers an export, polls it to a terminal state and opens the feed
	FetchExport(ctx context.Context, req ExportJobRequest) (*ExportResult, error)
}

// FeedPublication describes a feed that was republished downstream
type FeedPublication struct {
	Location    string
	RecordCount int
	SizeBytes   int64
}

// FeedPublisher republishes decoded records to downstream consumers
type FeedPublisher interface {
	// Publish drains records and stores them under a key derived from channelKey and runID
	Publish(ctx context.Context, channelKey, runID string, records iter.Seq2[ProductRecord, error]) (*FeedPublication, error)
}
