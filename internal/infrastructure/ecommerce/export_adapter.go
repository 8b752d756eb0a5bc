package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
)

const tracerName = "github.com/erp/catalogsync/internal/infrastructure/ecommerce"

// ExportAdapter implements CatalogExporter against the platform's async export-job API
type ExportAdapter struct {
	config     *ExportConfig
	apiClient  *http.Client
	feedClient *http.Client
	tokens     *TokenHolder
	executor   *RetryExecutor
	logger     *zap.Logger
	observer   ExportObserver
	tracer     trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
}

// ExportAdapterOption configures an ExportAdapter
type ExportAdapterOption func(*ExportAdapter)

// WithExportLogger sets the logger
func WithExportLogger(logger *zap.Logger) ExportAdapterOption {
	return func(a *ExportAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithExportObserver sets the pipeline observer
func WithExportObserver(observer ExportObserver) ExportAdapterOption {
	return func(a *ExportAdapter) {
		if observer != nil {
			a.observer = observer
		}
	}
}

// WithExportHTTPClient replaces the API and feed HTTP clients (mainly for tests)
func WithExportHTTPClient(client *http.Client) ExportAdapterOption {
	return func(a *ExportAdapter) {
		if client != nil {
			a.apiClient = client
			a.feedClient = client
		}
	}
}

// NewExportAdapter creates a new export adapter with the given configuration
func NewExportAdapter(config *ExportConfig, opts ...ExportAdapterOption) (*ExportAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &ExportAdapter{
		config: config,
		apiClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		// Feeds can be large; the download is bounded by ctx instead of a client timeout.
		feedClient: &http.Client{},
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		tracer:     otel.Tracer(tracerName),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.tokens = NewTokenHolder(config, a.apiClient, a.logger.Named("token"))
	a.tokens.observer = a.observer
	a.executor = NewRetryExecutor(config, a.apiClient, a.tokens, a.logger.Named("retry"))
	a.executor.observer = a.observer
	return a, nil
}

// Tokens returns the adapter's token holder
func (a *ExportAdapter) Tokens() *TokenHolder {
	return a.tokens
}

// ---------------------------------------------------------------------------
// Export Operations
// ---------------------------------------------------------------------------

// FetchExport triggers an export job, polls it until it completes, and opens its feed.
// A trigger without a job key yields NoData; an exhausted poll budget yields TimedOut.
// Neither is an error. Cancellation is returned as ctx.Err().
func (a *ExportAdapter) FetchExport(ctx context.Context, req integration.ExportJobRequest) (*integration.ExportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "catalog.fetch_export", trace.WithAttributes(
		attribute.String("catalog.channel_key", req.ChannelKey),
		attribute.Bool("catalog.delta", req.IsDelta()),
	))
	defer span.End()

	result, err := a.fetchExport(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("catalog.outcome", result.Outcome.String()),
		attribute.Int("catalog.polls", result.Polls),
	)
	return result, nil
}

func (a *ExportAdapter) fetchExport(ctx context.Context, req integration.ExportJobRequest) (*integration.ExportResult, error) {
	handle, err := a.triggerExport(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &integration.ExportResult{Handle: handle}
	if !handle.HasJob() {
		a.logger.Error("Export trigger returned no job key",
			zap.String("channel_key", req.ChannelKey),
			zap.String("code", handle.Code),
		)
		result.Outcome = integration.ExportOutcomeNoData
		return result, nil
	}

	a.logger.Info("Export job triggered",
		zap.String("channel_key", req.ChannelKey),
		zap.String("job_key", handle.JobKey),
		zap.String("delta_from", req.FormattedDeltaFromDate()),
	)

	delay := a.config.InitialPollDelay
	for poll := 1; poll <= a.config.MaxPolls; poll++ {
		status, err := a.getJobStatus(ctx, handle.JobKey)
		if err != nil {
			return nil, err
		}
		result.Polls = poll
		result.Status = status
		a.observer.JobPolled(ctx, req.ChannelKey, status.StatusID)

		if status.HasStatus(a.config.CompletedStatus) {
			body, err := a.openFeed(ctx, a.feedURL(handle, status))
			if err != nil {
				return nil, err
			}
			a.logger.Info("Export job completed",
				zap.String("channel_key", req.ChannelKey),
				zap.String("job_key", handle.JobKey),
				zap.Int("polls", poll),
				zap.Int("items_total", status.ItemsTotal),
			)
			result.Outcome = integration.ExportOutcomeCompleted
			result.Body = body
			return result, nil
		}

		if a.config.isFailedStatus(status.StatusID) {
			return nil, fmt.Errorf("%w: job %s ended with status %q", integration.ErrExportJobFailed, handle.JobKey, status.StatusID)
		}

		if poll == a.config.MaxPolls {
			break
		}

		a.logger.Debug("Export job not ready",
			zap.String("job_key", handle.JobKey),
			zap.String("status_id", status.StatusID),
			zap.Int("poll", poll),
			zap.Duration("next_delay", delay),
		)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = nextPollDelay(delay, a.config.MaxPollDelay)
	}

	a.logger.Error("Export job did not complete within poll budget",
		zap.String("channel_key", req.ChannelKey),
		zap.String("job_key", handle.JobKey),
		zap.Int("polls", result.Polls),
		zap.String("last_status", result.Status.StatusID),
	)
	result.Outcome = integration.ExportOutcomeTimedOut
	return result, nil
}

// triggerExport posts the export request
func (a *ExportAdapter) triggerExport(ctx context.Context, req integration.ExportJobRequest) (*integration.ExportJobHandle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal export request: %w", err)
	}

	exportURL := a.config.endpoint(a.config.ExportPath)
	resp, err := a.executor.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, exportURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var handle integration.ExportJobHandle
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, &handle); err != nil {
			return nil, fmt.Errorf("%w: decode export handle: %v", integration.ErrPlatformInvalidResponse, err)
		}
	}
	return &handle, nil
}

// getJobStatus fetches the status of an export job
func (a *ExportAdapter) getJobStatus(ctx context.Context, jobKey string) (*integration.ExportJobStatus, error) {
	statusURL := a.config.endpoint(a.config.JobStatusPath) + "?" + url.Values{"jobKey": {jobKey}}.Encode()
	resp, err := a.executor.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	})
	if err != nil {
		return nil, err
	}

	var status integration.ExportJobStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, fmt.Errorf("%w: decode job status: %v", integration.ErrPlatformInvalidResponse, err)
	}
	return &status, nil
}

// feedURL picks the data URL from the status, falling back to the trigger handle,
// and resolves relative URLs against BaseURL
func (a *ExportAdapter) feedURL(handle *integration.ExportJobHandle, status *integration.ExportJobStatus) string {
	raw := status.DataURL
	if raw == "" {
		raw = handle.DataURL
	}
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	base, err := url.Parse(a.config.BaseURL + "/")
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

// openFeed issues a single, non-retried GET for the feed and returns its body.
// The bearer token is only sent when the feed lives on the API host.
func (a *ExportAdapter) openFeed(ctx context.Context, feedURL string) (io.ReadCloser, error) {
	if feedURL == "" {
		return nil, fmt.Errorf("%w: completed job has no data URL", integration.ErrPlatformInvalidResponse)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create feed request: %v", integration.ErrPlatformRequestFailed, err)
	}
	setApplicationHeaders(req, a.config.ApplicationName)
	if a.sameHost(req.URL) {
		a.tokens.Current().Apply(req)
	}

	resp, err := a.feedClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}
	if !isSuccessStatus(resp.StatusCode) {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
		return nil, newHTTPError(req.Method, feedURL, resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (a *ExportAdapter) sameHost(u *url.URL) bool {
	base, err := url.Parse(a.config.BaseURL)
	if err != nil {
		return false
	}
	return u.Host == base.Host
}

// Ensure ExportAdapter implements CatalogExporter
var _ integration.CatalogExporter = (*ExportAdapter)(nil)
