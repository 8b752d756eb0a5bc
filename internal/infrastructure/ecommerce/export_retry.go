package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// Retry policy names, used in logs and metrics
const (
	RetryPolicyPrimary = "primary"
	RetryPolicyBasic   = "basic"
)

// RequestBuilder creates a fresh request for one attempt.
// It is called once per attempt so request bodies are never reused.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// attemptOutcome classifies a single HTTP attempt
type attemptOutcome int

const (
	attemptOK attemptOutcome = iota
	attemptRetryable
	attemptFatal
)

func (o attemptOutcome) String() string {
	switch o {
	case attemptOK:
		return "ok"
	case attemptRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// attemptResult is the typed result of one attempt
type attemptResult struct {
	outcome    attemptOutcome
	response   *Response
	statusCode int
	err        error
}

// RetryExecutor sends platform API requests with the primary (401/408/429,
// token refresh on 401) and basic (one extra attempt) retry policies.
type RetryExecutor struct {
	httpClient      *http.Client
	tokens          TokenSource
	applicationName string
	maxAuthAttempts int
	basicRetries    int
	logger          *zap.Logger
	observer        ExportObserver

	delay func(attempt int) time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryExecutor creates a retry executor using config's retry budgets
func NewRetryExecutor(config *ExportConfig, httpClient *http.Client, tokens TokenSource, logger *zap.Logger) *RetryExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryExecutor{
		httpClient:      httpClient,
		tokens:          tokens,
		applicationName: config.ApplicationName,
		maxAuthAttempts: config.MaxAuthAttempts,
		basicRetries:    config.BasicRetries,
		logger:          logger,
		observer:        nopObserver{},
		delay:           RetryDelay,
		sleep:           sleepContext,
	}
}

// Do executes the request built by build until it succeeds or the retry budgets
// are spent. A request that still fails returns *HTTPError; cancellation returns ctx.Err().
func (e *RetryExecutor) Do(ctx context.Context, build RequestBuilder) (*Response, error) {
	primaryRetries := 0
	basicRetries := 0

	for attempt := 1; ; attempt++ {
		result := e.attempt(ctx, build)

		switch result.outcome {
		case attemptOK:
			return result.response, nil
		case attemptFatal:
			return nil, result.err
		}

		if result.statusCode == http.StatusUnauthorized && e.tokens != nil {
			if _, err := e.tokens.Refresh(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("%w: refresh after 401: %w", integration.ErrPlatformAuthFailed, err)
			}
		}

		var policy string
		switch {
		case isAuthClassStatus(result.statusCode) && primaryRetries < e.maxAuthAttempts-1:
			primaryRetries++
			policy = RetryPolicyPrimary
		case basicRetries < e.basicRetries:
			basicRetries++
			policy = RetryPolicyBasic
		default:
			return nil, result.err
		}

		delay := e.delay(attempt)
		e.logger.Warn("Retrying platform request",
			zap.String("policy", policy),
			zap.Int("attempt", attempt),
			zap.Int("status_code", result.statusCode),
			zap.Duration("delay", delay),
			zap.String("reason", result.err.Error()),
		)
		e.observer.RetryScheduled(ctx, policy, result.statusCode)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs one request with the credential held at build time
func (e *RetryExecutor) attempt(ctx context.Context, build RequestBuilder) attemptResult {
	if err := ctx.Err(); err != nil {
		return attemptResult{outcome: attemptFatal, err: err}
	}

	var cred Credential
	if e.tokens != nil {
		c, err := e.tokens.Ensure(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return attemptResult{outcome: attemptFatal, err: ctxErr}
			}
			return attemptResult{outcome: attemptFatal, err: err}
		}
		cred = c
	}

	req, err := build(ctx)
	if err != nil {
		return attemptResult{outcome: attemptFatal, err: fmt.Errorf("%w: build request: %v", integration.ErrPlatformRequestFailed, err)}
	}
	cred.Apply(req)
	setApplicationHeaders(req, e.applicationName)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attemptResult{outcome: attemptFatal, err: ctxErr}
		}
		return attemptResult{outcome: attemptRetryable, err: fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attemptResult{outcome: attemptFatal, err: ctxErr}
		}
		return attemptResult{
			outcome:    attemptRetryable,
			statusCode: resp.StatusCode,
			err:        fmt.Errorf("%w: read response: %v", integration.ErrPlatformUnavailable, err),
		}
	}

	if !isSuccessStatus(resp.StatusCode) {
		return attemptResult{
			outcome:    attemptRetryable,
			statusCode: resp.StatusCode,
			err:        newHTTPError(req.Method, req.URL.String(), resp.StatusCode, body),
		}
	}

	return attemptResult{
		outcome:    attemptOK,
		statusCode: resp.StatusCode,
		response: &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		},
	}
}

// IsRetryExhausted returns true if err is a platform response that survived all retries
func IsRetryExhausted(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
