package ecommerce

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// maxResponseSize is the maximum allowed API response size (10MB).
// Feed downloads are streamed and not subject to this limit.
const maxResponseSize = 10 * 1024 * 1024

// maxErrorBodyLength bounds the response body kept on an HTTPError
const maxErrorBodyLength = 2048

// ErrFeedRead indicates the feed stream failed mid-read
var ErrFeedRead = errors.New("export: feed read failed")

// tokenResponse is the client-credentials token endpoint response
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Response is a fully read API response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPError is returned when a request still fails after all retries
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// newHTTPError builds an HTTPError, truncating long bodies
func newHTTPError(method, url string, statusCode int, body []byte) *HTTPError {
	if len(body) > maxErrorBodyLength {
		body = body[:maxErrorBodyLength]
	}
	return &HTTPError{
		Method:     method,
		URL:        url,
		StatusCode: statusCode,
		Body:       string(body),
	}
}

// Error implements error
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("export: %s %s returned status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("export: %s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps the status code to an integration sentinel error
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return integration.ErrPlatformAuthFailed
	case http.StatusTooManyRequests:
		return integration.ErrPlatformRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return integration.ErrPlatformUnavailable
	default:
		return integration.ErrPlatformRequestFailed
	}
}

// isAuthClassStatus returns true for statuses handled by the primary retry policy
func isAuthClassStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// isSuccessStatus returns true for 2xx status codes
func isSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
