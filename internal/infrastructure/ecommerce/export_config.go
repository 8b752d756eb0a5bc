package ecommerce

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// ExportConfig holds configuration for the catalog export API integration
type ExportConfig struct {
	// BaseURL is the platform API root, e.g. https://api.example.com/v1
	BaseURL string
	// ClientID is the OAuth client id used for the client-credentials exchange
	ClientID string
	// ClientSecret is the OAuth client secret
	ClientSecret string
	// Scope is the OAuth scope requested with the token
	Scope string
	// TokenPath is the token endpoint relative to BaseURL
	TokenPath string
	// ExportPath is the export trigger endpoint relative to BaseURL
	ExportPath string
	// JobStatusPath is the job status endpoint relative to BaseURL
	JobStatusPath string
	// ApplicationName is sent as X-Application-Name and User-Agent on every request
	ApplicationName string
	// TimeoutSeconds is the HTTP request timeout for API calls (not feed downloads)
	TimeoutSeconds int

	// InitialPollDelay is the wait after the first non-terminal job status
	InitialPollDelay time.Duration
	// MaxPollDelay caps the doubling poll delay
	MaxPollDelay time.Duration
	// MaxPolls is the maximum number of job status requests per export
	MaxPolls int
	// CompletedStatus is the statusId that marks a finished export
	CompletedStatus string
	// FailedStatuses are statusIds that end polling without a feed
	FailedStatuses []string

	// MaxAuthAttempts is the attempt budget for 401/408/429 responses
	MaxAuthAttempts int
	// BasicRetries is the number of extra attempts for any other failure
	BasicRetries int
}

const (
	DefaultTokenPath       = "/connect/token"
	DefaultExportPath      = "/exports/product"
	DefaultJobStatusPath   = "/jobs/job"
	DefaultApplicationName = "catalogsync"
	DefaultCompletedStatus = "completed"

	DefaultInitialPollDelay = 4 * time.Second
	DefaultMaxPollDelay     = 600 * time.Second
	DefaultMaxPolls         = 30
	DefaultMaxAuthAttempts  = 3
	DefaultBasicRetries     = 1
	defaultTimeoutSeconds   = 30
)

// Errors for export configuration
var (
	ErrExportConfigMissingBaseURL      = errors.New("export: base URL is required")
	ErrExportConfigInvalidBaseURL      = errors.New("export: base URL must be an absolute http(s) URL")
	ErrExportConfigMissingClientID     = errors.New("export: client id is required")
	ErrExportConfigMissingClientSecret = errors.New("export: client secret is required")
	ErrExportConfigInvalidPollDelay    = errors.New("export: max poll delay must not be less than initial poll delay")
)

// NewExportConfig creates a new export configuration with defaults
func NewExportConfig(baseURL, clientID, clientSecret, scope string) *ExportConfig {
	return &ExportConfig{
		BaseURL:          baseURL,
		ClientID:         clientID,
		ClientSecret:     clientSecret,
		Scope:            scope,
		TokenPath:        DefaultTokenPath,
		ExportPath:       DefaultExportPath,
		JobStatusPath:    DefaultJobStatusPath,
		ApplicationName:  DefaultApplicationName,
		TimeoutSeconds:   defaultTimeoutSeconds,
		InitialPollDelay: DefaultInitialPollDelay,
		MaxPollDelay:     DefaultMaxPollDelay,
		MaxPolls:         DefaultMaxPolls,
		CompletedStatus:  DefaultCompletedStatus,
		FailedStatuses:   []string{"failed", "cancelled"},
		MaxAuthAttempts:  DefaultMaxAuthAttempts,
		BasicRetries:     DefaultBasicRetries,
	}
}

// Validate validates the export configuration and fills zero values with defaults
func (c *ExportConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrExportConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrExportConfigInvalidBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ClientID == "" {
		return ErrExportConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrExportConfigMissingClientSecret
	}

	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.ExportPath == "" {
		c.ExportPath = DefaultExportPath
	}
	if c.JobStatusPath == "" {
		c.JobStatusPath = DefaultJobStatusPath
	}
	if c.ApplicationName == "" {
		c.ApplicationName = DefaultApplicationName
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.InitialPollDelay <= 0 {
		c.InitialPollDelay = DefaultInitialPollDelay
	}
	if c.MaxPollDelay <= 0 {
		c.MaxPollDelay = DefaultMaxPollDelay
	}
	if c.MaxPollDelay < c.InitialPollDelay {
		return ErrExportConfigInvalidPollDelay
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = DefaultMaxPolls
	}
	if c.CompletedStatus == "" {
		c.CompletedStatus = DefaultCompletedStatus
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if c.BasicRetries < 0 {
		c.BasicRetries = 0
	}
	return nil
}

// endpoint joins BaseURL and a configured path
func (c *ExportConfig) endpoint(path string) string {
	if path == "" {
		return c.BaseURL
	}
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// isFailedStatus returns true if statusID is one of the configured failure statuses
func (c *ExportConfig) isFailedStatus(statusID string) bool {
	statusID = strings.TrimSpace(statusID)
	for _, s := range c.FailedStatuses {
		if strings.EqualFold(s, statusID) {
			return true
		}
	}
	return false
}
