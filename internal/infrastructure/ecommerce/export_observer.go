package ecommerce

import "context"

// ExportObserver receives notifications about the export pipeline, e.g. for metrics
type ExportObserver interface {
	// RetryScheduled is called before sleeping for a retry
	RetryScheduled(ctx context.Context, policy string, statusCode int)
	// TokenRefreshed is called after every refresh, err is nil on success
	TokenRefreshed(ctx context.Context, err error)
	// JobPolled is called after every job status response
	JobPolled(ctx context.Context, channelKey, statusID string)
}

type nopObserver struct{}

func (nopObserver) RetryScheduled(context.Context, string, int) {}
func (nopObserver) TokenRefreshed(context.Context, error)       {}
func (nopObserver) JobPolled(context.Context, string, string)   {}
