package storage

import (
	"context"
	"io"
	"iter"

	"github.com/erp/catalogsync/internal/domain/integration"
)

var _ integration.FeedPublisher = (*DiscardFeedPublisher)(nil)

// DiscardFeedPublisher drains and counts records without storing them.
// Used when object storage is disabled.
type DiscardFeedPublisher struct{}

// NewDiscardFeedPublisher creates a DiscardFeedPublisher
func NewDiscardFeedPublisher() *DiscardFeedPublisher {
	return &DiscardFeedPublisher{}
}

// Publish encodes every record so the counts match what S3FeedPublisher would store
func (DiscardFeedPublisher) Publish(
	_ context.Context,
	channelKey, _ string,
	records iter.Seq2[integration.ProductRecord, error],
) (*integration.FeedPublication, error) {
	if channelKey == "" {
		return nil, integration.ErrExportInvalidChannelKey
	}

	cw := &countingWriter{}
	count, err := writeNDJSON(cw, records)
	if err != nil {
		return nil, err
	}
	return &integration.FeedPublication{RecordCount: count, SizeBytes: cw.n}, nil
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

var _ io.Writer = (*countingWriter)(nil)
