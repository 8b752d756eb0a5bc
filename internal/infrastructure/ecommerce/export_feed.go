package ecommerce

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/integration"
)

// feedReaderSize is the initial read buffer; lines longer than this still decode
const feedReaderSize = 64 * 1024

// FeedStats counts what a FeedDecoder has seen so far
type FeedStats struct {
	Lines        int
	Records      int
	SkippedLines int
}

// FeedDecoder streams an NDJSON-of-arrays export feed as individual records.
// Only the current line is held in memory. A FeedDecoder is not safe for
// concurrent use; create one per feed.
type FeedDecoder struct {
	logger *zap.Logger
	stats  FeedStats
}

// NewFeedDecoder creates a feed decoder
func NewFeedDecoder(logger *zap.Logger) *FeedDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedDecoder{logger: logger}
}

// DecodeFeed is a shorthand for NewFeedDecoder(logger).Records(ctx, r)
func DecodeFeed(ctx context.Context, r io.Reader, logger *zap.Logger) iter.Seq2[integration.ProductRecord, error] {
	return NewFeedDecoder(logger).Records(ctx, r)
}

// Stats returns the counters collected so far
func (d *FeedDecoder) Stats() FeedStats {
	return d.stats
}

// Records returns a pull-driven sequence of records in line order, then array order.
// Lines that are not a JSON array of records (or are null) are logged and skipped.
// The sequence ends at EOF; cancellation or a read failure is yielded once as an error.
func (d *FeedDecoder) Records(ctx context.Context, r io.Reader) iter.Seq2[integration.ProductRecord, error] {
	return func(yield func(integration.ProductRecord, error) bool) {
		reader := bufio.NewReaderSize(r, feedReaderSize)
		lineNo := 0

		for {
			if err := ctx.Err(); err != nil {
				yield(integration.ProductRecord{}, err)
				return
			}

			line, readErr := reader.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++
				for _, record := range d.decodeLine(line, lineNo) {
					d.stats.Records++
					if !yield(record, nil) {
						return
					}
				}
			}

			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					yield(integration.ProductRecord{}, fmt.Errorf("%w: line %d: %v", ErrFeedRead, lineNo, readErr))
				}
				return
			}
		}
	}
}

// decodeLine decodes one feed line into its batch of records
func (d *FeedDecoder) decodeLine(line []byte, lineNo int) []integration.ProductRecord {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	d.stats.Lines++

	var batch []integration.ProductRecord
	if err := json.Unmarshal(line, &batch); err != nil {
		d.stats.SkippedLines++
		d.logger.Warn("Skipping malformed feed line",
			zap.Int("line", lineNo),
			zap.Int("length", len(line)),
			zap.Error(err),
		)
		return nil
	}
	if batch == nil {
		d.stats.SkippedLines++
		d.logger.Warn("Skipping null feed line", zap.Int("line", lineNo))
		return nil
	}
	return batch
}
