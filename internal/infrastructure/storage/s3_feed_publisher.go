// Package storage republishes decoded catalog feeds to object storage.
package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/catalogsync/internal/domain/integration"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// FeedContentType is the content type of republished feeds
const FeedContentType = "application/x-ndjson"

var _ integration.FeedPublisher = (*S3FeedPublisher)(nil)

// S3FeedPublisher writes each run's records as one NDJSON object to an
// S3-compatible bucket (AWS S3, MinIO, RustFS, ...).
type S3FeedPublisher struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	tempDir   string
	logger    *zap.Logger
}

// S3FeedPublisherOption is a functional option for configuring S3FeedPublisher
type S3FeedPublisherOption func(*S3FeedPublisher)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3FeedPublisherOption {
	return func(p *S3FeedPublisher) {
		p.logger = logger
	}
}

// WithTempDir sets where feeds are spooled before upload; defaults to os.TempDir
func WithTempDir(dir string) S3FeedPublisherOption {
	return func(p *S3FeedPublisher) {
		p.tempDir = dir
	}
}

// NewS3FeedPublisher creates a publisher from configuration
func NewS3FeedPublisher(ctx context.Context, cfg *config.StorageConfig, opts ...S3FeedPublisherOption) (*S3FeedPublisher, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	p := &S3FeedPublisher{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (p *S3FeedPublisher) EnsureBucket(ctx context.Context) error {
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	p.logger.Info("Creating feed bucket", zap.String("bucket", p.bucket))
	_, err = p.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey returns the key a run's feed is stored under
func (p *S3FeedPublisher) ObjectKey(channelKey, runID string) string {
	return path.Join(p.keyPrefix, channelKey, runID+".ndjson")
}

// Publish spools records to a temporary NDJSON file and uploads it.
// A decode error from records aborts the publication before anything is uploaded.
func (p *S3FeedPublisher) Publish(
	ctx context.Context,
	channelKey, runID string,
	records iter.Seq2[integration.ProductRecord, error],
) (*integration.FeedPublication, error) {
	if channelKey == "" {
		return nil, integration.ErrExportInvalidChannelKey
	}
	if runID == "" {
		return nil, errors.New("storage: run id is required")
	}

	spool, err := os.CreateTemp(p.tempDir, "catalog-feed-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("storage: create spool file: %w", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	count, err := writeNDJSON(spool, records)
	if err != nil {
		return nil, err
	}

	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("storage: spool size: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage: rewind spool: %w", err)
	}

	key := p.ObjectKey(channelKey, runID)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(FeedContentType),
		Metadata: map[string]string{
			"channel-key":  channelKey,
			"record-count": fmt.Sprintf("%d", count),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: upload feed %s: %w", key, err)
	}

	location := "s3://" + p.bucket + "/" + key
	p.logger.Info("Feed published",
		zap.String("channel_key", channelKey),
		zap.String("location", location),
		zap.Int("records", count),
		zap.Int64("size_bytes", size),
	)

	return &integration.FeedPublication{
		Location:    location,
		RecordCount: count,
		SizeBytes:   size,
	}, nil
}

// writeNDJSON drains records into w, one JSON object per line
func writeNDJSON(w io.Writer, records iter.Seq2[integration.ProductRecord, error]) (int, error) {
	bw := bufio.NewWriter(w)
	count := 0
	for rec, err := range records {
		if err != nil {
			return count, fmt.Errorf("storage: read feed: %w", err)
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return count, fmt.Errorf("storage: encode record %d: %w", count+1, err)
		}
		if _, err := bw.Write(line); err != nil {
			return count, fmt.Errorf("storage: write spool: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return count, fmt.Errorf("storage: write spool: %w", err)
		}
		count++
	}
	if err := bw.Flush(); err != nil {
		return count, fmt.Errorf("storage: write spool: %w", err)
	}
	return count, nil
}
