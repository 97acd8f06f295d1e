package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wms-platform/shipment-service/internal/domain"
	"github.com/wms-platform/shipment-service/pkg/logging"
	"github.com/wms-platform/shipment-service/pkg/metrics"
	"github.com/wms-platform/shipment-service/pkg/resilience"
	"github.com/wms-platform/shipment-service/pkg/tracing"
)

const tracerName = "shipment-service/s3"

const (
	opUpload   = "upload"
	opDownload = "download"
	opDelete   = "delete"
)

// objectAPI is the subset of *s3.Client the label store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// LabelStore implements domain.LabelStorage on an S3 bucket.
type LabelStore struct {
	client  objectAPI
	bucket  string
	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewLabelStore wraps client with a circuit breaker. m may be nil.
func NewLabelStore(client objectAPI, bucket string, logger *logging.Logger, m *metrics.Metrics) *LabelStore {
	cbConfig := resilience.DefaultCircuitBreakerConfig("s3-labels")
	cbConfig.IsSuccessful = isHealthyResponse

	return &LabelStore{
		client:  client,
		bucket:  bucket,
		breaker: resilience.NewCircuitBreaker(cbConfig, logger, m),
		logger:  logger.WithComponent("label-store"),
		metrics: m,
	}
}

// Upload writes the label object. size must be the exact content length.
func (s *LabelStore) Upload(ctx context.Context, name string, content io.Reader, size int64, contentType string) error {
	return s.do(ctx, opUpload, name, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(name),
			Body:          content,
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType),
		})
		return err
	})
}

// Download opens the label object. The caller closes the returned reader.
func (s *LabelStore) Download(ctx context.Context, name string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.do(ctx, opDownload, name, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(name),
		})
		if err != nil {
			return err
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// DeleteIfExists removes the object; a missing object is not an error.
func (s *LabelStore) DeleteIfExists(ctx context.Context, name string) error {
	err := s.do(ctx, opDelete, name, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(name),
		})
		return err
	})
	if blobErr, ok := domain.AsBlobError(err); ok && blobErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *LabelStore) do(ctx context.Context, op, name string, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "s3."+op,
		attribute.String("blob.bucket", s.bucket),
		attribute.String("blob.name", name),
	)
	start := time.Now()
	defer func() {
		duration := time.Since(start)
		s.metrics.RecordBlobOperation(op, err == nil, duration)
		s.logger.BlobOperation(ctx, op, name, duration, err)
		tracing.EndSpan(span, err)
	}()

	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return classify(op, name, fn(ctx))
	})
	return err
}

// classify turns responses from the storage service into *domain.BlobError.
// Transport failures without a response stay plain errors.
func classify(op, name string, err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &domain.BlobError{
			Operation:  op,
			BlobName:   name,
			StatusCode: status,
			ErrorCode:  apiErr.ErrorCode(),
			Err:        err,
		}
	}
	if status > 0 {
		return &domain.BlobError{
			Operation:  op,
			BlobName:   name,
			StatusCode: status,
			ErrorCode:  http.StatusText(status),
			Err:        err,
		}
	}

	return fmt.Errorf("blob %s of %q failed: %w", op, name, err)
}

// isHealthyResponse keeps client-side errors and cancellations from tripping
// the breaker; the service answered or the caller gave up.
func isHealthyResponse(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	if blobErr, ok := domain.AsBlobError(err); ok {
		return blobErr.StatusCode >= 400 && blobErr.StatusCode < 500
	}
	return false
}
