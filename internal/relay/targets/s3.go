package targets

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tphakala/wildwatch-go/internal/errors"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

const (
	sinkS3         = "s3"
	s3ContentType  = "text/csv"
	s3NoSuchKey    = "NoSuchKey"
	s3OwnedByYou   = "BucketAlreadyOwnedByYou"
	s3AlreadyExist = "BucketAlreadyExists"
)

// S3Config configures an S3 compatible object store. The bucket is the
// container.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Transport       http.RoundTripper // optional, for tests
}

// S3Sink stores objects in a bucket.
type S3Sink struct {
	client *minio.Client
	bucket string
	region string
	log    logger.Logger
}

// NewS3Sink creates an S3 sink. No request is made until the first call.
func NewS3Sink(cfg *S3Config) (*S3Sink, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.Newf("s3 sink requires an endpoint and a bucket").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("sink", sinkS3).
			Build()
	}

	return &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		log:    getLogger(sinkS3),
	}, nil
}

// Name implements relay.Sink.
func (s *S3Sink) Name() string { return sinkS3 }

// Container implements relay.Sink.
func (s *S3Sink) Container() string { return s.bucket }

// EnsureContainer creates the bucket when missing.
func (s *S3Sink) EnsureContainer(ctx context.Context) (bool, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return false, sinkError(sinkS3, "bucket_exists", err)
	}
	if exists {
		return false, nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case s3OwnedByYou:
			return false, nil
		case s3AlreadyExist:
			return false, sinkError(sinkS3, "make_bucket", errors.Newf("bucket %s is owned by another account", s.bucket).Build())
		}
		return false, sinkError(sinkS3, "make_bucket", err)
	}

	s.log.Info("created bucket", logger.String("bucket", s.bucket))
	return true, nil
}

// GetObjectVersion returns the object ETag.
func (s *S3Sink) GetObjectVersion(ctx context.Context, objectPath string) (string, error) {
	key, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == s3NoSuchKey {
			return "", notFound(sinkS3, objectPath)
		}
		return "", sinkError(sinkS3, "stat_object", err)
	}
	return strings.Trim(info.ETag, `"`), nil
}

// UpdateObject re-checks the ETag and replaces the object. The check and the
// put are separate requests; a writer racing in between is overwritten.
func (s *S3Sink) UpdateObject(ctx context.Context, objectPath string, content []byte, version string) error {
	current, err := s.GetObjectVersion(ctx, objectPath)
	if err != nil {
		return err
	}
	if current != version {
		return conflict(sinkS3, objectPath, "etag changed since version lookup")
	}
	return s.put(ctx, objectPath, content, "update")
}

// CreateObject uploads the object. Buckets have no create-only semantics,
// so this is a plain put.
func (s *S3Sink) CreateObject(ctx context.Context, objectPath string, content []byte) error {
	return s.put(ctx, objectPath, content, "create")
}

func (s *S3Sink) put(ctx context.Context, objectPath string, content []byte, operation string) error {
	key, err := cleanObjectPath(objectPath)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: s3ContentType})
	if err != nil {
		return sinkError(sinkS3, operation, err)
	}
	return nil
}

// Close implements relay.Sink.
func (s *S3Sink) Close() error { return nil }
