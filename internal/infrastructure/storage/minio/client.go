package minio

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
)

// MinIOAPI is the subset of the MinIO SDK the archive uses.  GetObject
// returns a plain ReadCloser so the API can be mocked.
type MinIOAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// sdkAdapter narrows *minio.Client to MinIOAPI.
type sdkAdapter struct {
	*minio.Client
}

func (a sdkAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	return a.Client.GetObject(ctx, bucketName, objectName, opts)
}

// MinIOConfig holds the archive connection parameters.
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Region        string
	Bucket        string
	PresignExpiry time.Duration
}

var ErrMinIOClientClosed = errors.New(errors.ErrCodeInternal, "minio client is closed")

// MinIOClient owns the SDK client and the archive bucket.
type MinIOClient struct {
	client MinIOAPI
	config MinIOConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewMinIOClient connects to cfg.Endpoint and creates the archive bucket when
// it does not exist yet.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig, log logging.Logger) (*MinIOClient, error) {
	applyDefaults(&cfg)

	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to create minio client")
	}

	c := newMinIOClient(sdkAdapter{sdk}, cfg, log)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.client.ListBuckets(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
	}
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("minio connected", logging.String("endpoint", cfg.Endpoint), logging.String("bucket", cfg.Bucket), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

func newMinIOClient(api MinIOAPI, cfg MinIOConfig, log logging.Logger) *MinIOClient {
	applyDefaults(&cfg)
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &MinIOClient{client: api, config: cfg, logger: log.Named("minio")}
}

func applyDefaults(cfg *MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "leaf-images"
	}
	if cfg.PresignExpiry == 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
}

// EnsureBucket creates the archive bucket if needed.
func (c *MinIOClient) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to check bucket existence")
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to create bucket").WithDetail("bucket=" + c.config.Bucket)
	}
	c.logger.Info("created bucket", logging.String("bucket", c.config.Bucket))
	return nil
}

// Bucket returns the archive bucket name.
func (c *MinIOClient) Bucket() string { return c.config.Bucket }

func (c *MinIOClient) api() (MinIOAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrMinIOClientClosed
	}
	return c.client, nil
}

// Close marks the client closed.  The SDK holds no connections to release.
func (c *MinIOClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Ping verifies the server answers and the archive bucket exists.  It is used
// by the readiness probe.
func (c *MinIOClient) Ping(ctx context.Context) error {
	api, err := c.api()
	if err != nil {
		return err
	}
	exists, err := api.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio unreachable")
	}
	if !exists {
		return ErrBucketNotFound.WithDetail("bucket=" + c.config.Bucket)
	}
	return nil
}

var ErrBucketNotFound = errors.New(errors.ErrCodeNotFound, "bucket not found")
