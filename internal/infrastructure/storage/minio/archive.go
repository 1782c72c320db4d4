package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

// ImageArchive stores uploaded leaf images by content digest.
type ImageArchive interface {
	Put(ctx context.Context, img *ArchivedImage) (*PutResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ArchivedImage is an image to store.  Crop and RequestID end up in the
// object's user metadata.
type ArchivedImage struct {
	Digest      string
	Extension   string
	ContentType string
	Data        []byte
	Crop        string
	RequestID   string
}

type PutResult struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

type minioArchive struct {
	client *MinIOClient
	logger logging.Logger
	// observe receives the duration of every SDK call, keyed by operation.
	observe func(op string, d time.Duration)
}

type ArchiveOption func(*minioArchive)

// WithObserver registers a latency observer, typically the storage
// histogram.
func WithObserver(fn func(op string, d time.Duration)) ArchiveOption {
	return func(a *minioArchive) { a.observe = fn }
}

// NewImageArchive returns an archive writing to the client's bucket.
func NewImageArchive(client *MinIOClient, log logging.Logger, opts ...ArchiveOption) ImageArchive {
	if log == nil {
		log = logging.NewNopLogger()
	}
	a := &minioArchive{client: client, logger: log.Named("image_archive")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObjectKey returns the key an image with the given digest is stored under.
// The two-character fan-out keeps listing prefixes small.
func ObjectKey(digest, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	fan := digest
	if len(fan) > 2 {
		fan = fan[:2]
	}
	return "images/" + fan + "/" + digest + "." + ext
}

func (a *minioArchive) track(op string, start time.Time) {
	if a.observe != nil {
		a.observe(op, time.Since(start))
	}
}

func (a *minioArchive) Put(ctx context.Context, img *ArchivedImage) (*PutResult, error) {
	if img == nil || img.Digest == "" || len(img.Data) == 0 {
		return nil, ErrInvalidRequest.WithDetail("digest and data are required")
	}
	api, err := a.client.api()
	if err != nil {
		return nil, err
	}
	defer a.track("put", time.Now())

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	meta := map[string]string{}
	if img.Crop != "" {
		meta["crop"] = img.Crop
	}
	if img.RequestID != "" {
		meta["request-id"] = img.RequestID
	}

	key := ObjectKey(img.Digest, img.Extension)
	info, err := api.PutObject(ctx, a.client.Bucket(), key, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to archive image").WithDetail("key=" + key)
	}
	a.logger.Debug("image archived", logging.String("key", key), logging.Int64("size", info.Size))
	return &PutResult{Bucket: info.Bucket, Key: key, ETag: info.ETag, Size: info.Size}, nil
}

func (a *minioArchive) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidRequest.WithDetail("key is required")
	}
	api, err := a.client.api()
	if err != nil {
		return nil, err
	}
	defer a.track("get", time.Now())

	obj, err := api.GetObject(ctx, a.client.Bucket(), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapObjectError(err, key)
	}
	defer obj.Close()

	// minio.Object defers the request until the first Read, so a missing key
	// surfaces here.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapObjectError(err, key)
	}
	return data, nil
}

func (a *minioArchive) Exists(ctx context.Context, key string) (bool, error) {
	api, err := a.client.api()
	if err != nil {
		return false, err
	}
	defer a.track("stat", time.Now())

	if _, err := api.StatObject(ctx, a.client.Bucket(), key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat object")
	}
	return true, nil
}

func (a *minioArchive) Delete(ctx context.Context, key string) error {
	api, err := a.client.api()
	if err != nil {
		return err
	}
	defer a.track("delete", time.Now())

	if err := api.RemoveObject(ctx, a.client.Bucket(), key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to delete object")
	}
	return nil
}

func (a *minioArchive) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	api, err := a.client.api()
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = a.client.config.PresignExpiry
	}
	u, err := api.PresignedGetObject(ctx, a.client.Bucket(), key, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to presign object")
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func mapObjectError(err error, key string) error {
	if isNoSuchKey(err) {
		return ErrObjectNotFound.WithDetail("key=" + key)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "failed to read object").WithDetail("key=" + key)
}
