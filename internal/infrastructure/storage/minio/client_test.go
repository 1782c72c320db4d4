package minio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/LeafSight/pkg/errors"
)

func TestApplyDefaults(t *testing.T) {
	cfg := MinIOConfig{}
	applyDefaults(&cfg)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "leaf-images", cfg.Bucket)
	assert.Equal(t, 15*time.Minute, cfg.PresignExpiry)
}

func TestEnsureBucket_Creates(t *testing.T) {
	api := new(MockMinIOAPI)
	api.On("BucketExists", mock.Anything, "leaves").Return(false, nil)
	api.On("MakeBucket", mock.Anything, "leaves", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)

	c := newMinIOClient(api, MinIOConfig{Bucket: "leaves"}, nil)
	require.NoError(t, c.EnsureBucket(context.Background()))
	api.AssertExpectations(t)
}

func TestEnsureBucket_Exists(t *testing.T) {
	api := new(MockMinIOAPI)
	api.On("BucketExists", mock.Anything, "leaf-images").Return(true, nil)

	c := newMinIOClient(api, MinIOConfig{}, nil)
	require.NoError(t, c.EnsureBucket(context.Background()))
	api.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureBucket_Errors(t *testing.T) {
	api := new(MockMinIOAPI)
	api.On("BucketExists", mock.Anything, "leaf-images").Return(false, errors.New("dial tcp"))
	c := newMinIOClient(api, MinIOConfig{}, nil)
	assert.True(t, pkgerrors.IsCode(c.EnsureBucket(context.Background()), pkgerrors.ErrCodeStorageError))

	api = new(MockMinIOAPI)
	api.On("BucketExists", mock.Anything, "leaf-images").Return(false, nil)
	api.On("MakeBucket", mock.Anything, "leaf-images", mock.Anything).Return(errors.New("denied"))
	c = newMinIOClient(api, MinIOConfig{}, nil)
	assert.True(t, pkgerrors.IsCode(c.EnsureBucket(context.Background()), pkgerrors.ErrCodeStorageError))
}

func TestPing(t *testing.T) {
	api := new(MockMinIOAPI)
	api.On("BucketExists", mock.Anything, "leaf-images").Return(true, nil).Once()
	api.On("BucketExists", mock.Anything, "leaf-images").Return(false, nil).Once()
	api.On("BucketExists", mock.Anything, "leaf-images").Return(false, errors.New("timeout")).Once()
	c := newMinIOClient(api, MinIOConfig{}, nil)
	ctx := context.Background()

	assert.NoError(t, c.Ping(ctx))
	assert.True(t, pkgerrors.IsNotFound(c.Ping(ctx)))
	assert.True(t, pkgerrors.IsCode(c.Ping(ctx), pkgerrors.ErrCodeServiceUnavailable))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(ctx), ErrMinIOClientClosed)
}
