// Package diagnosis provides the application-level service for leaf
// diagnoses.  It sits between the HTTP handlers and the worker on one side
// and the inference engine plus its storage collaborators on the other.
package diagnosis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/LeafSight/internal/infrastructure/database/redis"
	"github.com/turtacn/LeafSight/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/internal/infrastructure/storage/minio"
	"github.com/turtacn/LeafSight/pkg/errors"
	diagnosisTypes "github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// Service defines the diagnosis application operations.
type Service interface {
	Diagnose(ctx context.Context, req *Request) (*diagnosisTypes.Record, error)
	DiagnoseArchived(ctx context.Context, req *ArchivedRequest) (*diagnosisTypes.Record, error)
	Get(ctx context.Context, id string) (*diagnosisTypes.Record, error)
	ListRecent(ctx context.Context, filter diagnosisTypes.ListFilter) ([]*diagnosisTypes.Record, error)
	Crops() []diagnosisTypes.CropInfo
	Profiles(crop string) []diagnosisTypes.ProfileSummary
}

// Analyzer is the part of the inference engine the service drives.
type Analyzer interface {
	Diagnose(ctx context.Context, img io.Reader, crop string) (*diagnosisTypes.Result, error)
	CropInfos() []diagnosisTypes.CropInfo
	Profiles(crop string) []diagnosisTypes.ProfileSummary
}

// HistoryStore persists diagnosis records.
type HistoryStore interface {
	Save(ctx context.Context, rec *diagnosisTypes.Record) error
	GetByID(ctx context.Context, id string) (*diagnosisTypes.Record, error)
	List(ctx context.Context, filter diagnosisTypes.ListFilter) ([]*diagnosisTypes.Record, error)
}

// EventPublisher announces completed diagnoses.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType string, key string, payload interface{}) error
}

// Request is one uploaded image to diagnose.
type Request struct {
	RequestID string
	Filename  string
	Crop      string
	Image     []byte
	// ObjectKey is set when the image already sits in the archive, in which
	// case it is not archived again.
	ObjectKey string
}

// ArchivedRequest diagnoses an image that was uploaded to the archive
// beforehand, as the worker does.
type ArchivedRequest struct {
	RequestID string
	ObjectKey string
	Crop      string
	Filename  string
}

type serviceImpl struct {
	engine    Analyzer
	cache     redis.ResultCache
	archive   minio.ImageArchive
	store     HistoryStore
	publisher EventPublisher
	topic     string
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
	now       func() time.Time
}

// Option wires an optional collaborator.  A collaborator that is not wired
// is skipped.
type Option func(*serviceImpl)

func WithCache(c redis.ResultCache) Option { return func(s *serviceImpl) { s.cache = c } }

func WithArchive(a minio.ImageArchive) Option { return func(s *serviceImpl) { s.archive = a } }

func WithStore(st HistoryStore) Option { return func(s *serviceImpl) { s.store = st } }

// WithPublisher publishes a completion event to topic after every diagnosis.
func WithPublisher(p EventPublisher, topic string) Option {
	return func(s *serviceImpl) {
		s.publisher = p
		s.topic = topic
	}
}

func WithMetrics(m *prometheus.AppMetrics) Option { return func(s *serviceImpl) { s.metrics = m } }

// NewService creates the diagnosis service around engine.
func NewService(engine Analyzer, logger logging.Logger, opts ...Option) Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &serviceImpl{
		engine: engine,
		logger: logger.Named("diagnosis_service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Digest returns the hex SHA-256 of an image, the key of the result cache
// and of the archive.
func Digest(img []byte) string {
	sum := sha256.Sum256(img)
	return hex.EncodeToString(sum[:])
}

func normalizeCrop(crop string) string {
	return strings.ToLower(strings.TrimSpace(crop))
}

func (s *serviceImpl) Diagnose(ctx context.Context, req *Request) (*diagnosisTypes.Record, error) {
	if req == nil || len(req.Image) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "image is required")
	}
	crop := normalizeCrop(req.Crop)
	digest := Digest(req.Image)
	logger := s.logger.With(logging.String("request_id", req.RequestID), logging.String("digest", digest))

	compute := func(ctx context.Context) (*diagnosisTypes.Result, error) {
		return s.engine.Diagnose(ctx, bytes.NewReader(req.Image), crop)
	}

	var (
		res *diagnosisTypes.Result
		hit bool
		err error
	)
	if s.cache != nil {
		res, hit, err = s.cache.GetOrCompute(ctx, digest, crop, compute)
	} else {
		res, err = compute(ctx)
	}
	if err != nil {
		logger.Warn("diagnosis failed", logging.Err(err), logging.String("code", string(errors.GetCode(err))))
		return nil, err
	}

	rec := &diagnosisTypes.Record{
		ID:          uuid.New().String(),
		RequestID:   req.RequestID,
		Crop:        crop,
		ImageSHA256: digest,
		ImageKey:    req.ObjectKey,
		Cached:      hit,
		Result:      *res,
		CreatedAt:   s.now(),
	}

	if rec.ImageKey == "" {
		s.archiveImage(ctx, logger, rec, req)
	}
	s.persist(ctx, logger, rec)
	s.announce(ctx, logger, rec)

	logger.Info("diagnosis completed",
		logging.String("id", rec.ID),
		logging.String("disease", rec.Result.Disease),
		logging.Bool("cached", hit))
	return rec, nil
}

func (s *serviceImpl) archiveImage(ctx context.Context, logger logging.Logger, rec *diagnosisTypes.Record, req *Request) {
	if s.archive == nil {
		return
	}
	put, err := s.archive.Put(ctx, &minio.ArchivedImage{
		Digest:    rec.ImageSHA256,
		Extension: filepath.Ext(req.Filename),
		Data:      req.Image,
		Crop:      rec.Crop,
		RequestID: rec.RequestID,
	})
	if err != nil {
		logger.Error("failed to archive image", logging.Err(err))
		prometheus.RecordError(s.metrics, "diagnosis", "archive_failed")
		return
	}
	rec.ImageKey = put.Key
}

func (s *serviceImpl) persist(ctx context.Context, logger logging.Logger, rec *diagnosisTypes.Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, rec); err != nil {
		logger.Error("failed to persist diagnosis", logging.Err(err))
		prometheus.RecordError(s.metrics, "diagnosis", "persist_failed")
	}
}

func (s *serviceImpl) announce(ctx context.Context, logger logging.Logger, rec *diagnosisTypes.Record) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	payload := kafka.DiagnosisCompletedPayload{
		RequestID:   rec.RequestID,
		RecordID:    rec.ID,
		Crop:        rec.Crop,
		Disease:     rec.Result.Disease,
		Confidence:  rec.Result.Confidence,
		Healthy:     rec.Result.Healthy,
		Fallback:    rec.Result.Fallback,
		Cached:      rec.Cached,
		ImageSHA256: rec.ImageSHA256,
		ImageKey:    rec.ImageKey,
		CompletedAt: rec.CreatedAt,
	}
	if err := s.publisher.PublishEvent(ctx, s.topic, kafka.EventDiagnosisCompleted, rec.ID, payload); err != nil {
		logger.Error("failed to publish diagnosis event", logging.Err(err))
		prometheus.RecordError(s.metrics, "diagnosis", "publish_failed")
	}
}

func (s *serviceImpl) DiagnoseArchived(ctx context.Context, req *ArchivedRequest) (*diagnosisTypes.Record, error) {
	if req == nil || req.ObjectKey == "" {
		return nil, errors.New(errors.ErrCodeValidation, "object key is required")
	}
	if s.archive == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "image archive is disabled")
	}
	data, err := s.archive.Get(ctx, req.ObjectKey)
	if err != nil {
		return nil, err
	}
	return s.Diagnose(ctx, &Request{
		RequestID: req.RequestID,
		Filename:  req.Filename,
		Crop:      req.Crop,
		Image:     data,
		ObjectKey: req.ObjectKey,
	})
}

func (s *serviceImpl) Get(ctx context.Context, id string) (*diagnosisTypes.Record, error) {
	if s.store == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "diagnosis history is disabled")
	}
	if strings.TrimSpace(id) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "id is required")
	}
	return s.store.GetByID(ctx, id)
}

func (s *serviceImpl) ListRecent(ctx context.Context, filter diagnosisTypes.ListFilter) ([]*diagnosisTypes.Record, error) {
	if s.store == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "diagnosis history is disabled")
	}
	if filter.Limit < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "limit must not be negative")
	}
	filter.Crop = normalizeCrop(filter.Crop)
	return s.store.List(ctx, filter)
}

func (s *serviceImpl) Crops() []diagnosisTypes.CropInfo { return s.engine.CropInfos() }

func (s *serviceImpl) Profiles(crop string) []diagnosisTypes.ProfileSummary {
	return s.engine.Profiles(crop)
}
