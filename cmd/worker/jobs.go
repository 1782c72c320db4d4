package main

import (
	"context"
	"time"

	diagnosisapp "github.com/turtacn/LeafSight/internal/application/diagnosis"
	"github.com/turtacn/LeafSight/internal/infrastructure/database/redis"
	"github.com/turtacn/LeafSight/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// Job outcomes, used as the status label of the worker metrics.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusRejected  = "rejected"
	statusDuplicate = "duplicate"
	statusInvalid   = "invalid"
	statusIgnored   = "ignored"
)

type archivedDiagnoser interface {
	DiagnoseArchived(ctx context.Context, req *diagnosisapp.ArchivedRequest) (*diagnosis.Record, error)
}

type jobClaimer interface {
	Acquire(ctx context.Context, jobID string) (*redis.Claim, error)
	Release(ctx context.Context, claim *redis.Claim) error
}

// permanentCodes fail the same way on every attempt.
var permanentCodes = []errors.ErrorCode{
	errors.ErrCodeImageDecode,
	errors.ErrCodeImageUnsupported,
	errors.ErrCodeAnalysisFailed,
	errors.ErrCodeValidation,
	errors.ErrCodeNotFound,
}

func isPermanent(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	for _, code := range permanentCodes {
		if errors.IsCode(err, code) {
			return true
		}
	}
	return false
}

// jobHandler runs one diagnosis.requested event.  Transient failures are
// returned to the consumer's retry and dead-letter policy; permanent ones are
// dead-lettered here on the first attempt.
type jobHandler struct {
	svc             archivedDiagnoser
	guard           jobClaimer
	deadLetter      kafka.Publisher
	deadLetterTopic string
	timeout         time.Duration
	metrics         *prometheus.AppMetrics
	logger          logging.Logger
}

func (h *jobHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		h.skip(msg, err)
		return nil
	}
	if env.EventType != kafka.EventDiagnosisRequested {
		h.record(statusIgnored, 0)
		return nil
	}
	var p kafka.DiagnosisRequestedPayload
	if err := env.DecodePayload(&p); err != nil {
		h.skip(msg, err)
		return nil
	}
	if p.ObjectKey == "" {
		h.skip(msg, errors.New(errors.ErrCodeValidation, "object_key is required"))
		return nil
	}

	jobID := p.RequestID
	if jobID == "" {
		jobID = env.EventID
	}
	log := h.logger.With(logging.String("job_id", jobID), logging.String("object_key", p.ObjectKey))

	var claim *redis.Claim
	if h.guard != nil {
		claim, err = h.guard.Acquire(ctx, jobID)
		switch {
		case errors.Is(err, redis.ErrJobClaimed):
			log.Debug("job already claimed, skipping redelivery")
			h.record(statusDuplicate, 0)
			return nil
		case err != nil:
			log.Warn("job guard unavailable, processing without deduplication", logging.Err(err))
		}
	}

	h.active(1)
	defer h.active(-1)

	jobCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	rec, err := h.svc.DiagnoseArchived(jobCtx, &diagnosisapp.ArchivedRequest{
		RequestID: p.RequestID,
		ObjectKey: p.ObjectKey,
		Crop:      p.Crop,
		Filename:  p.Filename,
	})
	elapsed := time.Since(start)
	if err != nil {
		// Drop the claim so a retry or a resubmission can take it again.
		if claim != nil {
			if relErr := h.guard.Release(ctx, claim); relErr != nil {
				log.Warn("failed to release job claim", logging.Err(relErr))
			}
		}
		if isPermanent(err) {
			h.record(statusRejected, elapsed)
			log.Error("diagnosis job rejected", logging.Err(err), logging.Duration("duration", elapsed))
			return h.reject(ctx, msg, err)
		}
		h.record(statusFailed, elapsed)
		if h.metrics != nil {
			h.metrics.WorkerJobRetries.WithLabelValues(string(errors.GetCode(err))).Inc()
		}
		log.Error("diagnosis job failed", logging.Err(err), logging.Duration("duration", elapsed))
		return err
	}

	h.record(statusSucceeded, elapsed)
	log.Info("diagnosis job completed",
		logging.String("record_id", rec.ID),
		logging.String("disease", rec.Result.Disease),
		logging.Duration("duration", elapsed),
	)
	return nil
}

// reject forwards msg to the dead-letter topic.  A failed publish is returned
// so the consumer retries the delivery.
func (h *jobHandler) reject(ctx context.Context, msg *kafka.Message, cause error) error {
	if h.deadLetter == nil || h.deadLetterTopic == "" {
		return nil
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_code"] = string(errors.GetCode(cause))
	headers["error_message"] = cause.Error()
	return h.deadLetter.Publish(ctx, &kafka.ProducerMessage{
		Topic:   h.deadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func (h *jobHandler) skip(msg *kafka.Message, err error) {
	h.record(statusInvalid, 0)
	h.logger.Warn("dropping malformed diagnosis request",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err),
	)
}

func (h *jobHandler) record(status string, d time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.WorkerJobsTotal.WithLabelValues(status).Inc()
	if d > 0 {
		h.metrics.WorkerJobDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

func (h *jobHandler) active(delta float64) {
	if h.metrics == nil {
		return
	}
	if delta > 0 {
		h.metrics.WorkerActiveJobs.WithLabelValues().Inc()
	} else {
		h.metrics.WorkerActiveJobs.WithLabelValues().Dec()
	}
}
