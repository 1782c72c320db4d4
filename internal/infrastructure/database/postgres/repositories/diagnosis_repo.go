package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/LeafSight/internal/infrastructure/database/postgres"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

const diagnosisColumns = `id, request_id, crop, image_sha256, image_key, cached, result, created_at`

// DiagnosisRepo persists diagnosis history in the diagnoses table.
type DiagnosisRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
	// observe receives the latency and outcome of every query, keyed by
	// operation.
	observe func(op string, d time.Duration, err error)
}

type RepoOption func(*DiagnosisRepo)

// WithQueryObserver registers a query observer, typically the db histogram.
func WithQueryObserver(fn func(op string, d time.Duration, err error)) RepoOption {
	return func(r *DiagnosisRepo) { r.observe = fn }
}

func NewDiagnosisRepo(conn *postgres.Connection, log logging.Logger, opts ...RepoOption) *DiagnosisRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	r := &DiagnosisRepo{conn: conn, log: log.Named("diagnosis_repo")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithTx returns a copy of the repository bound to tx.
func (r *DiagnosisRepo) WithTx(tx *sql.Tx) *DiagnosisRepo {
	c := *r
	c.tx = tx
	return &c
}

// diagnosisQuerier is satisfied by both *sql.DB and *sql.Tx, so every query
// runs inside the transaction bound by WithTx when there is one.
type diagnosisQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *DiagnosisRepo) executor() diagnosisQuerier {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

func (r *DiagnosisRepo) track(op string, start time.Time, err error) {
	if r.observe != nil {
		r.observe(op, time.Since(start), err)
	}
}

// Save inserts rec.  An empty ID is filled with a new UUID and CreatedAt is
// set from the database clock.
func (r *DiagnosisRepo) Save(ctx context.Context, rec *diagnosis.Record) (err error) {
	if rec == nil {
		return errors.New(errors.ErrCodeValidation, "record is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	} else if _, perr := uuid.Parse(rec.ID); perr != nil {
		return errors.Wrap(perr, errors.ErrCodeValidation, "record id must be a UUID")
	}
	defer func(start time.Time) { r.track("save", start, err) }(time.Now())

	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal result")
	}

	query := `
		INSERT INTO diagnoses (
			id, request_id, crop, image_sha256, image_key, disease, confidence, healthy, fallback, cached, result
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		) RETURNING created_at
	`
	err = r.executor().QueryRowContext(ctx, query,
		rec.ID, rec.RequestID, rec.Crop, rec.ImageSHA256, rec.ImageKey,
		rec.Result.Disease, rec.Result.Confidence, rec.Result.Healthy, rec.Result.Fallback, rec.Cached, payload,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save diagnosis")
	}
	return nil
}

// GetByID returns the record with id or a DiagnosisNotFound error.
func (r *DiagnosisRepo) GetByID(ctx context.Context, id string) (rec *diagnosis.Record, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, errors.New(errors.ErrCodeDiagnosisNotFound, "diagnosis not found").WithDetail("id=" + id)
	}
	defer func(start time.Time) { r.track("get", start, err) }(time.Now())

	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses WHERE id = $1`
	rec, err = scanDiagnosis(r.executor().QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrCodeDiagnosisNotFound, "diagnosis not found").WithDetail("id=" + id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to get diagnosis")
	}
	return rec, nil
}

// List returns the most recent records matching f, newest first.
func (r *DiagnosisRepo) List(ctx context.Context, f diagnosis.ListFilter) (out []*diagnosis.Record, err error) {
	defer func(start time.Time) { r.track("list", start, err) }(time.Now())

	var (
		where []string
		args  []interface{}
	)
	if crop := strings.ToLower(strings.TrimSpace(f.Crop)); crop != "" {
		args = append(args, crop)
		where = append(where, fmt.Sprintf("crop = $%d", len(args)))
	}
	if f.Disease != "" {
		args = append(args, f.Disease)
		where = append(where, fmt.Sprintf("disease = $%d", len(args)))
	}

	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list diagnoses")
	}
	defer rows.Close()

	out = make([]*diagnosis.Record, 0)
	for rows.Next() {
		rec, err := scanDiagnosis(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan diagnosis")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate diagnoses")
	}
	return out, nil
}

// DeleteBefore removes records older than cutoff and returns how many went.
func (r *DiagnosisRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer func(start time.Time) { r.track("delete", start, err) }(time.Now())

	res, err := r.executor().ExecContext(ctx, `DELETE FROM diagnoses WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to purge diagnoses")
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count purged diagnoses")
	}
	if n > 0 {
		r.log.Info("purged diagnosis history", logging.Int64("rows", n))
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// recordScanner is a single *sql.Row or the current row of *sql.Rows.
type recordScanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row recordScanner) (*diagnosis.Record, error) {
	var (
		rec     diagnosis.Record
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.RequestID, &rec.Crop, &rec.ImageSHA256, &rec.ImageKey, &rec.Cached, &payload, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &rec.Result); err != nil {
		return nil, fmt.Errorf("decode result of %s: %w", rec.ID, err)
	}
	return &rec, nil
}
