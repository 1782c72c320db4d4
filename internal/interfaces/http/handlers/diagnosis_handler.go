package handlers

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	diagnosisapp "github.com/turtacn/LeafSight/internal/application/diagnosis"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LeafSight/internal/interfaces/http/middleware"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// imageField is the multipart part carrying the leaf image.
const imageField = "image"

// UploadConfig bounds accepted image uploads.
type UploadConfig struct {
	MaxBytes int64
	// AllowedExtensions are bare, lower-case file extensions.
	AllowedExtensions []string
}

// DefaultUploadConfig accepts up to 16 MiB of png, jpg, jpeg or gif.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxBytes:          16 << 20,
		AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"},
	}
}

// DiagnosisHandler serves diagnosis uploads, history and the crop catalog.
type DiagnosisHandler struct {
	svc     diagnosisapp.Service
	upload  UploadConfig
	allowed map[string]bool
	metrics *prometheus.AppMetrics
	logger  logging.Logger
}

// NewDiagnosisHandler creates a DiagnosisHandler.
func NewDiagnosisHandler(svc diagnosisapp.Service, upload UploadConfig, metrics *prometheus.AppMetrics, logger logging.Logger) *DiagnosisHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if upload.MaxBytes <= 0 {
		upload.MaxBytes = DefaultUploadConfig().MaxBytes
	}
	if len(upload.AllowedExtensions) == 0 {
		upload.AllowedExtensions = DefaultUploadConfig().AllowedExtensions
	}
	allowed := make(map[string]bool, len(upload.AllowedExtensions))
	for _, ext := range upload.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &DiagnosisHandler{
		svc:     svc,
		upload:  upload,
		allowed: allowed,
		metrics: metrics,
		logger:  logger.Named("diagnosis_handler"),
	}
}

// PredictResponse is the body of POST /api/predict_disease.
type PredictResponse struct {
	Success    bool                       `json:"success"`
	ID         string                     `json:"id"`
	Disease    string                     `json:"disease"`
	Confidence float64                    `json:"confidence"`
	Healthy    bool                       `json:"healthy"`
	Fallback   bool                       `json:"fallback"`
	Symptoms   string                     `json:"symptoms"`
	Treatment  string                     `json:"treatment"`
	Prevention string                     `json:"prevention"`
	Detailed   diagnosis.DetailedAnalysis `json:"detailed_analysis"`
	Cached     bool                       `json:"cached"`
	Timestamp  string                     `json:"timestamp"`
}

// ListResponse is the body of GET /api/v1/diagnoses.
type ListResponse struct {
	Items []*diagnosis.Record `json:"items"`
	Count int                 `json:"count"`
}

// CropsResponse is the body of GET /api/v1/crops.
type CropsResponse struct {
	Crops []diagnosis.CropInfo `json:"crops"`
}

// ProfilesResponse is the body of GET /api/v1/crops/{crop}/profiles.
type ProfilesResponse struct {
	Crop     string                     `json:"crop"`
	Profiles []diagnosis.ProfileSummary `json:"profiles"`
}

// uploadRejection is a client error found while reading the upload.
type uploadRejection struct {
	status int
	reason string
	body   ErrorResponse
}

func (h *DiagnosisHandler) reject(w http.ResponseWriter, rej *uploadRejection) {
	if h.metrics != nil {
		h.metrics.UploadsRejectedTotal.WithLabelValues(rej.reason).Inc()
	}
	writeError(w, rej.status, rej.body)
}

// readUpload validates the multipart upload and returns the service request.
func (h *DiagnosisHandler) readUpload(w http.ResponseWriter, r *http.Request) (*diagnosisapp.Request, *uploadRejection) {
	r.Body = http.MaxBytesReader(w, r.Body, h.upload.MaxBytes)
	if err := r.ParseMultipartForm(h.upload.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &uploadRejection{
				status: http.StatusRequestEntityTooLarge,
				reason: "too_large",
				body: ErrorResponse{
					Code:    string(errors.ErrCodePayloadTooLarge),
					Error:   "File too large",
					Message: "The uploaded image exceeds the size limit",
				},
			}
		}
		return nil, &uploadRejection{
			status: http.StatusBadRequest,
			reason: "malformed",
			body: ErrorResponse{
				Code:    string(errors.ErrCodeBadRequest),
				Error:   "Invalid upload",
				Message: "Expected a multipart/form-data body",
			},
		}
	}

	file, header, err := r.FormFile(imageField)
	if err != nil || header.Filename == "" {
		if file != nil {
			file.Close()
		}
		// A part named image without a filename is stored as a plain form
		// value by the multipart reader.
		if _, ok := r.MultipartForm.Value[imageField]; ok || (header != nil && header.Filename == "") {
			return nil, &uploadRejection{
				status: http.StatusBadRequest,
				reason: "empty_filename",
				body: ErrorResponse{
					Code:    string(errors.ErrCodeBadRequest),
					Error:   "No file selected",
					Message: "Please select a file to upload",
				},
			}
		}
		return nil, &uploadRejection{
			status: http.StatusBadRequest,
			reason: "missing_image",
			body: ErrorResponse{
				Code:    string(errors.ErrCodeBadRequest),
				Error:   "No image provided",
				Message: "Please upload an image file",
			},
		}
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !h.allowed[ext] {
		return nil, &uploadRejection{
			status: http.StatusUnsupportedMediaType,
			reason: "unsupported_type",
			body: ErrorResponse{
				Code:    string(errors.ErrCodeImageUnsupported),
				Error:   "Invalid file type",
				Message: "Allowed image types: " + strings.Join(h.upload.AllowedExtensions, ", "),
				Allowed: h.upload.AllowedExtensions,
			},
		}
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return nil, &uploadRejection{
			status: http.StatusBadRequest,
			reason: "empty_file",
			body: ErrorResponse{
				Code:    string(errors.ErrCodeBadRequest),
				Error:   "Empty file",
				Message: "The uploaded image is empty",
			},
		}
	}

	crop := r.FormValue("crop_type")
	if crop == "" {
		crop = r.FormValue("crop")
	}
	return &diagnosisapp.Request{
		RequestID: middleware.GetRequestID(r.Context()),
		Filename:  filepath.Base(header.Filename),
		Crop:      crop,
		Image:     data,
	}, nil
}

func (h *DiagnosisHandler) diagnose(w http.ResponseWriter, r *http.Request) (*diagnosis.Record, bool) {
	req, rej := h.readUpload(w, r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if rej != nil {
		h.reject(w, rej)
		return nil, false
	}

	rec, err := h.svc.Diagnose(r.Context(), req)
	if err != nil {
		writeAppError(w, h.logger, err)
		return nil, false
	}
	return rec, true
}

// Predict handles POST /api/predict_disease with the flat response shape
// the mobile client reads.
func (h *DiagnosisHandler) Predict(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.diagnose(w, r)
	if !ok {
		return
	}
	res := rec.Result
	writeJSON(w, http.StatusOK, PredictResponse{
		Success:    true,
		ID:         rec.ID,
		Disease:    res.Disease,
		Confidence: res.Confidence,
		Healthy:    res.Healthy,
		Fallback:   res.Fallback,
		Symptoms:   res.Symptoms,
		Treatment:  res.Treatment,
		Prevention: res.Prevention,
		Detailed:   res.Detailed,
		Cached:     rec.Cached,
		Timestamp:  rec.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Create handles POST /api/v1/diagnoses and returns the stored record.
func (h *DiagnosisHandler) Create(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.diagnose(w, r)
	if !ok {
		return
	}
	w.Header().Set("Location", "/api/v1/diagnoses/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

// Get handles GET /api/v1/diagnoses/{id}.
func (h *DiagnosisHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /api/v1/diagnoses?crop=&disease=&limit=.
func (h *DiagnosisHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	items, err := h.svc.ListRecent(r.Context(), diagnosis.ListFilter{
		Crop:    q.Get("crop"),
		Disease: q.Get("disease"),
		Limit:   limit,
	})
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []*diagnosis.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Count: len(items)})
}

// Crops handles GET /api/v1/crops.
func (h *DiagnosisHandler) Crops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CropsResponse{Crops: h.svc.Crops()})
}

// Profiles handles GET /api/v1/crops/{crop}/profiles.
func (h *DiagnosisHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	crop := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "crop")))
	writeJSON(w, http.StatusOK, ProfilesResponse{Crop: crop, Profiles: h.svc.Profiles(crop)})
}
