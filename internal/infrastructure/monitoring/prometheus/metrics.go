package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds all application metrics.
type AppMetrics struct {
	// HTTP Layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPRequestSize     HistogramVec
	HTTPActiveRequests  GaugeVec
	HTTPRateLimited     CounterVec

	// Diagnosis Layer
	DiagnosesTotal         CounterVec
	DiagnosisDuration      HistogramVec
	DiagnosisConfidence    HistogramVec
	DiagnosisFailuresTotal CounterVec
	TreatmentMissesTotal   CounterVec
	UploadsRejectedTotal   CounterVec

	// Worker Layer
	WorkerJobsTotal    CounterVec
	WorkerJobDuration  HistogramVec
	WorkerActiveJobs   GaugeVec
	WorkerJobRetries   CounterVec
	MessagesPublished  CounterVec
	MessagePublishFail CounterVec

	// Infrastructure Layer
	DBQueryDuration   HistogramVec
	CacheHitsTotal    CounterVec
	CacheMissesTotal  CounterVec
	StorageOpDuration HistogramVec

	// System Health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default Buckets
var (
	DefaultHTTPDurationBuckets      = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultDiagnosisDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5, 10}
	DefaultConfidenceBuckets        = []float64{.5, .6, .7, .8, .9, .95, 1}
	DefaultSizeBuckets              = []float64{1 << 10, 16 << 10, 128 << 10, 1 << 20, 4 << 20, 16 << 20}
	DefaultDBDurationBuckets        = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers all metrics and returns AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPRequestSize = collector.RegisterHistogram("http_request_size_bytes", "HTTP request size", DefaultSizeBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")
	m.HTTPRateLimited = collector.RegisterCounter("http_rate_limited_total", "Requests rejected by the rate limiter", "scope")

	// Diagnosis
	m.DiagnosesTotal = collector.RegisterCounter("diagnoses_total", "Completed leaf diagnoses", "crop", "verdict", "fallback")
	m.DiagnosisDuration = collector.RegisterHistogram("diagnosis_duration_seconds", "Feature extraction and ranking duration", DefaultDiagnosisDurationBuckets, "crop")
	m.DiagnosisConfidence = collector.RegisterHistogram("diagnosis_confidence", "Reported verdict confidence", DefaultConfidenceBuckets, "verdict")
	m.DiagnosisFailuresTotal = collector.RegisterCounter("diagnosis_failures_total", "Diagnoses that failed, by pipeline stage", "stage")
	m.TreatmentMissesTotal = collector.RegisterCounter("treatment_misses_total", "Diagnosed labels without a treatment entry", "label")
	m.UploadsRejectedTotal = collector.RegisterCounter("uploads_rejected_total", "Rejected image uploads", "reason")

	// Worker
	m.WorkerJobsTotal = collector.RegisterCounter("worker_jobs_total", "Worker jobs processed", "status")
	m.WorkerJobDuration = collector.RegisterHistogram("worker_job_duration_seconds", "Worker job duration", DefaultDiagnosisDurationBuckets, "status")
	m.WorkerActiveJobs = collector.RegisterGauge("worker_active_jobs", "Jobs currently being processed")
	m.WorkerJobRetries = collector.RegisterCounter("worker_job_retries_total", "Worker job retries", "reason")
	m.MessagesPublished = collector.RegisterCounter("mq_published_total", "Messages published", "topic")
	m.MessagePublishFail = collector.RegisterCounter("mq_publish_failures_total", "Messages that failed to publish", "topic")

	// Infrastructure
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.StorageOpDuration = collector.RegisterHistogram("storage_op_duration_seconds", "Object storage operation duration", DefaultDBDurationBuckets, "operation")

	// System Health
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type")

	return m
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// RecordHTTPRequest records one served request.  A nil metrics is a no-op.
func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration, reqSize int64) {
	if metrics == nil {
		return
	}
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		metrics.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
}

// RecordDBQuery records the latency of one repository operation.
func RecordDBQuery(metrics *AppMetrics, operation string, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("postgres", "query_error").Inc()
	}
}

// RecordCacheAccess counts a hit or miss on the named cache.
func RecordCacheAccess(metrics *AppMetrics, cache string, hit bool) {
	if metrics == nil {
		return
	}
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordPublish counts one publish attempt on topic.
func RecordPublish(metrics *AppMetrics, topic string, err error) {
	if metrics == nil {
		return
	}
	if err != nil {
		metrics.MessagePublishFail.WithLabelValues(topic).Inc()
		return
	}
	metrics.MessagesPublished.WithLabelValues(topic).Inc()
}

// RecordError counts an error attributed to component.
func RecordError(metrics *AppMetrics, component, errorType string) {
	if metrics == nil {
		return
	}
	metrics.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// ---------------------------------------------------------------------------
// Engine recorder
// ---------------------------------------------------------------------------

// DiagnosisRecorder adapts AppMetrics to the inference engine's telemetry
// hooks.
type DiagnosisRecorder struct {
	m *AppMetrics
}

// NewDiagnosisRecorder returns a recorder writing to m.
func NewDiagnosisRecorder(m *AppMetrics) *DiagnosisRecorder {
	return &DiagnosisRecorder{m: m}
}

// ObserveDiagnosis records a completed diagnosis.  The verdict label is
// "healthy" or "disease" to keep series cardinality bounded.
func (r *DiagnosisRecorder) ObserveDiagnosis(crop, label string, healthy, fallback bool, d time.Duration) {
	if r == nil || r.m == nil {
		return
	}
	if crop == "" {
		crop = "any"
	}
	verdict := "disease"
	if healthy {
		verdict = "healthy"
	}
	r.m.DiagnosesTotal.WithLabelValues(crop, verdict, strconv.FormatBool(fallback)).Inc()
	r.m.DiagnosisDuration.WithLabelValues(crop).Observe(d.Seconds())
}

// ObserveConfidence records the reported confidence of a verdict.
func (r *DiagnosisRecorder) ObserveConfidence(healthy bool, confidence float64) {
	if r == nil || r.m == nil {
		return
	}
	verdict := "disease"
	if healthy {
		verdict = "healthy"
	}
	r.m.DiagnosisConfidence.WithLabelValues(verdict).Observe(confidence)
}

// ObserveTreatmentMiss counts a label resolved to generic advice.
func (r *DiagnosisRecorder) ObserveTreatmentMiss(label string) {
	if r == nil || r.m == nil {
		return
	}
	r.m.TreatmentMissesTotal.WithLabelValues(label).Inc()
}

// ObserveFailure counts a failed diagnosis by stage.
func (r *DiagnosisRecorder) ObserveFailure(stage string) {
	if r == nil || r.m == nil {
		return
	}
	r.m.DiagnosisFailuresTotal.WithLabelValues(stage).Inc()
}
