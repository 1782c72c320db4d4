package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	client, err := NewClient(server.URL, opts...)
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sampleRecord() diagnosis.Record {
	return diagnosis.Record{
		ID:   "9d1b2c3a-4e5f-4a6b-8c7d-0e1f2a3b4c5d",
		Crop: "tomato",
		Result: diagnosis.Result{
			Disease:    "Tomato_Late_blight",
			Confidence: 0.82,
		},
	}
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("http://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Contains(t, c.userAgent, "leafsight-go-sdk/")
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "ftp://invalid", "invalid-url", "http://[::1"} {
		_, err := NewClient(u)
		assert.ErrorIs(t, err, ErrInvalidConfig, u)
	}
}

func TestNewClient_WithOptions(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c, err := NewClient("https://api.example.com",
		WithHTTPClient(hc),
		WithRetryMax(5),
		WithRetryWait(time.Second, 10*time.Second),
		WithUserAgent("field-app/2"),
		WithTimeout(3*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, hc, c.httpClient)
	assert.Equal(t, 5, c.retryMax)
	assert.Equal(t, time.Second, c.retryWaitMin)
	assert.Equal(t, 10*time.Second, c.retryWaitMax)
	assert.Equal(t, "field-app/2", c.userAgent)
	assert.Equal(t, 3*time.Second, c.timeout)
}

func TestWithRetryWait_IgnoresInvalid(t *testing.T) {
	c, err := NewClient("https://api.example.com", WithRetryWait(2*time.Second, time.Second), WithRetryMax(-1))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.retryWaitMin)
	assert.Equal(t, 5*time.Second, c.retryWaitMax)
	assert.Equal(t, 3, c.retryMax)
}

// ---------------------------------------------------------------------------
// Diagnose
// ---------------------------------------------------------------------------

func TestDiagnose_UploadsMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/diagnoses", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Contains(t, r.Header.Get("User-Agent"), "leafsight-go-sdk/")

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "leaf.png", header.Filename)
		assert.Equal(t, "png-bytes", string(data))
		assert.Equal(t, "tomato", r.FormValue("crop_type"))

		writeJSON(w, http.StatusCreated, sampleRecord())
	})

	rec, err := c.Diagnose(context.Background(), "/photos/leaf.png", strings.NewReader("png-bytes"), "tomato")
	require.NoError(t, err)
	assert.Equal(t, "Tomato_Late_blight", rec.Result.Disease)
}

func TestDiagnose_RetriesWithFullBody(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "png-bytes", string(data))

		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "COMMON_008", "message": "busy"})
			return
		}
		writeJSON(w, http.StatusCreated, sampleRecord())
	})

	_, err := c.Diagnose(context.Background(), "leaf.png", strings.NewReader("png-bytes"), "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDiagnose_ClientError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]interface{}{
			"code": "LEAF_002", "error": "Invalid file type", "message": "Allowed image types: png",
		})
	})

	_, err := c.Diagnose(context.Background(), "leaf.tiff", strings.NewReader("x"), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnsupportedMediaType, apiErr.StatusCode)
	assert.Equal(t, "LEAF_002", apiErr.Code)
	assert.Equal(t, "Invalid file type", apiErr.Title)
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx is not retried")
}

func TestDiagnose_NilImage(t *testing.T) {
	c, err := NewClient("http://localhost")
	require.NoError(t, err)
	_, err = c.Diagnose(context.Background(), "leaf.png", nil, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

// ---------------------------------------------------------------------------
// Retry behaviour
// ---------------------------------------------------------------------------

func TestRetry_5xxExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}, WithRetryMax(2))

	_, err := c.Crops(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "upstream exploded", apiErr.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetry_429ThenSuccess(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"code": "COMMON_007", "message": "slow down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"crops": []diagnosis.CropInfo{{Crop: "potato"}}})
	})

	start := time.Now()
	crops, err := c.Crops(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "potato", crops[0].Crop)
	assert.Less(t, time.Since(start), time.Second, "Retry-After is capped at the max wait")
}

func TestRetryAfter(t *testing.T) {
	c, err := NewClient("http://localhost", WithRetryWait(time.Millisecond, 2*time.Second))
	require.NoError(t, err)

	d, err := c.retryAfter(nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, d)
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(nil, assert.AnError))
	assert.False(t, shouldRetry(nil, nil))
}

func TestContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Status{Status: "operational"})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Status(ctx)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Read endpoints
// ---------------------------------------------------------------------------

func TestGetDiagnosis(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/diagnoses/"+sampleRecord().ID {
			writeJSON(w, http.StatusOK, sampleRecord())
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "LEAF_004", "error": "Not Found", "message": "diagnosis not found"})
	})

	rec, err := c.GetDiagnosis(context.Background(), sampleRecord().ID)
	require.NoError(t, err)
	assert.Equal(t, "tomato", rec.Crop)

	_, err = c.GetDiagnosis(context.Background(), "nope")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())

	_, err = c.GetDiagnosis(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestListDiagnoses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tomato", r.URL.Query().Get("crop"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("disease"))
		rec := sampleRecord()
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []diagnosis.Record{rec}, "count": 1})
	})

	items, err := c.ListDiagnoses(context.Background(), ListOptions{Crop: "tomato", Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, sampleRecord().ID, items[0].ID)
}

func TestListDiagnoses_EmptyIsNonNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": 0})
	})
	items, err := c.ListDiagnoses(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestProfilesAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/crops/potato/profiles":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"crop":     "potato",
				"profiles": []diagnosis.ProfileSummary{{Label: "Potato_healthy", Healthy: true}},
			})
		case "/api/status":
			writeJSON(w, http.StatusOK, Status{Status: "operational", Version: "1.0.0",
				Endpoints: map[string]string{"disease_detection": "/api/predict_disease"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	profiles, err := c.Profiles(context.Background(), "potato")
	require.NoError(t, err)
	assert.True(t, profiles[0].Healthy)

	_, err = c.Profiles(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "operational", st.Status)
	assert.Equal(t, "/api/predict_disease", st.Endpoints["disease_detection"])
}

func TestAPIError_Methods(t *testing.T) {
	e := &APIError{StatusCode: 429, Code: "COMMON_007", Message: "slow down", RequestID: "r1"}
	assert.True(t, e.IsRateLimited())
	assert.False(t, e.IsNotFound())
	assert.False(t, e.IsServerError())
	assert.Equal(t, "leafsight: COMMON_007 (HTTP 429): slow down [request_id=r1]", e.Error())
}

func TestAPIKey_SentAsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, Status{Status: "operational"})
	}, WithAPIKey("secret"))
	_, err := c.Status(context.Background())
	require.NoError(t, err)
}
