package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ListOptions narrows ListDiagnoses.
type ListOptions struct {
	Crop    string
	Disease string
	Limit   int
}

// Status is the body of GET /api/status.
type Status struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type listResponse struct {
	Items []*diagnosis.Record `json:"items"`
	Count int                 `json:"count"`
}

type cropsResponse struct {
	Crops []diagnosis.CropInfo `json:"crops"`
}

type profilesResponse struct {
	Crop     string                     `json:"crop"`
	Profiles []diagnosis.ProfileSummary `json:"profiles"`
}

// Diagnose uploads one leaf image and returns the stored diagnosis.  crop
// may be empty.  The image is buffered so the upload can be retried.
func (c *Client) Diagnose(ctx context.Context, filename string, img io.Reader, crop string) (*diagnosis.Record, error) {
	if img == nil {
		return nil, errors.New(errors.ErrCodeValidation, "image is required")
	}
	body, contentType, err := encodeUpload(filepath.Base(filename), img, crop)
	if err != nil {
		return nil, err
	}

	var rec diagnosis.Record
	req, requestID := c.request(ctx)
	resp, err := req.
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&rec).
		Post("/api/v1/diagnoses")
	if err := c.check(resp, err, requestID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeUpload(filename string, img io.Reader, crop string) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(fw, img); err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if crop != "" {
		if err := mw.WriteField("crop_type", crop); err != nil {
			return nil, "", fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build upload: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// GetDiagnosis fetches a stored diagnosis by id.
func (c *Client) GetDiagnosis(ctx context.Context, id string) (*diagnosis.Record, error) {
	if id == "" {
		return nil, errors.New(errors.ErrCodeValidation, "id is required")
	}
	var rec diagnosis.Record
	if err := c.get(ctx, "/api/v1/diagnoses/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDiagnoses returns recent diagnoses, newest first.
func (c *Client) ListDiagnoses(ctx context.Context, opts ListOptions) ([]*diagnosis.Record, error) {
	q := url.Values{}
	if opts.Crop != "" {
		q.Set("crop", opts.Crop)
	}
	if opts.Disease != "" {
		q.Set("disease", opts.Disease)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out listResponse
	if err := c.get(ctx, "/api/v1/diagnoses", q, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []*diagnosis.Record{}
	}
	return out.Items, nil
}

// Crops returns the server's crop catalog.
func (c *Client) Crops(ctx context.Context) ([]diagnosis.CropInfo, error) {
	var out cropsResponse
	if err := c.get(ctx, "/api/v1/crops", nil, &out); err != nil {
		return nil, err
	}
	return out.Crops, nil
}

// Profiles returns the disease profiles considered for crop.
func (c *Client) Profiles(ctx context.Context, crop string) ([]diagnosis.ProfileSummary, error) {
	if crop == "" {
		return nil, errors.New(errors.ErrCodeValidation, "crop is required")
	}
	var out profilesResponse
	if err := c.get(ctx, "/api/v1/crops/"+url.PathEscape(crop)+"/profiles", nil, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// Status returns the server's status and endpoint map.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
