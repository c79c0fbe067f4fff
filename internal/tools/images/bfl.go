package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/haasonsaas/nexus-core/internal/backoff"
)

// BFLModels are the only Flux models the tools expose, matching
// flux_create.py/flux_edit.py's validation.
var BFLModels = map[string]bool{"flux-2-pro": true, "flux-2-flex": true}

const bflBaseURL = "https://api.bfl.ai/v1"

// BFLClient drives BFL's async job API: submit, then poll polling_url until
// the job is Ready or Failed (original_source/api/tools/flux_create.py).
type BFLClient struct {
	APIKey string
	HTTP   *http.Client
}

// NewBFLClient builds a client with the teacher's poll cadence.
func NewBFLClient(apiKey string) *BFLClient {
	return &BFLClient{APIKey: apiKey, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

type bflSubmitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

type bflPollResponse struct {
	Status string `json:"status"`
	Result struct {
		Sample string `json:"sample"`
	} `json:"result"`
	Error string `json:"error"`
}

// BFLRequest is the subset of BFL's job payload the two Flux tools share.
type BFLRequest struct {
	Model        string
	Prompt       string
	Width        int
	Height       int
	OutputFormat string
	InputImage   string // base64, edit-only
}

// Generate submits a job and polls until the image is ready, returning the
// generated image's bytes. max_attempts/interval match flux_create.py
// (60 attempts, 1s apart).
func (c *BFLClient) Generate(ctx context.Context, req BFLRequest) ([]byte, error) {
	payload := map[string]any{
		"prompt":           req.Prompt,
		"width":            req.Width,
		"height":           req.Height,
		"safety_tolerance": 5,
		"output_format":    req.OutputFormat,
	}
	if req.InputImage != "" {
		payload["input_image"] = req.InputImage
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode bfl payload: %w", err)
	}

	submitReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", bflBaseURL, req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bfl request: %w", err)
	}
	submitReq.Header.Set("accept", "application/json")
	submitReq.Header.Set("x-key", c.APIKey)
	submitReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(submitReq)
	if err != nil {
		return nil, fmt.Errorf("bfl submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bfl submit: status %d", resp.StatusCode)
	}
	var submitted bflSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return nil, fmt.Errorf("decode bfl submit response: %w", err)
	}

	const maxAttempts = 60
	pollBackoff := backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 5000, Factor: 1.2, Jitter: 0.1}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff.ComputeBackoff(pollBackoff, attempt)):
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, submitted.PollingURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build bfl poll request: %w", err)
		}
		pollReq.Header.Set("accept", "application/json")
		pollReq.Header.Set("x-key", c.APIKey)

		pollResp, err := c.HTTP.Do(pollReq)
		if err != nil {
			return nil, fmt.Errorf("bfl poll: %w", err)
		}
		var poll bflPollResponse
		decodeErr := json.NewDecoder(pollResp.Body).Decode(&poll)
		pollResp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode bfl poll response: %w", decodeErr)
		}

		switch poll.Status {
		case "Ready":
			downloader := NewDownloader(30 * time.Second)
			data, _, err := downloader.Download(ctx, poll.Result.Sample)
			if err != nil {
				return nil, fmt.Errorf("download generated image: %w", err)
			}
			return data, nil
		case "Error", "Failed":
			if poll.Error == "" {
				poll.Error = "unknown error"
			}
			return nil, fmt.Errorf("image generation failed: %s", poll.Error)
		}
	}
	return nil, fmt.Errorf("image generation timed out")
}
