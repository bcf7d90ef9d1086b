// Package transcribe provides the speech-to-text capability client, the
// fast-tier live transcriber, and the refinement worker pool.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hushnote/platform/internal/faults"
	"github.com/hushnote/platform/internal/resilience"
)

// Tier selects the speech model: fast for live feedback, refined for the
// final segment transcript.
type Tier string

const (
	TierFast    Tier = "fast"
	TierRefined Tier = "refined"
)

// Transcriber is the capability invoked on recorded audio. Implementations
// must be safe for concurrent use and re-invocable for the same file.
type Transcriber interface {
	Transcribe(ctx context.Context, path string, tier Tier) (string, error)
}

// ClientConfig contains transcription client configuration.
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	FastModel     string
	RefinedModel  string
	Language      string
	Timeout       time.Duration
	MaxConcurrent int
	Retry         resilience.RetryConfig
}

// Client sends audio files to an HTTP transcription endpoint as multipart
// form data. A semaphore bounds concurrent requests and a circuit breaker
// sheds load while the endpoint is failing.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	semaphore  chan struct{}
	breaker    *resilience.Breaker
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// NewClient creates a transcription HTTP client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transcription endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.FastModel == "" {
		cfg.FastModel = "whisper-tiny"
	}
	if cfg.RefinedModel == "" {
		cfg.RefinedModel = "whisper-large"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		breaker:   resilience.NewBreaker(resilience.BreakerConfig{}),
	}, nil
}

// Transcribe sends the audio file for transcription and returns the text.
func (c *Client) Transcribe(ctx context.Context, path string, tier Tier) (string, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var text string
	err := resilience.Retry(ctx, c.cfg.Retry, func() error {
		return c.breaker.Execute(func() error {
			t, err := c.doRequest(ctx, path, tier)
			if err != nil {
				return err
			}
			text = t
			return nil
		})
	})
	if err != nil {
		if resilience.IsRetryable(err) {
			return "", faults.Wrap(err, faults.Transcription, "transcription exhausted retries")
		}
		return "", err
	}
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, path string, tier Tier) (string, error) {
	body, contentType, err := c.createMultipartRequest(path, tier)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", faults.Wrap(err, faults.Transcription, "build request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", faults.Wrap(err, faults.Transcription, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", faults.Wrap(err, faults.Transcription, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", faults.Newf(faults.Transcription, "endpoint returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", faults.Wrap(err, faults.Transcription, "parse response")
	}
	return parsed.Text, nil
}

func (c *Client) model(tier Tier) string {
	if tier == TierRefined {
		return c.cfg.RefinedModel
	}
	return c.cfg.FastModel
}

func (c *Client) createMultipartRequest(path string, tier Tier) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		// Missing or unreadable file will not fix itself on retry.
		return nil, "", faults.Wrap(err, faults.IO, "open audio file")
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", faults.Wrap(err, faults.Transcription, "create form file")
	}
	if _, err := io.Copy(fileWriter, f); err != nil {
		return nil, "", faults.Wrap(err, faults.IO, "read audio file")
	}

	fields := map[string]string{
		"model":           c.model(tier),
		"tier":            string(tier),
		"response_format": "json",
	}
	if c.cfg.Language != "" {
		fields["language"] = c.cfg.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", faults.Wrap(err, faults.Transcription, "write form field")
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", faults.Wrap(err, faults.Transcription, "close multipart writer")
	}
	return &buf, writer.FormDataContentType(), nil
}
