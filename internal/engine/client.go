// Package engine provides the HTTP client for the inference engine that hosts
// the base speaker, multi-accent and tone color converter models.
//
// The engine owns checkpoints, devices and tensors. This client only moves
// JSON requests and WAV payloads across the wire.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/openvoice-api/internal/core"
)

// API endpoints and paths.
const (
	apiLoadModels = "/v1/models/load"
	apiSpeakers   = "/v1/speakers"
	apiEmbeddings = "/v1/embeddings"
	apiSynthesize = "/v1/synthesize"
	apiConvert    = "/v1/convert"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "engine error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "engine returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when a synthesis job has no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrAudioEmpty is returned when a job carries or receives no audio.
	ErrAudioEmpty = errors.New("audio data cannot be empty")
	// ErrEmbeddingEmpty is returned when the engine answers with an empty embedding.
	ErrEmbeddingEmpty = errors.New("engine returned an empty embedding")
)

// HTTPClient represents a client for the inference engine HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// ErrorResponse represents a structured error response from the engine.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

type speakersResponse struct {
	Speakers []core.Accent `json:"speakers"`
}

type embeddingResponse struct {
	Embedding core.Embedding `json:"embedding"`
}

// NewHTTPClient creates and configures an HTTP client for the engine.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
// The timeout applies to all HTTP requests made by this client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LoadModels asks the engine to load the converter and language models of a
// version. The call blocks until the engine has the checkpoints in memory.
func (c *HTTPClient) LoadModels(ctx context.Context, spec core.ModelSpec) error {
	resp, err := c.postJSON(ctx, apiLoadModels, spec, contentTypeJSON)
	if err != nil {
		return fmt.Errorf("failed to load %s models: %w", spec.Version, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	return nil
}

// Accents returns the ordered base speakers of a v2 language model.
func (c *HTTPClient) Accents(ctx context.Context, language string) ([]core.Accent, error) {
	endpoint := c.baseURL + apiSpeakers + "?language=" + url.QueryEscape(language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create speakers request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to engine at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payload speakersResponse

	err = decodeBody(resp.Body, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode speakers for %s: %w", language, err)
	}

	return payload.Speakers, nil
}

// ExtractEmbedding extracts the tone color embedding of a reference clip.
func (c *HTTPClient) ExtractEmbedding(ctx context.Context, req core.EmbeddingRequest) (core.Embedding, error) {
	if len(req.Audio) == 0 {
		return nil, ErrAudioEmpty
	}

	resp, err := c.postJSON(ctx, apiEmbeddings, req, contentTypeJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to extract embedding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var payload embeddingResponse

	err = decodeBody(resp.Body, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}

	if len(payload.Embedding) == 0 {
		return nil, ErrEmbeddingEmpty
	}

	return payload.Embedding, nil
}

// Synthesize converts text to speech with a base speaker and returns WAV bytes.
func (c *HTTPClient) Synthesize(ctx context.Context, job core.SynthesisJob) ([]byte, error) {
	if job.Text == "" {
		return nil, ErrTextEmpty
	}

	return c.fetchAudio(ctx, apiSynthesize, job)
}

// Convert applies the target tone color to the job audio and returns WAV bytes.
func (c *HTTPClient) Convert(ctx context.Context, job core.ConversionJob) ([]byte, error) {
	if len(job.Audio) == 0 {
		return nil, ErrAudioEmpty
	}

	return c.fetchAudio(ctx, apiConvert, job)
}

// HealthCheck verifies that the engine is running and operational.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for engine at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) fetchAudio(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.postJSON(ctx, path, payload, contentTypeWAV)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrAudioEmpty
	}

	return audioData, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, accept)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to engine at %s: %w", c.baseURL, err)
	}

	return resp, nil
}

// parseErrorResponse attempts to decode a structured JSON error from the engine.
// If structured parsing fails, it falls back to the raw response body.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	var errorResp ErrorResponse

	err := parseJSON(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
