package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Artuar/babelTower/internal/audio"
	"github.com/Artuar/babelTower/internal/metrics"
)

// Client implements Transcriber, Translator and Synthesizer against an HTTP
// capability server exposing /transcribe, /translate and /synthesize
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	semaphore  chan struct{} // bounds in-flight requests
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientConfig contains capability client configuration
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // first retry delay, doubled per attempt
	OutputFormat  audio.Format  // expected format of synthesized speech
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	Text string `json:"text"`
}

type synthesizeRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	Speaker    string `json:"speaker"`
	Model      string `json:"model,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

const maxBackoff = 30 * time.Second

// NewClient creates a new capability HTTP client
func NewClient(config ClientConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if err := config.OutputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid output format: %w", err)
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: config.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Transcribe uploads pcm as a WAV file and returns the recognized text
func (c *Client) Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcription, error) {
	wav, err := audio.EncodeWAV(pcm, opts.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode phrase: %w", err)
	}

	var transcription Transcription
	err = c.call(ctx, StageTranscribe, func(ctx context.Context) error {
		body, contentType, err := createMultipartRequest(wav, map[string]string{
			"language":    opts.Language,
			"model":       opts.Model,
			"sample_rate": strconv.Itoa(opts.Format.SampleRate),
		})
		if err != nil {
			return fmt.Errorf("failed to create multipart request: %w", err)
		}

		respBody, err := c.doRequest(ctx, StageTranscribe, body, contentType, "application/json")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(respBody, &transcription); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &transcription, nil
}

// Translate sends text to the translation endpoint
func (c *Client) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	payload, err := json.Marshal(translateRequest{
		Text:           text,
		SourceLanguage: translationKey(sourceLanguage),
		TargetLanguage: translationKey(targetLanguage),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var resp translateResponse
	err = c.call(ctx, StageTranslate, func(ctx context.Context) error {
		respBody, err := c.doRequest(ctx, StageTranslate, bytes.NewReader(payload), "application/json", "application/json")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return fmt.Errorf("failed to parse response JSON: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return resp.Text, nil
}

// Synthesize requests speech for text and returns it as PCM in the
// configured output format
func (c *Client) Synthesize(ctx context.Context, text, language, speaker string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	payload, err := json.Marshal(synthesizeRequest{
		Text:       text,
		Language:   language,
		Speaker:    speaker,
		Model:      voiceModel(language),
		SampleRate: c.config.OutputFormat.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var pcm []byte
	err = c.call(ctx, StageSynthesize, func(ctx context.Context) error {
		respBody, err := c.doRequest(ctx, StageSynthesize, bytes.NewReader(payload), "application/json", "audio/wav")
		if err != nil {
			return err
		}

		data, format, err := audio.DecodeWAV(respBody)
		if err != nil {
			return fmt.Errorf("failed to decode synthesized audio: %w", err)
		}
		if format != c.config.OutputFormat {
			return fmt.Errorf("%w: got %d Hz, expected %d Hz", ErrFormatMismatch, format.SampleRate, c.config.OutputFormat.SampleRate)
		}
		pcm = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pcm, nil
}

// call runs attempt under the concurrency bound with exponential backoff
// retries on retryable failures
func (c *Client) call(ctx context.Context, stage string, attempt func(ctx context.Context) error) error {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	for n := 0; n <= c.config.MaxRetries; n++ {
		if n > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordStageRetry(stage)

			backoffTime := time.Duration(math.Pow(2, float64(n-1))) * c.config.RetryBackoff
			if backoffTime > maxBackoff {
				backoffTime = maxBackoff
			}

			if c.logger != nil {
				c.logger.Debug("Retrying capability request",
					slog.String("stage", stage),
					slog.Int("attempt", n+1),
					slog.Duration("backoff", backoffTime),
					slog.String("error", lastErr.Error()))
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				return ctx.Err()
			}
		}

		err := attempt(ctx)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err

		if !isRetryableError(err) || ctx.Err() != nil {
			break
		}
	}

	c.incrementFailedRequests()
	return fmt.Errorf("%s request failed: %w", stage, lastErr)
}

// doRequest performs a single POST to the capability endpoint and returns
// the response body
func (c *Client) doRequest(ctx context.Context, endpoint string, body io.Reader, contentType, accept string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/"+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", "babelTower/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
			Endpoint:   endpoint,
		}
	}

	return respBody, nil
}

// createMultipartRequest creates a multipart/form-data body carrying the
// phrase as phrase.wav plus form fields
func createMultipartRequest(wav []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "phrase.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError reports whether a failed attempt may succeed when repeated
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var transportErr *transportError
	return errors.As(err, &transportErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish and releases idle connections
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
