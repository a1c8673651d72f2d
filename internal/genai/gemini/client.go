package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"report-backend/internal/genai"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Client implements genai.Client against the Generative Language REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	uploadRetries int
	retryDelay    time.Duration
	readyTimeout  time.Duration
}

// Options configures upload retry behavior and the API endpoint.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	UploadRetries int
	RetryDelay    time.Duration
	ReadyTimeout  time.Duration
}

// NewClient constructs a Client.
func NewClient(apiKey string, opts Options) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	retries := opts.UploadRetries
	if retries <= 0 {
		retries = 3
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 2 * time.Minute
	}
	return &Client{
		apiKey:        apiKey,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		uploadRetries: retries,
		retryDelay:    delay,
		readyTimeout:  readyTimeout,
	}, nil
}

type contentPart struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"file_data,omitempty"`
}

type fileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type generationConfig struct {
	Temperature    *float32 `json:"temperature,omitempty"`
	CandidateCount int      `json:"candidateCount,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Generate calls the model with an ordered mix of text and file parts and
// returns the concatenated text of the first candidate.
func (c *Client) Generate(ctx context.Context, req genai.Request) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", fmt.Errorf("model is required")
	}

	parts := make([]contentPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.File != nil {
			parts = append(parts, contentPart{FileData: &fileData{
				MIMEType: p.File.MIMEType,
				FileURI:  p.File.URI,
			}})
			continue
		}
		if p.Text == "" {
			continue
		}
		parts = append(parts, contentPart{Text: p.Text})
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	}
	if req.Temperature != nil {
		body.GenerationConfig = &generationConfig{
			Temperature:    req.Temperature,
			CandidateCount: 1,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, req.Model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return "", fmt.Errorf("generate request timeout: %w", err)
		}
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("generate response parse: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generate error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: %s", genai.ErrBlocked, parsed.PromptFeedback.BlockReason)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", genai.ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		reason := parsed.Candidates[0].FinishReason
		return "", fmt.Errorf("%w: finish reason %s", genai.ErrEmptyResponse, reason)
	}
	return text, nil
}

type fileResource struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state"`
	Display  string `json:"displayName"`
}

type uploadResponse struct {
	File  fileResource `json:"file"`
	Error *apiError    `json:"error"`
}

// UploadFile pushes a file with a bounded number of attempts and waits for it
// to become usable. On exhaustion any partial upload is deleted best-effort.
func (c *Client) UploadFile(ctx context.Context, upload genai.Upload) (genai.FileHandle, error) {
	data, err := io.ReadAll(upload.Data)
	if err != nil {
		return genai.FileHandle{}, fmt.Errorf("read upload %s: %w", upload.DisplayName, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.uploadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return genai.FileHandle{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resource, err := c.uploadOnce(ctx, upload.DisplayName, upload.MIMEType, data)
		if err != nil {
			lastErr = err
			continue
		}

		ready, err := c.awaitReady(ctx, resource)
		if err == nil {
			return genai.FileHandle{
				Name:        ready.Name,
				URI:         ready.URI,
				MIMEType:    ready.MIMEType,
				DisplayName: upload.DisplayName,
			}, nil
		}
		lastErr = err
		// Leave no orphan behind before the next attempt.
		_ = c.DeleteFile(ctx, resource.Name)
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	return genai.FileHandle{}, fmt.Errorf("%w: %s after %d attempts: %v", genai.ErrUploadFailed, upload.DisplayName, c.uploadRetries, lastErr)
}

func (c *Client) uploadOnce(ctx context.Context, displayName, mimeType string, data []byte) (fileResource, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	metaHeader := make(textproto.MIMEHeader)
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return fileResource{}, err
	}
	meta := map[string]any{"file": map[string]any{"display_name": displayName}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return fileResource{}, err
	}

	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Type", mimeType)
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return fileResource{}, err
	}
	if _, err := filePart.Write(data); err != nil {
		return fileResource{}, err
	}
	if err := writer.Close(); err != nil {
		return fileResource{}, err
	}

	url := fmt.Sprintf("%s/upload/v1beta/files?uploadType=multipart&key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fileResource{}, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileResource{}, fmt.Errorf("upload %s: %w", displayName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fileResource{}, err
	}

	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fileResource{}, fmt.Errorf("upload response parse: %w", err)
	}
	if parsed.Error != nil {
		return fileResource{}, fmt.Errorf("upload error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if parsed.File.Name == "" {
		return fileResource{}, fmt.Errorf("upload response missing file resource")
	}
	return parsed.File, nil
}

// awaitReady polls the file resource until it leaves PROCESSING, bounded by
// the readiness budget.
func (c *Client) awaitReady(ctx context.Context, resource fileResource) (fileResource, error) {
	deadline := time.Now().Add(c.readyTimeout)
	current := resource
	for current.State == "PROCESSING" {
		if time.Now().After(deadline) {
			return fileResource{}, fmt.Errorf("%w: %s still processing after %s", genai.ErrFileNotReady, resource.Name, c.readyTimeout)
		}
		select {
		case <-ctx.Done():
			return fileResource{}, ctx.Err()
		case <-time.After(c.retryDelay):
		}
		refreshed, err := c.getFile(ctx, current.Name)
		if err != nil {
			return fileResource{}, err
		}
		current = refreshed
	}
	if current.State != "ACTIVE" {
		return fileResource{}, fmt.Errorf("%w: %s final state %s", genai.ErrFileNotReady, resource.Name, current.State)
	}
	return current, nil
}

func (c *Client) getFile(ctx context.Context, name string) (fileResource, error) {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fileResource{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileResource{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fileResource{}, err
	}
	var parsed struct {
		fileResource
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fileResource{}, fmt.Errorf("file status parse: %w", err)
	}
	if parsed.Error != nil {
		return fileResource{}, fmt.Errorf("file status error: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	return parsed.fileResource, nil
}

// DeleteFile removes an uploaded file from the service.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete file %s: status %d", name, resp.StatusCode)
	}
	return nil
}

var _ genai.Client = (*Client)(nil)
