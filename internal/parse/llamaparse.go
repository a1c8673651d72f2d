package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.cloud.llamaindex.ai"

// LlamaParseClient drives the LlamaCloud parsing job API: upload the file,
// poll the job until it settles, then fetch the markdown result.
type LlamaParseClient struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// LlamaParseOptions tune the client; zero values pick defaults.
type LlamaParseOptions struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	JobTimeout   time.Duration
}

func NewLlamaParseClient(apiKey string, opts LlamaParseOptions) *LlamaParseClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	jobTimeout := opts.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &LlamaParseClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
		jobTimeout:   jobTimeout,
	}
}

type parseJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type parseResult struct {
	Markdown string `json:"markdown"`
}

// ParseToMarkdown submits one spreadsheet and blocks until the job settles.
func (c *LlamaParseClient) ParseToMarkdown(ctx context.Context, fileName string, data []byte) (string, error) {
	jobID, err := c.upload(ctx, fileName, data)
	if err != nil {
		return "", err
	}
	if err := c.awaitJob(ctx, jobID); err != nil {
		return "", err
	}
	return c.fetchMarkdown(ctx, jobID)
}

func (c *LlamaParseClient) upload(ctx context.Context, fileName string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	if err := mw.WriteField("result_type", "markdown"); err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/parsing/upload", &body)
	if err != nil {
		return "", fmt.Errorf("parse upload: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job parseJob
	if err := c.do(req, &job); err != nil {
		return "", fmt.Errorf("parse upload %s: %w", fileName, err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("parse upload %s: %w: no job id", fileName, ErrParseFailed)
	}
	return job.ID, nil
}

func (c *LlamaParseClient) awaitJob(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(c.jobTimeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/parsing/job/"+jobID, nil)
		if err != nil {
			return fmt.Errorf("parse job %s: %w", jobID, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		var job parseJob
		if err := c.do(req, &job); err != nil {
			return fmt.Errorf("parse job %s: %w", jobID, err)
		}

		switch strings.ToUpper(job.Status) {
		case "SUCCESS", "COMPLETED":
			return nil
		case "ERROR", "FAILED", "CANCELLED":
			return fmt.Errorf("parse job %s: %w: status %s", jobID, ErrParseFailed, job.Status)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("parse job %s: %w: not settled after %s", jobID, ErrParseFailed, c.jobTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *LlamaParseClient) fetchMarkdown(ctx context.Context, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/parsing/job/"+jobID+"/result/markdown", nil)
	if err != nil {
		return "", fmt.Errorf("parse result %s: %w", jobID, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var result parseResult
	if err := c.do(req, &result); err != nil {
		return "", fmt.Errorf("parse result %s: %w", jobID, err)
	}
	if strings.TrimSpace(result.Markdown) == "" {
		return "", fmt.Errorf("parse result %s: %w", jobID, ErrEmptyResult)
	}
	return result.Markdown, nil
}

func (c *LlamaParseClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
