package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const firecrawlBaseURL = "https://api.firecrawl.dev"

// FirecrawlClient implements Researcher against the Firecrawl API.
type FirecrawlClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// FirecrawlOptions tune the client; zero values pick defaults.
type FirecrawlOptions struct {
	BaseURL string
	Timeout time.Duration
}

func NewFirecrawlClient(apiKey string, opts FirecrawlOptions) *FirecrawlClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = firecrawlBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &FirecrawlClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		URL      string `json:"url"`
		Metadata struct {
			URL       string `json:"url"`
			SourceURL string `json:"sourceURL"`
		} `json:"metadata"`
	} `json:"data"`
}

// Search returns result URLs for a query, best first.
func (c *FirecrawlClient) Search(ctx context.Context, query string) ([]string, error) {
	var out searchResponse
	if err := c.post(ctx, "/v1/search", map[string]any{"query": query}, &out); err != nil {
		return nil, fmt.Errorf("firecrawl search: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("firecrawl search: request not successful")
	}
	var urls []string
	for _, item := range out.Data {
		u := item.URL
		if u == "" {
			u = item.Metadata.URL
		}
		if u == "" {
			u = item.Metadata.SourceURL
		}
		if strings.HasPrefix(u, "http") {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
}

// Scrape fetches one page's main content as markdown.
func (c *FirecrawlClient) Scrape(ctx context.Context, url string) (string, error) {
	payload := map[string]any{
		"url":             url,
		"formats":         []string{"markdown"},
		"onlyMainContent": true,
	}
	var out scrapeResponse
	if err := c.post(ctx, "/v1/scrape", payload, &out); err != nil {
		return "", fmt.Errorf("firecrawl scrape %s: %w", url, err)
	}
	if !out.Success {
		return "", fmt.Errorf("firecrawl scrape %s: request not successful", url)
	}
	return out.Data.Markdown, nil
}

func (c *FirecrawlClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}
