package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MasaClient pulls posts from the Masa scrape API. A search is a job: submit
// the query, poll the job status, then fetch results.
type MasaClient struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxPolls     int
	httpClient   *http.Client
	log          zerolog.Logger
}

type MasaConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxPolls     int
}

func NewMasaClient(cfg MasaConfig, log zerolog.Logger) (*MasaClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("masa base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("masa api key is required")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 30
	}
	return &MasaClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("component", "masa").Logger(),
	}, nil
}

type masaResult struct {
	ID         json.Number `json:"ID"`
	ExternalID string      `json:"ExternalID"`
	Content    string      `json:"Content"`
	Metadata   struct {
		Author         string `json:"author"`
		UserID         string `json:"user_id"`
		CreatedAt      string `json:"created_at"`
		ConversationID string `json:"conversation_id"`
	} `json:"Metadata"`
}

// Search runs one scrape job and adapts the results. Posts older than since
// are dropped.
func (c *MasaClient) Search(ctx context.Context, query string, limit int, since time.Time) ([]Post, error) {
	jobID, err := c.submitJob(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	for polls := 0; polls < c.maxPolls; polls++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		switch status {
		case "done":
			results, err := c.jobResults(ctx, jobID)
			if err != nil {
				return nil, err
			}
			return c.adapt(results, since), nil
		case "error":
			return nil, fmt.Errorf("scrape job %s failed", jobID)
		}
		// "processing" and "error(retrying)" keep polling
	}
	return nil, fmt.Errorf("scrape job %s timed out after %d polls", jobID, c.maxPolls)
}

func (c *MasaClient) submitJob(ctx context.Context, query string, limit int) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":       query,
		"max_results": limit,
	})
	if err != nil {
		return "", fmt.Errorf("marshal search job: %w", err)
	}

	var parsed struct {
		UUID  string `json:"uuid"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/search/live/twitter", body, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("submit scrape job: %s", parsed.Error)
	}
	if parsed.UUID == "" {
		return "", fmt.Errorf("submit scrape job: no job id returned")
	}
	return parsed.UUID, nil
}

func (c *MasaClient) jobStatus(ctx context.Context, jobID string) (string, error) {
	var parsed struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/search/live/twitter/status/"+jobID, nil, &parsed); err != nil {
		return "", err
	}
	return parsed.Status, nil
}

func (c *MasaClient) jobResults(ctx context.Context, jobID string) ([]masaResult, error) {
	var parsed []masaResult
	if err := c.doJSON(ctx, http.MethodGet, "/search/live/twitter/result/"+jobID, nil, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func (c *MasaClient) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scrape api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scrape api %s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode scrape response: %w", err)
	}
	return nil
}

func (c *MasaClient) adapt(results []masaResult, since time.Time) []Post {
	posts := make([]Post, 0, len(results))
	for _, r := range results {
		id := r.ExternalID
		if id == "" {
			id = r.ID.String()
		}

		requester := r.Metadata.Author
		if requester == "" {
			requester = r.Metadata.UserID
		}

		var ts time.Time
		if r.Metadata.CreatedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, r.Metadata.CreatedAt); err == nil {
				ts = parsed
			}
		}
		if !since.IsZero() && !ts.After(since) {
			continue
		}

		posts = append(posts, Post{
			ID:             id,
			RequesterID:    requester,
			ConversationID: r.Metadata.ConversationID,
			Text:           r.Content,
			Timestamp:      ts,
		})
	}
	return posts
}
