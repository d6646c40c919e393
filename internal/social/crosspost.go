package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CrosspostClient posts replies through the crosspost relay. With DryRun set
// it logs would-be replies and fabricates ids, which keeps end-to-end runs
// harmless while testing search.
type CrosspostClient struct {
	baseURL    string
	authToken  string
	dryRun     bool
	httpClient *http.Client
	log        zerolog.Logger
}

type CrosspostConfig struct {
	BaseURL   string
	AuthToken string
	DryRun    bool
	Timeout   time.Duration
}

func NewCrosspostClient(cfg CrosspostConfig, log zerolog.Logger) (*CrosspostClient, error) {
	if !cfg.DryRun && cfg.BaseURL == "" {
		return nil, fmt.Errorf("crosspost base url is required")
	}
	if !cfg.DryRun && cfg.AuthToken == "" {
		return nil, fmt.Errorf("crosspost auth token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CrosspostClient{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		dryRun:     cfg.DryRun,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "crosspost").Logger(),
	}, nil
}

type replyRequest struct {
	Text        string `json:"text"`
	ReplyToID   string `json:"replyToId"`
	RequesterID string `json:"authorId"`
}

type replyResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

func (c *CrosspostClient) Reply(ctx context.Context, text string, target ReplyTarget) (string, error) {
	if c.dryRun {
		id := "dry-" + uuid.NewString()
		c.log.Info().
			Str("reply_to", target.MessageID).
			Str("text", text).
			Str("fake_id", id).
			Msg("dry-run reply")
		return id, nil
	}

	body, err := json.Marshal(replyRequest{
		Text:        text,
		ReplyToID:   target.MessageID,
		RequesterID: target.RequesterID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reply", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("post reply: status %d", resp.StatusCode)
	}

	var parsed replyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode reply response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("post reply: %s", parsed.Error)
	}
	return parsed.Data.ID, nil
}
