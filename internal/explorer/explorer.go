// Package explorer looks up the funding transaction of a deposit address
// through an etherscan-compatible account API.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FundingTx is the first inbound transaction seen for an address.
type FundingTx struct {
	Hash string
	From common.Address
}

// Lookup finds funding transactions. Implementations return (nil, nil) when
// the address has none.
type Lookup interface {
	FindFundingTx(ctx context.Context, address common.Address, internal bool) (*FundingTx, error)
}

// NopLookup never finds a funding transaction. Dry runs use it so refunds
// degrade to archive-only.
type NopLookup struct{}

func (NopLookup) FindFundingTx(context.Context, common.Address, bool) (*FundingTx, error) {
	return nil, nil
}

// Client queries a basescan-style HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("explorer base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type txListResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		Hash    string `json:"hash"`
		From    string `json:"from"`
		IsError string `json:"isError"`
	} `json:"result"`
}

// FindFundingTx returns the earliest transaction into address, or nil when
// none exists. With internal set it queries the internal-transaction list,
// which is how smart-contract wallets fund deposits.
func (c *Client) FindFundingTx(ctx context.Context, address common.Address, internal bool) (*FundingTx, error) {
	action := "txlist"
	if internal {
		action = "txlistinternal"
	}

	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", action)
	query.Set("address", address.Hex())
	query.Set("startblock", "0")
	query.Set("endblock", "latest")
	query.Set("page", "1")
	query.Set("offset", "10")
	query.Set("sort", "asc")
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build explorer request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer %s for %s: %w", action, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer %s for %s: status %d", action, address, resp.StatusCode)
	}

	var payload txListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode explorer response: %w", err)
	}
	for _, tx := range payload.Result {
		if tx.IsError == "1" || tx.From == "" {
			continue
		}
		return &FundingTx{
			Hash: tx.Hash,
			From: common.HexToAddress(tx.From),
		}, nil
	}
	return nil, nil
}
