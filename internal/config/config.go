// Package config aggregates service configuration from the environment and
// an optional network description file.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"
)

// NetworkConfig models network.json: the chain constants that change
// between Base mainnet and the Sepolia testnet.
type NetworkConfig struct {
	ChainID           int64  `json:"chainId"`
	RPCURL            string `json:"rpcUrl"`
	RegistrarContract string `json:"registrarContract"`
	ExplorerAPIURL    string `json:"explorerApiUrl"`
	ExplorerLinkBase  string `json:"explorerLinkBase"`
}

// AppConfig is everything main needs to assemble the service.
type AppConfig struct {
	Service ServiceConfig
	Chain   ChainConfig
	Social  SocialConfig
	Engine  EngineConfig
}

type ServiceConfig struct {
	HTTPPort      int
	AdminSecret   string
	HMACClockSkew time.Duration
	PostgresDSN   string
	DryRun        bool
}

type ChainConfig struct {
	Network        NetworkConfig
	WalletSeed     string
	ExplorerAPIKey string
}

type SocialConfig struct {
	MasaBaseURL       string
	MasaAPIKey        string
	CrosspostBaseURL  string
	CrosspostToken    string
	SearchCacheWindow time.Duration
}

type EngineConfig struct {
	MentionQuery        string
	SearchLimit         int
	SweepInterval       time.Duration
	DepositPollInterval time.Duration
	RefundPollInterval  time.Duration
	MaxDepositAttempts  int
	RefundBuffer        *big.Int
	InstructionWindow   time.Duration
	DedupeNames         bool
}

const defaultNetworkPath = "network.json"

// Load aggregates configuration from disk and environment. Environment
// values win over the network file.
func Load() (*AppConfig, error) {
	network, err := loadNetwork(envOr("NETWORK_PATH", defaultNetworkPath))
	if err != nil {
		return nil, fmt.Errorf("load network config: %w", err)
	}

	if v := envOr("CHAIN_RPC_URL", ""); v != "" {
		network.RPCURL = v
	}
	if v := envOr("REGISTRAR_CONTRACT", ""); v != "" {
		network.RegistrarContract = v
	}
	if v := envOr("EXPLORER_API_URL", ""); v != "" {
		network.ExplorerAPIURL = v
	}
	if v := envOr("EXPLORER_LINK_BASE", ""); v != "" {
		network.ExplorerLinkBase = v
	}

	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:      envOrInt("API_HTTP_PORT", 8080),
			AdminSecret:   envOr("ADMIN_HMAC_SECRET", ""),
			HMACClockSkew: time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			PostgresDSN:   envOr("DATABASE_URL", ""),
			DryRun:        envOrBool("DRY_RUN", false),
		},
		Chain: ChainConfig{
			Network:        *network,
			WalletSeed:     envOr("WALLET_SEED_HEX", ""),
			ExplorerAPIKey: envOr("EXPLORER_API_KEY", ""),
		},
		Social: SocialConfig{
			MasaBaseURL:       envOr("MASA_BASE_URL", ""),
			MasaAPIKey:        envOr("MASA_API_KEY", ""),
			CrosspostBaseURL:  envOr("CROSSPOST_BASE_URL", ""),
			CrosspostToken:    envOr("CROSSPOST_AUTH_TOKEN", ""),
			SearchCacheWindow: time.Duration(envOrInt("SEARCH_CACHE_SECONDS", 300)) * time.Second,
		},
		Engine: EngineConfig{
			MentionQuery:        envOr("MENTION_QUERY", "@basednames"),
			SearchLimit:         envOrInt("SEARCH_LIMIT", 100),
			SweepInterval:       time.Duration(envOrInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			DepositPollInterval: time.Duration(envOrInt("DEPOSIT_POLL_SECONDS", 5)) * time.Second,
			RefundPollInterval:  time.Duration(envOrInt("REFUND_POLL_SECONDS", 60)) * time.Second,
			MaxDepositAttempts:  envOrInt("MAX_DEPOSIT_ATTEMPTS", 720),
			RefundBuffer:        envOrWei("REFUND_BUFFER_WEI", big.NewInt(5000000000000)),
			InstructionWindow:   time.Duration(envOrInt("INSTRUCTION_WINDOW_MINUTES", 10)) * time.Minute,
			DedupeNames:         envOrBool("DEDUPE_NAMES", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Service.DryRun {
		return nil
	}
	if c.Chain.WalletSeed == "" {
		return fmt.Errorf("WALLET_SEED_HEX is required outside dry-run mode")
	}
	if c.Chain.Network.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required (network.json or CHAIN_RPC_URL)")
	}
	if c.Chain.Network.RegistrarContract == "" {
		return fmt.Errorf("registrar contract is required (network.json or REGISTRAR_CONTRACT)")
	}
	if c.Chain.Network.ExplorerAPIURL == "" {
		return fmt.Errorf("explorer api url is required (network.json or EXPLORER_API_URL)")
	}
	if c.Social.CrosspostBaseURL == "" || c.Social.CrosspostToken == "" {
		return fmt.Errorf("crosspost base url and auth token are required outside dry-run mode")
	}
	return nil
}

// loadNetwork reads the network file when present; a missing file leaves
// everything to the environment.
func loadNetwork(path string) (*NetworkConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &NetworkConfig{}, nil
		}
		return nil, err
	}
	var cfg NetworkConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val == "1" || val == "true" || val == "yes"
	}
	return fallback
}

func envOrWei(key string, fallback *big.Int) *big.Int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, ok := new(big.Int).SetString(val, 10); ok {
			return parsed
		}
	}
	return fallback
}
