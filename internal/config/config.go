package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ChainConfig models chain.json: the network and token parameters.
type ChainConfig struct {
	ChainID int64  `json:"chainId"`
	RPCURL  string `json:"rpcUrl"`
	Token   struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int    `json:"decimals"`
	} `json:"token"`
	Account string `json:"account"`
}

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		Token     string `json:"Token"`
		TokenBank string `json:"TokenBank"`
	} `json:"contracts"`
}

// ServiceConfig holds runtime knobs resolved from the environment.
type ServiceConfig struct {
	HTTPPort         int
	HMACSecret       string
	HMACClockSkew    time.Duration
	HistoryStorePath string
	DatabaseURL      string
	HistoryLimit     int
}

// AppConfig ties together chain + deployment info and derived values.
type AppConfig struct {
	Chain      ChainConfig
	Deployment DeploymentConfig
	Service    ServiceConfig
	PrivateKey string
}

const (
	defaultChainPath       = "../chain.json"
	defaultDeploymentsPath = "../deployments.json"
)

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	chainPath := envOr("CHAIN_PATH", defaultChainPath)
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	chainCfg, err := loadJSON[ChainConfig](chainPath)
	if err != nil {
		return nil, fmt.Errorf("load chain config: %w", err)
	}
	deployCfg, err := loadJSON[DeploymentConfig](deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	if deployCfg.ChainID != 0 && chainCfg.ChainID != 0 && deployCfg.ChainID != chainCfg.ChainID {
		return nil, fmt.Errorf("chain id mismatch: chain.json has %d, deployments.json has %d",
			chainCfg.ChainID, deployCfg.ChainID)
	}

	chainCfg.RPCURL = envOr("CHAIN_RPC_URL", chainCfg.RPCURL)
	chainCfg.Account = envOr("ACCOUNT_ADDRESS", chainCfg.Account)

	serviceCfg := ServiceConfig{
		HTTPPort:         envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:       envOr("API_HMAC_SECRET", ""),
		HMACClockSkew:    time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		HistoryStorePath: envOr("HISTORY_STORE_PATH", filepath.Join(os.TempDir(), "tokenbank-history.json")),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		HistoryLimit:     envOrInt("HISTORY_LIMIT", 50),
	}

	return &AppConfig{
		Chain:      *chainCfg,
		Deployment: *deployCfg,
		Service:    serviceCfg,
		PrivateKey: envOr("CHAIN_PRIVATE_KEY", ""),
	}, nil
}

func loadJSON[T any](path string) (*T, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg T
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
