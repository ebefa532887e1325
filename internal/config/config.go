// Package config loads the oracle's TOML configuration file, resolving
// "$ENV_VAR"-prefixed string values against the process environment on a
// per-field basis.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/graphprotocol/block-oracle-go/internal/caip2"
)

// ProtocolChain describes the chain hosting the oracle contract and epoch
// manager.
type ProtocolChain struct {
	Name                     string `toml:"name"`
	JRPC                     string `toml:"jrpc"`
	PollingIntervalInSeconds int    `toml:"polling_interval_in_seconds"`
}

// TransactionMonitoring carries the confirmation/retry knobs for C9.
type TransactionMonitoring struct {
	TimeoutInSeconds      int      `toml:"timeout_in_seconds"`
	MaxRetries            int      `toml:"max_retries"`
	GasPercentualIncrease uint64   `toml:"gas_percentual_increase"`
	PollIntervalInSeconds int      `toml:"poll_interval_in_seconds"`
	Confirmations         uint64   `toml:"confirmations"`
	GasLimit              uint64   `toml:"gas_limit"`
	MaxFeePerGas          *uint64  `toml:"max_fee_per_gas"`
	MaxPriorityFeePerGas  *uint64  `toml:"max_priority_fee_per_gas"`
}

// Config is the fully parsed and $ENV-resolved configuration file.
type Config struct {
	OwnerAddress        string `toml:"owner_address"`
	OwnerPrivateKey     string `toml:"owner_private_key"`
	DataEdgeAddress     string `toml:"data_edge_address"`
	EpochManagerAddress string `toml:"epoch_manager_address"`

	SubgraphURL string `toml:"subgraph_url"`
	BearerToken string `toml:"bearer_token"`

	// BlockmetaIndexedChains maps a subset of IndexedChains' keys to a
	// StreamingFast Blockmeta gRPC endpoint, used as a fallback block
	// source when the chain's JSON-RPC endpoint fails to report a latest
	// block (see internal/blockmeta).
	BlockmetaIndexedChains map[string]string `toml:"blockmeta_indexed_chains"`
	BlockmetaAuthToken     string            `toml:"blockmeta_auth_token"`

	FreshnessThreshold                 uint64 `toml:"freshness_threshold"`
	Web3TransportRetryMaxWaitInSeconds int    `toml:"web3_transport_retry_max_wait_time_in_seconds"`

	ProtocolChain ProtocolChain `toml:"protocol_chain"`

	IndexedChains map[string]string `toml:"indexed_chains"`

	MetricsPort int `toml:"metrics_port"`

	LogLevel string `toml:"log_level"`

	TransactionMonitoring TransactionMonitoring `toml:"transaction_monitoring"`
}

// defaults mirror spec.md §6's documented defaults.
func defaults() Config {
	return Config{
		FreshnessThreshold:                 10,
		Web3TransportRetryMaxWaitInSeconds: 60,
		ProtocolChain: ProtocolChain{
			PollingIntervalInSeconds: 120,
		},
		MetricsPort: 9090,
		LogLevel:    "info",
		TransactionMonitoring: TransactionMonitoring{
			TimeoutInSeconds:      120,
			MaxRetries:            10,
			GasPercentualIncrease: 50,
			PollIntervalInSeconds: 5,
			Confirmations:         2,
			GasLimit:              100_000,
		},
	}
}

// Load reads and parses the TOML file at path, applying defaults and
// resolving every "$ENV"-style field against the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaults()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var resolveErr error
	resolve := func(field string, value string) string {
		resolved, err := resolveEnv(value)
		if err != nil {
			resolveErr = fmt.Errorf("config: field %s: %w", field, err)
		}
		return resolved
	}

	cfg.OwnerPrivateKey = resolve("owner_private_key", cfg.OwnerPrivateKey)
	cfg.DataEdgeAddress = resolve("data_edge_address", cfg.DataEdgeAddress)
	cfg.EpochManagerAddress = resolve("epoch_manager_address", cfg.EpochManagerAddress)
	cfg.SubgraphURL = resolve("subgraph_url", cfg.SubgraphURL)
	cfg.BearerToken = resolve("bearer_token", cfg.BearerToken)
	cfg.BlockmetaAuthToken = resolve("blockmeta_auth_token", cfg.BlockmetaAuthToken)
	for chainID, url := range cfg.IndexedChains {
		cfg.IndexedChains[chainID] = resolve("indexed_chains."+chainID, url)
	}
	for chainID, url := range cfg.BlockmetaIndexedChains {
		cfg.BlockmetaIndexedChains[chainID] = resolve("blockmeta_indexed_chains."+chainID, url)
	}
	if resolveErr != nil {
		return nil, resolveErr
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// resolveEnv resolves a "$VAR"-prefixed value from the environment,
// returning the value unchanged if it does not start with "$". An unset
// environment variable is an error, matching the original's
// EitherLiteralOrEnvVar semantics (a configured-but-unset env var is a
// misconfiguration, not a silent empty string); a variable that is set to
// the empty string resolves to "".
func resolveEnv(value string) (string, error) {
	if !strings.HasPrefix(value, "$") {
		return value, nil
	}
	name := strings.TrimPrefix(value, "$")
	resolved, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return resolved, nil
}

func validate(cfg *Config) error {
	if cfg.OwnerAddress == "" {
		return fmt.Errorf("config: owner_address is required")
	}
	if cfg.SubgraphURL == "" {
		return fmt.Errorf("config: subgraph_url is required")
	}
	for chainID := range cfg.IndexedChains {
		if _, err := caip2.Parse(chainID); err != nil {
			return fmt.Errorf("config: indexed_chains key %q: %w", chainID, err)
		}
	}
	for chainID := range cfg.BlockmetaIndexedChains {
		if _, err := caip2.Parse(chainID); err != nil {
			return fmt.Errorf("config: blockmeta_indexed_chains key %q: %w", chainID, err)
		}
		if _, ok := cfg.IndexedChains[chainID]; !ok {
			return fmt.Errorf("config: blockmeta_indexed_chains key %q has no matching indexed_chains entry", chainID)
		}
	}
	return nil
}

// PollingInterval returns the protocol chain's polling interval as a
// time.Duration.
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.ProtocolChain.PollingIntervalInSeconds) * time.Second
}
