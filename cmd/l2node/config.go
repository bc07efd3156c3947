package main

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

// NodeConfig is the on-disk node configuration: one YAML file covering
// every subsystem.
type NodeConfig struct {
	DataDir string `yaml:"data_dir"`

	TreeDepth      int      `yaml:"tree_depth"`
	BlockSizes     []uint32 `yaml:"block_sizes"`
	FeeAccountID   uint32   `yaml:"fee_account_id"`
	CommitGasLimit uint64   `yaml:"commit_gas_limit"`
	VerifyGasLimit uint64   `yaml:"verify_gas_limit"`

	RPCEndpoint        string  `yaml:"rpc_endpoint"`
	ChainID            int64   `yaml:"chain_id"`
	ContractAddress    string  `yaml:"contract_address"`
	OperatorPrivateKey string  `yaml:"operator_private_key"`
	MaxTxsInFlight     int     `yaml:"max_txs_in_flight"`
	ExpectedWaitBlocks uint64  `yaml:"expected_wait_blocks"`
	WaitConfirmations  uint64  `yaml:"wait_confirmations"`
	GasBumpRatio       float64 `yaml:"gas_bump_ratio"`
	MaxGasPriceGwei    int64   `yaml:"max_gas_price_gwei"`
	PollIntervalMs     int64   `yaml:"poll_interval_ms"`
	RPCTimeoutMs       int64   `yaml:"rpc_timeout_ms"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
}

// DefaultNodeConfig returns a runnable single-operator configuration; every
// field here can be overridden by the on-disk YAML file.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		DataDir:            "./l2node-data",
		TreeDepth:          24,
		BlockSizes:         domain.DefaultBlockSizes,
		FeeAccountID:       0,
		CommitGasLimit:     15_000_000,
		VerifyGasLimit:     8_000_000,
		RPCEndpoint:        "http://127.0.0.1:8545",
		ChainID:            1,
		MaxTxsInFlight:     domain.DefaultMaxTxsInFlight,
		ExpectedWaitBlocks: domain.DefaultExpectedWaitBlocks,
		WaitConfirmations:  domain.DefaultWaitConfirmations,
		GasBumpRatio:       domain.DefaultGasPriceBumpRatio,
		MaxGasPriceGwei:    500,
		PollIntervalMs:     5000,
		RPCTimeoutMs:       10000,
		MetricsAddr:        "127.0.0.1:9090",
		LogLevel:           "info",
	}
}

// LoadNodeConfig reads and merges a YAML config file over the defaults. An
// empty path returns the defaults unchanged.
func LoadNodeConfig(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c NodeConfig) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c NodeConfig) rpcTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

func (c NodeConfig) maxGasPriceWei() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.MaxGasPriceGwei), big.NewInt(1_000_000_000))
}
