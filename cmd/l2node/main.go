package main

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/matter-labs/zksync-sub002/pkg/committer"
	"github.com/matter-labs/zksync-sub002/pkg/crypto"
	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/hostchain"
	"github.com/matter-labs/zksync-sub002/pkg/keeper"
	"github.com/matter-labs/zksync-sub002/pkg/log"
	"github.com/matter-labs/zksync-sub002/pkg/metrics"
	"github.com/matter-labs/zksync-sub002/pkg/sender"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
	"github.com/matter-labs/zksync-sub002/pkg/tree"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "l2node",
	Short: "l2node runs a single-operator L2 rollup settlement node",
	Long: `l2node applies priority operations and transactions against an
account tree, forms and seals blocks under chunk and gas capacity, and
settles them to the host chain via commit/prove/execute transactions.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"l2node version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to node YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides config")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format, overrides config")
	rootCmd.PersistentFlags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectPendingBlockCmd)
	rootCmd.AddCommand(replayCmd)
}

func loadConfig(cmd *cobra.Command) (NodeConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		return cfg, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if json, _ := cmd.Flags().GetBool("log-json"); json {
		cfg.LogJSON = true
	}
	return cfg, nil
}

func initLogging(cfg NodeConfig) {
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

func operatorKey(cfg NodeConfig) (*ecdsa.PrivateKey, error) {
	if cfg.OperatorPrivateKey == "" {
		return nil, fmt.Errorf("operator_private_key is required")
	}
	key, err := gethcrypto.HexToECDSA(cfg.OperatorPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse operator private key: %w", err)
	}
	return key, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the state keeper, committer, and settlement sender",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cfg)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		com := committer.New(store, broker, 256)
		com.Start()
		defer com.Stop()

		hasher := crypto.NewKeccak256Hasher()
		verifier := crypto.NewECDSAVerifier(hasher)

		keeperCfg := keeper.Config{
			TreeDepth:               cfg.TreeDepth,
			BlockSizes:              domain.BlockSizeConfig(cfg.BlockSizes),
			FeeAccountID:            domain.AccountID(cfg.FeeAccountID),
			CommitGasLimit:          cfg.CommitGasLimit,
			VerifyGasLimit:          cfg.VerifyGasLimit,
			MaxMiniblockIterations:  domain.MaxMiniblockIterations,
			FastMiniblockIterations: domain.FastMiniblockIterations,
			RequestBuffer:           256,
		}
		k, err := keeper.New(keeperCfg, store, broker, hasher, verifier, com.Requests())
		if err != nil {
			return fmt.Errorf("create state keeper: %w", err)
		}
		k.Start()
		defer k.Stop()

		key, err := operatorKey(cfg)
		if err != nil {
			return err
		}
		client, err := hostchain.Dial(cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("dial host chain: %w", err)
		}
		defer client.Close()

		builder := hostchain.NewTxBuilder(
			big.NewInt(cfg.ChainID),
			common.HexToAddress(cfg.ContractAddress),
			key,
		)

		senderCfg := sender.Config{
			MaxTxsInFlight:     cfg.MaxTxsInFlight,
			ExpectedWaitBlocks: cfg.ExpectedWaitBlocks,
			WaitConfirmations:  cfg.WaitConfirmations,
			GasBumpRatio:       cfg.GasBumpRatio,
			MaxGasPriceWei:     cfg.maxGasPriceWei(),
			CommitGasLimit:     cfg.CommitGasLimit,
			VerifyGasLimit:     cfg.VerifyGasLimit,
			PollInterval:       cfg.pollInterval(),
			RPCTimeout:         cfg.rpcTimeout(),
		}
		snd, err := sender.New(senderCfg, store, client, builder, broker)
		if err != nil {
			return fmt.Errorf("create settlement sender: %w", err)
		}
		snd.Start()
		defer snd.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("keeper", true, "ready")
		metrics.RegisterComponent("committer", true, "ready")
		metrics.RegisterComponent("sender", true, "ready")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
		if pprofEnabled {
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}

		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("l2node serving. metrics: http://%s/metrics  health: http://%s/health\n", cfg.MetricsAddr, cfg.MetricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("shutting down...")
		return nil
	},
}

var inspectPendingBlockCmd = &cobra.Command{
	Use:   "inspect-pending-block",
	Short: "Print the currently persisted in-flight pending block",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		pb, err := store.LoadPendingBlock()
		if err != nil {
			return fmt.Errorf("load pending block: %w", err)
		}
		if pb == nil {
			fmt.Println("no pending block persisted")
			return nil
		}
		fmt.Printf("pending block %d\n", pb.Number)
		fmt.Printf("  iteration:      %d\n", pb.Iteration)
		fmt.Printf("  chunks left:    %d\n", pb.ChunksLeft)
		fmt.Printf("  success ops:    %d\n", len(pb.SuccessOps))
		fmt.Printf("  failed txs:     %d\n", len(pb.FailedTxs))
		fmt.Printf("  commit gas:     %d\n", pb.GasCounter.Commit)
		fmt.Printf("  verify gas:     %d\n", pb.GasCounter.Verify)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild and print the account tree root hash from durable storage",
	Long: `replay reconstructs the account tree from the accounts bucket
exactly as the state keeper does on restart, and prints the resulting
root hash and last sealed block number without starting any driver loop.
Useful for auditing a data directory without risking a live mutation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		hasher := crypto.NewKeccak256Hasher()
		t := tree.New(cfg.TreeDepth, hasher)

		accounts, err := store.ListAccounts()
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		for id, acc := range accounts {
			if err := t.Insert(id, acc); err != nil {
				return fmt.Errorf("insert account %d: %w", id, err)
			}
		}

		lastSealed, err := store.LastSealedBlockNumber()
		if err != nil {
			return fmt.Errorf("last sealed block number: %w", err)
		}

		fmt.Printf("accounts:            %d\n", len(accounts))
		fmt.Printf("last sealed block:   %d\n", lastSealed)
		fmt.Printf("root hash:           %x\n", t.RootHash())
		return nil
	},
}
