package sender

import (
	"math/big"
	"time"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

// Config holds the settlement sender's pipelining, gas, and confirmation
// policy. Every field is operator-set node configuration.
type Config struct {
	// MaxTxsInFlight bounds the number of unconfirmed ETHOperations across
	// all action types at once: one shared budget, not one per type.
	MaxTxsInFlight int

	// ExpectedWaitBlocks is how many host-chain blocks a freshly broadcast
	// tx is given before it is classified Stuck.
	ExpectedWaitBlocks uint64

	// WaitConfirmations is how many confirmations a mined tx needs before
	// it is classified Committed/Failed rather than left Pending.
	WaitConfirmations uint64

	// GasBumpRatio is the multiplier applied to the last used gas price
	// when a Stuck tx is resent.
	GasBumpRatio float64

	// MaxGasPriceWei clamps the gas-bump policy's output.
	MaxGasPriceWei *big.Int

	// CommitGasLimit/VerifyGasLimit size the gas limit given to Commit and
	// Execute actions vs. PublishProof actions respectively, mirroring the
	// state keeper's own CommitGasLimit/VerifyGasLimit.
	CommitGasLimit uint64
	VerifyGasLimit uint64

	// PollInterval is the settlement sender's driver-loop tick.
	PollInterval time.Duration

	// RPCTimeout is the deadline for one broadcast of a new action or one
	// poll cycle over the in-flight operations; all RPC calls made within
	// that broadcast or cycle share it, so it does not bound each call
	// separately. A timeout is treated as Pending and retried next tick.
	RPCTimeout time.Duration
}

// DefaultConfig returns sender defaults drawn from pkg/domain's protocol
// constants.
func DefaultConfig() Config {
	return Config{
		MaxTxsInFlight:     domain.DefaultMaxTxsInFlight,
		ExpectedWaitBlocks: domain.DefaultExpectedWaitBlocks,
		WaitConfirmations:  domain.DefaultWaitConfirmations,
		GasBumpRatio:       domain.DefaultGasPriceBumpRatio,
		MaxGasPriceWei:     big.NewInt(500_000_000_000), // 500 gwei
		CommitGasLimit:     15_000_000,
		VerifyGasLimit:     8_000_000,
		PollInterval:       5 * time.Second,
		RPCTimeout:         10 * time.Second,
	}
}
