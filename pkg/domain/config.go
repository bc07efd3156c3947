package domain

// Chunk costs per operation type. Values mirror the original system's
// accounting: a plain Transfer is cheap because it touches one known
// account pair, TransferToNew is costlier because it also writes a Create
// update, and FullExit is the most expensive because it clears a balance
// end-to-end.
const (
	ChunksDeposit       uint32 = 6
	ChunksFullExit      uint32 = 10
	ChunksTransfer      uint32 = 2
	ChunksTransferToNew uint32 = 5
	ChunksWithdraw      uint32 = 6
	ChunksChangePubKey  uint32 = 6
	ChunksClose         uint32 = 1
)

// Commit/verify gas costs per operation type: rough, implementation-chosen
// estimates of the on-chain cost of including (commit) and proving
// (verify) one instance of the operation, mirroring the chunk-cost table
// above. Exceeding either accumulated limit for a block forces a seal.
var (
	GasDeposit       = GasCounter{Commit: 50_000, Verify: 15_000}
	GasFullExit      = GasCounter{Commit: 80_000, Verify: 30_000}
	GasTransfer      = GasCounter{Commit: 12_000, Verify: 8_000}
	GasTransferToNew = GasCounter{Commit: 20_000, Verify: 12_000}
	GasWithdraw      = GasCounter{Commit: 45_000, Verify: 15_000}
	GasChangePubKey  = GasCounter{Commit: 30_000, Verify: 20_000}
	GasClose         = GasCounter{Commit: 5_000, Verify: 2_000}
)

// MaxWithdrawalsPerBlock is the hard cap on Withdraw transactions landed in
// a single block. Exceeding it forces a seal.
const MaxWithdrawalsPerBlock = 10

// Mini-block iteration ceilings: a block seals once its iteration count
// exceeds this many ExecuteMiniBlock calls worth of successful operations,
// tighter when any Withdraw in it requested fast processing.
const (
	MaxMiniblockIterations  = 12
	FastMiniblockIterations = 6
)

// Settlement sender defaults.
const (
	DefaultExpectedWaitBlocks = 30
	DefaultWaitConfirmations  = 1
	DefaultMaxTxsInFlight     = 1
	DefaultGasPriceBumpRatio  = 1.5
)

// BlockSizeConfig is the ascending list of supported block-size chunk
// counts a deployment is configured with. The largest entry seeds every
// fresh pending block's ChunksLeft; sealing picks the smallest entry that
// fits the chunks actually used.
type BlockSizeConfig []uint32

// DefaultBlockSizes is a representative ascending chunk-size ladder.
var DefaultBlockSizes = BlockSizeConfig{10, 32, 72, 156, 322, 630}

// Largest returns the configured capacity ceiling.
func (b BlockSizeConfig) Largest() uint32 {
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1]
}

// SmallestFitting returns the smallest configured size that is >= used, or
// the largest size if none fits (the caller is expected to never exceed
// the largest size, since that is every pending block's starting
// capacity).
func (b BlockSizeConfig) SmallestFitting(used uint32) uint32 {
	for _, size := range b {
		if size >= used {
			return size
		}
	}
	return b.Largest()
}
