package domain

import "math/big"

// PriorityOpKind tags which variant of PriorityOp is populated.
type PriorityOpKind int

const (
	PriorityOpDeposit PriorityOpKind = iota
	PriorityOpFullExit
)

// DepositOp credits amount of token to an account for to_address, debited
// from the host chain's bridge contract by the address that originated it.
type DepositOp struct {
	From      [20]byte
	ToAddress [20]byte
	Token     TokenID
	Amount    *big.Int
}

// Chunks reports the block-capacity cost of a deposit.
func (DepositOp) Chunks() uint32 { return ChunksDeposit }

// GasCost reports the estimated commit/verify gas cost of a deposit.
func (DepositOp) GasCost() GasCounter { return GasDeposit }

// FullExitOp withdraws the entire balance of token from an already-known
// account, originated by the account's own address on the host chain.
type FullExitOp struct {
	AccountID AccountID
	Address   [20]byte
	Token     TokenID
}

// Chunks reports the block-capacity cost of a full exit.
func (FullExitOp) Chunks() uint32 { return ChunksFullExit }

// GasCost reports the estimated commit/verify gas cost of a full exit.
func (FullExitOp) GasCost() GasCounter { return GasFullExit }

// PriorityOp is a tagged union of the two priority-operation variants.
// Exactly one of Deposit/FullExit is non-nil, selected by Kind.
type PriorityOp struct {
	SerialID uint64
	Kind     PriorityOpKind
	Deposit  *DepositOp
	FullExit *FullExitOp
}

// Chunks reports the block-capacity cost of the populated variant.
func (p PriorityOp) Chunks() uint32 {
	switch p.Kind {
	case PriorityOpDeposit:
		return p.Deposit.Chunks()
	case PriorityOpFullExit:
		return p.FullExit.Chunks()
	default:
		return 0
	}
}

// GasCost reports the estimated commit/verify gas cost of the populated
// variant.
func (p PriorityOp) GasCost() GasCounter {
	switch p.Kind {
	case PriorityOpDeposit:
		return p.Deposit.GasCost()
	case PriorityOpFullExit:
		return p.FullExit.GasCost()
	default:
		return GasCounter{}
	}
}

// TxKind tags which variant of Tx is populated.
type TxKind int

const (
	TxTransfer TxKind = iota
	TxWithdraw
	TxChangePubKey
	TxClose
)

// TransferTx moves amount of token from the signing account to to. When to
// has no existing account the transfer is a TransferToNew and costs more
// chunks, reflected by ChunksTransferToNew below.
type TransferTx struct {
	To     [20]byte
	Token  TokenID
	Amount *big.Int
}

// WithdrawTx burns amount of token from the signing account's L2 balance
// for release to To on the host chain. Fast, if set, makes the state keeper
// mark the owning block fast_processing_required.
type WithdrawTx struct {
	To     [20]byte
	Token  TokenID
	Amount *big.Int
	Fast   bool
}

// ChangePubKeyTx rotates the signing account's spending-key fingerprint.
type ChangePubKeyTx struct {
	NewPubKeyHash PubKeyHash
}

// CloseTx is the disabled account-closing operation: always rejected by
// apply_tx, kept only so the wire format and chunk accounting match the
// original four-variant transaction union.
type CloseTx struct{}

// Tx is a tagged union of the four transaction variants, each carrying the
// account/nonce/fee/signature envelope common to all signed transactions.
type Tx struct {
	AccountID AccountID
	Nonce     uint32
	Fee       *big.Int
	Signature []byte

	Kind         TxKind
	Transfer     *TransferTx
	Withdraw     *WithdrawTx
	ChangePubKey *ChangePubKeyTx
	Close        *CloseTx
}

// Chunks reports the block-capacity cost of the populated variant.
// toAddressExists must report whether Transfer's destination already has an
// account, since that changes a Transfer's cost between ChunksTransfer and
// ChunksTransferToNew.
func (t Tx) Chunks(toAddressExists bool) uint32 {
	switch t.Kind {
	case TxTransfer:
		if toAddressExists {
			return ChunksTransfer
		}
		return ChunksTransferToNew
	case TxWithdraw:
		return ChunksWithdraw
	case TxChangePubKey:
		return ChunksChangePubKey
	case TxClose:
		return ChunksClose
	default:
		return 0
	}
}

// IsWithdraw reports whether the tx is a Withdraw, for withdrawal-limit
// accounting.
func (t Tx) IsWithdraw() bool { return t.Kind == TxWithdraw }

// GasCost reports the estimated commit/verify gas cost of the populated
// variant. toAddressExists has the same meaning as in Chunks.
func (t Tx) GasCost(toAddressExists bool) GasCounter {
	switch t.Kind {
	case TxTransfer:
		if toAddressExists {
			return GasTransfer
		}
		return GasTransferToNew
	case TxWithdraw:
		return GasWithdraw
	case TxChangePubKey:
		return GasChangePubKey
	case TxClose:
		return GasClose
	default:
		return GasCounter{}
	}
}

// SignedTx is a Tx as handed to the state keeper by the mempool, its
// signature carried in Tx.Signature.
type SignedTx struct {
	Tx Tx
}

// TxUnit is a single admission unit inside a ProposedBlock: either one
// signed tx, or a batch of signed txs that must succeed or roll back
// together.
type TxUnit struct {
	Single *SignedTx
	Batch  []SignedTx
}

// ProposedBlock is what the mempool feeds ExecuteMiniBlock: priority ops in
// host-chain order, followed by transactions/batches in submission order.
type ProposedBlock struct {
	PriorityOps []PriorityOp
	TxUnits     []TxUnit
}
