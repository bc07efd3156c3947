package hostchain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

// TxBuilder signs the commit/prove/execute action payloads into
// host-chain transactions addressed to the settlement
// contract. The payload bytes themselves are opaque as far as
// this package and the sender are concerned; only the committer's
// encoding and the settlement contract's decoding need to agree on them.
type TxBuilder struct {
	chainID  *big.Int
	contract common.Address
	signer   types.Signer
	key      *ecdsa.PrivateKey
}

// NewTxBuilder returns a TxBuilder that signs transactions to contract on
// chainID with the operator key.
func NewTxBuilder(chainID *big.Int, contract common.Address, key *ecdsa.PrivateKey) *TxBuilder {
	return &TxBuilder{
		chainID:  chainID,
		contract: contract,
		signer:   types.LatestSignerForChainID(chainID),
		key:      key,
	}
}

// GasLimitFor returns the gas limit a sealed block's commit/verify estimate
// implies for the given action type, used by the sender so it need not
// special-case action types itself.
func GasLimitFor(action domain.ActionType, commitGasLimit, verifyGasLimit uint64) uint64 {
	switch action {
	case domain.ActionPublishProof:
		return verifyGasLimit
	default:
		return commitGasLimit
	}
}

// Build signs a transaction carrying action's payload as calldata, at
// nonce and gasPrice, with the given gas limit. Reusing the same nonce
// across calls (the gas-bump policy's "identical semantic payload, higher
// gas price" resend) is the caller's responsibility.
func (b *TxBuilder) Build(action domain.AggregatedAction, nonce uint64, gasPrice *big.Int, gasLimit uint64) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.contract,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     action.Payload,
	})
	signed, err := types.SignTx(tx, b.signer, b.key)
	if err != nil {
		return nil, fmt.Errorf("hostchain: sign %s tx for block range [%d,%d]: %w", action.ActionType, action.BlockFrom, action.BlockTo, err)
	}
	return signed, nil
}

// OperatorAddress returns the address transactions are signed from.
func (b *TxBuilder) OperatorAddress() common.Address {
	return gethcrypto.PubkeyToAddress(b.key.PublicKey)
}
