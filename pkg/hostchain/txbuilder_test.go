package hostchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

func TestTxBuilderBuildSignsWithCorrectNonceAndPayload(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	contract := common.HexToAddress("0x00000000000000000000000000000000000042")
	builder := NewTxBuilder(big.NewInt(1), contract, key)

	action := domain.AggregatedAction{
		ID:         1,
		ActionType: domain.ActionCommit,
		BlockFrom:  10,
		BlockTo:    10,
		Payload:    []byte{0xde, 0xad, 0xbe, 0xef},
	}

	tx, err := builder.Build(action, 7, big.NewInt(1_000_000_000), 15_000_000)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, action.Payload, tx.Data())
	assert.Equal(t, contract, *tx.To())
	assert.Equal(t, builder.OperatorAddress(), gethcrypto.PubkeyToAddress(key.PublicKey))
}

func TestGasLimitForRoutesProofActionsToVerifyLimit(t *testing.T) {
	assert.Equal(t, uint64(8_000_000), GasLimitFor(domain.ActionPublishProof, 15_000_000, 8_000_000))
	assert.Equal(t, uint64(15_000_000), GasLimitFor(domain.ActionCommit, 15_000_000, 8_000_000))
	assert.Equal(t, uint64(15_000_000), GasLimitFor(domain.ActionExecute, 15_000_000, 8_000_000))
}
