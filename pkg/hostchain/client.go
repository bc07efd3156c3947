// Package hostchain wraps the host-chain JSON-RPC surface the settlement
// sender needs: eth_sendRawTransaction, eth_getTransactionReceipt,
// eth_blockNumber, eth_gasPrice. The sender treats everything it sends as
// an opaque byte payload supplied by the committer; this package's only
// job is getting those bytes onto the chain and reporting back on them.
package hostchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the host-chain surface the settlement sender depends on. It is
// an interface, not a concrete *ethclient.Client, so tests can substitute a
// fake chain without a live RPC endpoint.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// PendingNonceAt sits outside the four calls above but is the only way to
	// bootstrap nonce sequencing for the operator account on a completely
	// fresh node (one with no persisted ETHOperation to read a nonce from).
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// EthClient is the default Client, backed by go-ethereum's ethclient over
// a JSON-RPC connection to the host chain node.
type EthClient struct {
	rpc *ethclient.Client
}

// Dial connects to the host chain's JSON-RPC endpoint at url.
func Dial(url string) (*EthClient, error) {
	rpc, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("hostchain: dial %s: %w", url, err)
	}
	return &EthClient{rpc: rpc}, nil
}

// BlockNumber implements Client via eth_blockNumber.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("hostchain: block number: %w", err)
	}
	return n, nil
}

// SuggestGasPrice implements Client via eth_gasPrice.
func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("hostchain: suggest gas price: %w", err)
	}
	return price, nil
}

// SendTransaction implements Client via eth_sendRawTransaction.
func (c *EthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.rpc.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("hostchain: send transaction %s: %w", tx.Hash(), err)
	}
	return nil
}

// TransactionReceipt implements Client via eth_getTransactionReceipt. A nil
// receipt with a nil error means the transaction has not been mined yet;
// callers must check both, the same convention ethclient itself uses.
func (c *EthClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("hostchain: transaction receipt %s: %w", hash, err)
	}
	return receipt, nil
}

// PendingNonceAt implements Client via eth_getTransactionCount at the
// "pending" tag.
func (c *EthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n, err := c.rpc.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("hostchain: pending nonce for %s: %w", account, err)
	}
	return n, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.rpc.Close()
}
