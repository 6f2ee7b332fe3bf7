package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Transaction is the subset of a transaction needed for deployer resolution.
type Transaction struct {
	Hash  common.Hash
	From  common.Address
	To    *common.Address
	Input []byte
}

// rpcTransaction is decoded from eth_getTransactionByHash directly so that
// chain-specific transaction types (e.g. L2 deposits) do not fail to decode.
type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// Options tunes the client's local rate limiting.
type Options struct {
	RPS   float64
	Burst int
}

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *Limiter
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		limiter:   NewLimiter(opts.RPS, opts.Burst),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	number, err := c.ethClient.BlockNumber(ctx)
	RecordRPCCall("eth_blockNumber", err)
	return number, err
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.ethClient.FilterLogs(ctx, query)
	RecordRPCCall("eth_getLogs", err)
	return logs, err
}

// TransactionByHash returns the transaction or nil if the node does not know it.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var raw *rpcTransaction
	err := c.rpcClient.CallContext(ctx, &raw, "eth_getTransactionByHash", hash)
	RecordRPCCall("eth_getTransactionByHash", err)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return &Transaction{
		Hash:  raw.Hash,
		From:  raw.From,
		To:    raw.To,
		Input: raw.Input,
	}, nil
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	RecordRPCCall("eth_call", err)
	return out, err
}
