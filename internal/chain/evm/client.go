package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentVault/internal/chain"
)

// Backend 是客户端所需的节点方法子集，*ethclient.Client 与模拟链客户端均满足。
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config 描述 EVM 兼容节点的连接方式。
type Config struct {
	Name       string
	RPCURL     string
	HTTPClient *http.Client
	// ChainID 非空时必须与节点返回的一致。
	ChainID *big.Int
}

// Client 为 EVM 兼容链实现 chain.RPC。
type Client struct {
	name      string
	backend   Backend
	rpcClient *gethrpc.Client

	mu      sync.Mutex
	chainID *big.Int
}

// Dial 连接 cfg.RPCURL。
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("evm rpc url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rpcClient, err := gethrpc.DialOptions(ctx, rpcURL, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc %s: %w", cfg.Name, err)
	}
	client := NewClient(cfg.Name, ethclient.NewClient(rpcClient), cfg.ChainID)
	client.rpcClient = rpcClient
	return client, nil
}

// NewClient 包装已有的后端，例如测试中的模拟链。
func NewClient(name string, backend Backend, chainID *big.Int) *Client {
	c := &Client{name: name, backend: backend}
	if chainID != nil {
		c.chainID = new(big.Int).Set(chainID)
	}
	return c
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reported, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth_chainId: %w", err)
	}
	if c.chainID != nil && c.chainID.Cmp(reported) != 0 {
		return nil, fmt.Errorf("chain %s reports id %s, configured %s", c.name, reported, c.chainID)
	}
	if c.chainID == nil {
		c.chainID = new(big.Int).Set(reported)
	}
	return new(big.Int).Set(c.chainID), nil
}

// RecencyMarker 返回 from 的待定 nonce，以及由最新区块头推导的费用上限：
// feeCap = 2*baseFee + tip。
func (c *Client) RecencyMarker(ctx context.Context, from string) (chain.Marker, error) {
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return chain.Marker{}, err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, common.HexToAddress(from))
	if err != nil {
		return chain.Marker{}, fmt.Errorf("eth_getTransactionCount: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return chain.Marker{}, fmt.Errorf("eth_getBlockByNumber: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return chain.Marker{}, fmt.Errorf("eth_maxPriorityFeePerGas: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	return chain.Marker{
		Reference: head.Hash().Hex(),
		Height:    head.Number.Uint64(),
		Nonce:     nonce,
		ChainID:   chainID,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		GasLimit:  TransferGas,
	}, nil
}

// Simulate 为转账估算 gas。执行失败或收款方所需 gas 超过普通转账时
// 返回 *chain.SimulationError。
func (c *Client) Simulate(ctx context.Context, tx *chain.UnsignedTx) error {
	to := common.HexToAddress(tx.To)
	call := gethcore.CallMsg{
		From:      common.HexToAddress(tx.From),
		To:        &to,
		Value:     tx.Amount,
		GasFeeCap: tx.Marker.GasFeeCap,
		GasTipCap: tx.Marker.GasTipCap,
	}
	gas, err := c.backend.EstimateGas(ctx, call)
	if err != nil {
		if isTransportError(ctx, err) {
			return fmt.Errorf("eth_estimateGas: %w", err)
		}
		return &chain.SimulationError{Reason: err.Error()}
	}
	if limit := tx.Marker.GasLimit; limit > 0 && gas > limit {
		return &chain.SimulationError{Reason: fmt.Sprintf("transfer needs %d gas, limit is %d", gas, limit)}
	}
	return nil
}

func isTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr gethrpc.HTTPError
	return errors.As(err, &httpErr)
}

// Submit 广播已签名交易并返回交易哈希。
func (c *Client) Submit(ctx context.Context, tx *chain.SignedTx) (string, error) {
	decoded := new(types.Transaction)
	if err := decoded.UnmarshalBinary(tx.Raw); err != nil {
		return "", fmt.Errorf("decode signed transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, decoded); err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return decoded.Hash().Hex(), nil
}

// Balance 返回地址在最新区块的 wei 余额。
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance: %w", err)
	}
	return balance, nil
}

// Close 释放客户端持有的网络连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}
