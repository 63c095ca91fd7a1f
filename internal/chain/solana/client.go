package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentVault/internal/chain"
)

// Config 描述 Solana JSON-RPC 端点。
type Config struct {
	Name       string
	RPCURL     string
	Commitment string
	HTTPClient *http.Client
}

// Client 基于 Solana JSON-RPC API 实现 chain.RPC。传输层复用 go-ethereum 的
// JSON-RPC 2.0 客户端，两者报文格式一致。
type Client struct {
	name       string
	commitment string
	rpc        *gethrpc.Client
}

// Dial 为 cfg.RPCURL 创建客户端。HTTP 端点在首次调用前不会建立连接。
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.RPCURL)
	if url == "" {
		return nil, errors.New("solana rpc url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rpcClient, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial solana rpc %s: %w", cfg.Name, err)
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{name: cfg.Name, commitment: commitment, rpc: rpcClient}, nil
}

type rpcContext struct {
	Slot uint64 `json:"slot"`
}

type blockhashResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

type balanceResult struct {
	Context rpcContext `json:"context"`
	Value   uint64     `json:"value"`
}

type simulateResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	} `json:"value"`
}

// RecencyMarker 获取最新的 blockhash。
func (c *Client) RecencyMarker(ctx context.Context, _ string) (chain.Marker, error) {
	var res blockhashResult
	err := c.rpc.CallContext(ctx, &res, "getLatestBlockhash", map[string]any{"commitment": c.commitment})
	if err != nil {
		return chain.Marker{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if res.Value.Blockhash == "" {
		return chain.Marker{}, errors.New("getLatestBlockhash: empty blockhash")
	}
	return chain.Marker{
		Reference:       res.Value.Blockhash,
		Height:          res.Context.Slot,
		LastValidHeight: res.Value.LastValidBlockHeight,
	}, nil
}

// Simulate 在不校验签名的情况下预执行转账。
func (c *Client) Simulate(ctx context.Context, tx *chain.UnsignedTx) error {
	encoded := base64.StdEncoding.EncodeToString(unsignedTransaction(tx.Payload))
	var res simulateResult
	err := c.rpc.CallContext(ctx, &res, "simulateTransaction", encoded, map[string]any{
		"encoding":   "base64",
		"sigVerify":  false,
		"commitment": c.commitment,
	})
	if err != nil {
		return fmt.Errorf("simulateTransaction: %w", err)
	}
	if reason := simulationReason(res.Value.Err); reason != "" {
		return &chain.SimulationError{Reason: reason, Logs: res.Value.Logs}
	}
	return nil
}

func simulationReason(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}

// Submit 广播已签名交易。
func (c *Client) Submit(ctx context.Context, tx *chain.SignedTx) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Raw)
	var signature string
	err := c.rpc.CallContext(ctx, &signature, "sendTransaction", encoded, map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	if signature == "" {
		signature = tx.ID
	}
	return signature, nil
}

// Balance 返回地址的 lamport 余额。
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var res balanceResult
	err := c.rpc.CallContext(ctx, &res, "getBalance", address, map[string]any{"commitment": c.commitment})
	if err != nil {
		return nil, fmt.Errorf("getBalance: %w", err)
	}
	return new(big.Int).SetUint64(res.Value), nil
}

// Close 释放传输层。
func (c *Client) Close() {
	if c != nil && c.rpc != nil {
		c.rpc.Close()
	}
}
