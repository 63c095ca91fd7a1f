// Package evm 实现 EVM 链族：secp256k1 密钥、带校验和的十六进制地址，
// 以及 EIP-1559 原生币转账。
package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentVault/internal/chain"
	"AgentVault/internal/secret"
)

const (
	Decimals = 18
	Symbol   = "ETH"
	// TransferGas 是普通转账的固有 gas。
	TransferGas uint64 = 21_000

	privateKeySize = 32
	maxKeyAttempts = 8
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Scheme 为 EVM 网络实现 chain.Scheme。
type Scheme struct {
	symbol string
}

// NewScheme 返回 EVM 方案，symbol 为空时默认 ETH。
func NewScheme(symbol string) Scheme {
	if strings.TrimSpace(symbol) == "" {
		symbol = Symbol
	}
	return Scheme{symbol: symbol}
}

func (Scheme) Family() chain.Family { return chain.FamilyEVM }
func (s Scheme) Symbol() string     { return s.symbol }
func (Scheme) Decimals() int        { return Decimals }

// GenerateKey 从 entropy 反复读取 32 字节，直到构成合法的 secp256k1 标量，
// 私钥即这 32 个原始字节。
func (Scheme) GenerateKey(entropy io.Reader) (string, []byte, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		raw := make([]byte, privateKeySize)
		if _, err := io.ReadFull(entropy, raw); err != nil {
			return "", nil, err
		}
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			secret.Wipe(raw)
			continue
		}
		address := crypto.PubkeyToAddress(key.PublicKey).Hex()
		zeroKey(key)
		return address, raw, nil
	}
	return "", nil, errors.New("evm: entropy did not yield a valid secp256k1 key")
}

// PublicKey 返回 privateKey 控制的带校验和地址。
func (Scheme) PublicKey(privateKey []byte) (string, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return "", chain.ErrInvalidPrivateKey
	}
	defer zeroKey(key)
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// ParseAddress 接受带或不带 0x 前缀的 20 字节十六进制，拒绝零地址。
func (Scheme) ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", chain.ErrInvalidAddress
	}
	parsed := common.HexToAddress(address)
	if parsed == (common.Address{}) {
		return "", chain.ErrInvalidAddress
	}
	return parsed.Hex(), nil
}

// BuildTransfer 依据 marker 组装未签名的 DynamicFeeTx。
func (s Scheme) BuildTransfer(from, to string, amount *big.Int, marker chain.Marker) (*chain.UnsignedTx, error) {
	fromAddr, err := s.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	toAddr, err := s.ParseAddress(to)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(maxUint256) > 0 {
		return nil, chain.ErrAmountRange
	}
	if marker.ChainID == nil || marker.GasFeeCap == nil || marker.GasTipCap == nil {
		return nil, errors.New("evm: marker is missing chain id or fee caps")
	}
	gas := marker.GasLimit
	if gas == 0 {
		gas = TransferGas
	}
	recipient := common.HexToAddress(toAddr)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(marker.ChainID),
		Nonce:     marker.Nonce,
		GasTipCap: new(big.Int).Set(marker.GasTipCap),
		GasFeeCap: new(big.Int).Set(marker.GasFeeCap),
		Gas:       gas,
		To:        &recipient,
		Value:     new(big.Int).Set(amount),
	})
	payload, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("evm: encode transaction: %w", err)
	}
	marker.GasLimit = gas
	return &chain.UnsignedTx{
		Family:  chain.FamilyEVM,
		From:    fromAddr,
		To:      toAddr,
		Amount:  new(big.Int).Set(amount),
		Marker:  marker,
		Payload: payload,
	}, nil
}

// Sign 使用对应链 id 的 London signer 签名交易。
func (s Scheme) Sign(utx *chain.UnsignedTx, privateKey []byte) (*chain.SignedTx, error) {
	if utx == nil || utx.Family != chain.FamilyEVM {
		return nil, errors.New("evm: not an evm transaction")
	}
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, chain.ErrInvalidPrivateKey
	}
	defer zeroKey(key)
	if crypto.PubkeyToAddress(key.PublicKey).Hex() != utx.From {
		return nil, fmt.Errorf("evm: private key does not control %s", utx.From)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(utx.Payload); err != nil {
		return nil, fmt.Errorf("evm: decode transaction: %w", err)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(tx.ChainId()), key)
	if err != nil {
		return nil, fmt.Errorf("evm: sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("evm: encode signed transaction: %w", err)
	}
	return &chain.SignedTx{Family: chain.FamilyEVM, ID: signed.Hash().Hex(), Raw: raw}, nil
}

// zeroKey 在 ecdsa 私钥不再使用时清零其标量。
func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}
