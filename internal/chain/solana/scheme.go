// Package solana 实现 Solana 链族：ed25519 密钥、base58 地址，
// 以及只含一条 System Program 转账指令的 legacy 交易。
package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"

	"AgentVault/internal/chain"
)

const (
	// SOL 精度：1 SOL = 1e9 lamports。
	Decimals = 9
	Symbol   = "SOL"

	publicKeySize = ed25519.PublicKeySize
	signatureSize = ed25519.SignatureSize

	systemTransferInstruction uint32 = 2
)

// SystemProgramID 是 System Program 的 base58 地址。
const SystemProgramID = "11111111111111111111111111111111"

var systemProgram = make([]byte, publicKeySize)

// Scheme 为 Solana 实现 chain.Scheme。
type Scheme struct{}

// NewScheme 返回 Solana 方案。
func NewScheme() Scheme { return Scheme{} }

func (Scheme) Family() chain.Family { return chain.FamilySolana }
func (Scheme) Symbol() string       { return Symbol }
func (Scheme) Decimals() int        { return Decimals }

// GenerateKey 返回 base58 公钥与 64 字节 ed25519 私钥（种子在前，公钥在后）。
func (Scheme) GenerateKey(entropy io.Reader) (string, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(entropy)
	if err != nil {
		return "", nil, err
	}
	return base58.Encode(pub), priv, nil
}

// PublicKey 由 64 字节私钥推导地址。
func (Scheme) PublicKey(privateKey []byte) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", chain.ErrInvalidPrivateKey
	}
	pub := ed25519.NewKeyFromSeed(privateKey[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, privateKey[ed25519.SeedSize:]) {
		return "", chain.ErrInvalidPrivateKey
	}
	return base58.Encode(pub), nil
}

// ParseAddress 接受任何解码后为 32 字节的 base58 字符串。
func (Scheme) ParseAddress(address string) (string, error) {
	raw, err := decodeKey(address)
	if err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

func decodeKey(address string) ([]byte, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, chain.ErrInvalidAddress
	}
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != publicKeySize {
		return nil, chain.ErrInvalidAddress
	}
	return raw, nil
}

// BuildTransfer 编码一条 legacy 消息：手续费支付方为 from，
// 唯一指令是转出 amount lamports 的 System Program 转账。
func (Scheme) BuildTransfer(from, to string, amount *big.Int, marker chain.Marker) (*chain.UnsignedTx, error) {
	fromKey, err := decodeKey(from)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	toKey, err := decodeKey(to)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(fromKey, toKey) {
		return nil, chain.ErrSelfTransfer
	}
	if amount == nil || amount.Sign() <= 0 || !amount.IsUint64() {
		return nil, chain.ErrAmountRange
	}
	blockhash, err := base58.Decode(marker.Reference)
	if err != nil || len(blockhash) != 32 {
		return nil, fmt.Errorf("solana: invalid recent blockhash %q", marker.Reference)
	}

	return &chain.UnsignedTx{
		Family:  chain.FamilySolana,
		From:    base58.Encode(fromKey),
		To:      base58.Encode(toKey),
		Amount:  new(big.Int).Set(amount),
		Marker:  marker,
		Payload: encodeTransferMessage(fromKey, toKey, blockhash, amount.Uint64()),
	}, nil
}

// Sign 用手续费支付方的私钥签名消息并返回线上格式交易，交易 id 即 base58 签名。
func (s Scheme) Sign(tx *chain.UnsignedTx, privateKey []byte) (*chain.SignedTx, error) {
	if tx == nil || tx.Family != chain.FamilySolana {
		return nil, fmt.Errorf("solana: cannot sign %v transaction", familyOf(tx))
	}
	pub, err := s.PublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	if pub != tx.From {
		return nil, fmt.Errorf("solana: private key does not match fee payer %s", tx.From)
	}
	sig := ed25519.Sign(ed25519.PrivateKey(privateKey), tx.Payload)
	return &chain.SignedTx{
		Family: chain.FamilySolana,
		ID:     base58.Encode(sig),
		Raw:    encodeTransaction(sig, tx.Payload),
	}, nil
}

func familyOf(tx *chain.UnsignedTx) chain.Family {
	if tx == nil {
		return ""
	}
	return tx.Family
}

// encodeTransferMessage 按 legacy 格式排布消息：消息头、账户列表
// [from, to, system program]、recent blockhash 与一条编译后的指令。
func encodeTransferMessage(from, to, blockhash []byte, lamports uint64) []byte {
	var buf bytes.Buffer
	// 一个签名者（手续费支付方），无只读签名者，一个只读非签名账户（程序）。
	buf.Write([]byte{1, 0, 1})

	writeCompactU16(&buf, 3)
	buf.Write(from)
	buf.Write(to)
	buf.Write(systemProgram)

	buf.Write(blockhash)

	writeCompactU16(&buf, 1)
	buf.WriteByte(2)
	writeCompactU16(&buf, 2)
	buf.Write([]byte{0, 1})

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferInstruction)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	writeCompactU16(&buf, len(data))
	buf.Write(data)

	return buf.Bytes()
}

func encodeTransaction(signature, message []byte) []byte {
	var buf bytes.Buffer
	writeCompactU16(&buf, 1)
	buf.Write(signature)
	buf.Write(message)
	return buf.Bytes()
}

// unsignedTransaction 为消息配上全零签名，关闭 sigVerify 时
// simulateTransaction 要求这种格式。
func unsignedTransaction(message []byte) []byte {
	return encodeTransaction(make([]byte, signatureSize), message)
}

func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
