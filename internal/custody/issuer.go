package custody

import (
	"context"
	"crypto/rand"
	"io"

	"AgentVault/internal/chain"
	"AgentVault/internal/envelope"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/secret"
)

// IssuedWallet 是签发结果，只包含公钥与密文。
type IssuedWallet struct {
	PublicKey         string
	WrappedPrivateKey envelope.Bundle
	WrappedAEK        envelope.Bundle
	MasterKeyID       string
}

// Issuer 生成链上密钥对并完成两层包裹。
type Issuer struct {
	cipher  *envelope.Cipher
	master  *MasterWrapper
	entropy io.Reader
}

// IssuerOption 定制 Issuer。
type IssuerOption func(*Issuer)

// WithIssuerEntropy 替换密钥对与 AEK 的随机源。
func WithIssuerEntropy(r io.Reader) IssuerOption {
	return func(i *Issuer) {
		if r != nil {
			i.entropy = r
		}
	}
}

// NewIssuer 创建签发器。
func NewIssuer(cipher *envelope.Cipher, master *MasterWrapper, opts ...IssuerOption) *Issuer {
	i := &Issuer{cipher: cipher, master: master, entropy: rand.Reader}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue 为 agentID 生成并包裹一把新的签名密钥。明文私钥与 AEK 在返回前清零。
func (i *Issuer) Issue(ctx context.Context, scheme chain.Scheme, agentID string) (*IssuedWallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	publicKey, rawKey, err := scheme.GenerateKey(i.entropy)
	if err != nil {
		secret.Wipe(rawKey)
		return nil, xerrors.Wrap(CodeEntropySourceFailure, err, "generate keypair failed")
	}
	privateKey, err := secret.FromBytes(rawKey)
	if err != nil {
		secret.Wipe(rawKey)
		return nil, xerrors.Wrap(CodeEntropySourceFailure, err, "generate keypair failed")
	}
	defer privateKey.Close()

	aek, err := secret.New(envelope.KeySize)
	if err != nil {
		return nil, xerrors.Wrap(CodeEntropySourceFailure, err, "allocate AEK failed")
	}
	defer aek.Close()
	if _, err := io.ReadFull(i.entropy, aek.Bytes()); err != nil {
		return nil, xerrors.Wrap(CodeEntropySourceFailure, err, "generate AEK failed")
	}

	wrappedKey, err := NewAEKWrapper(i.cipher, aek).Wrap(privateKey.Bytes(), SigningKeyAAD(agentID))
	if err != nil {
		return nil, err
	}
	wrappedAEK, err := i.master.Wrap(aek.Bytes(), AEKAAD(agentID))
	if err != nil {
		return nil, err
	}

	return &IssuedWallet{
		PublicKey:         publicKey,
		WrappedPrivateKey: wrappedKey,
		WrappedAEK:        wrappedAEK,
		MasterKeyID:       i.master.KeyID(),
	}, nil
}
