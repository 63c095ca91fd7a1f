package custody

import (
	"context"

	"AgentVault/internal/agent"
	"AgentVault/internal/envelope"
	"AgentVault/internal/secret"
)

// Custodian 读取托管记录并在签名前临时解出私钥。
type Custodian struct {
	repo   agent.Repository
	cipher *envelope.Cipher
	master *MasterWrapper
}

// NewCustodian 创建托管存储。
func NewCustodian(repo agent.Repository, cipher *envelope.Cipher, master *MasterWrapper) *Custodian {
	return &Custodian{repo: repo, cipher: cipher, master: master}
}

// Load 读取 Agent 记录，不存在时返回 agent.ErrNotFound。
func (c *Custodian) Load(ctx context.Context, agentID string) (*agent.Agent, error) {
	return c.repo.FindAgent(ctx, agentID)
}

// UnwrapSigningKey 依次解开 AEK 与私钥。AEK 在返回前关闭；调用方必须在
// 所有路径上关闭返回的私钥缓冲区。认证失败不会重试。
func (c *Custodian) UnwrapSigningKey(record *agent.Agent) (*secret.Buffer, error) {
	if !record.HasWallet() {
		return nil, ErrWalletNotIssued
	}
	aek, err := c.master.Unwrap(*record.WrappedAEK, AEKAAD(record.ID))
	if err != nil {
		return nil, err
	}
	defer aek.Close()

	return NewAEKWrapper(c.cipher, aek).Unwrap(*record.WrappedPrivateKey, SigningKeyAAD(record.ID))
}
