package agent

import (
	"context"

	"github.com/google/uuid"

	"AgentVault/internal/envelope"
	xerrors "AgentVault/internal/errors"
)

// Agent 描述一个被托管钱包的自动化调用方。
//
// PublicKey 为空表示尚未签发钱包；签发后 WrappedPrivateKey 与 WrappedAEK
// 必须同时存在。SpendLimit 创建后不可修改。
type Agent struct {
	ID                string           `json:"id"`
	Chain             string           `json:"chain"`
	PublicKey         string           `json:"public_key,omitempty"`
	WrappedPrivateKey *envelope.Bundle `json:"wrapped_private_key,omitempty"`
	WrappedAEK        *envelope.Bundle `json:"wrapped_aek,omitempty"`
	MasterKeyID       string           `json:"master_key_id,omitempty"`
	SpendLimit        string           `json:"spend_limit"`
	CreatedAt         int64            `json:"created_at"`
	UpdatedAt         int64            `json:"updated_at"`
}

// View 是对外暴露的脱敏视图，不包含任何密文。
type View struct {
	ID         string `json:"id"`
	Chain      string `json:"chain"`
	PublicKey  string `json:"public_key,omitempty"`
	SpendLimit string `json:"spend_limit"`
	HasWallet  bool   `json:"has_wallet"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Repository 抽象了 Agent 记录的持久化。
type Repository interface {
	FindAgent(ctx context.Context, id string) (*Agent, error)
	FindByPublicKey(ctx context.Context, publicKey string) (*Agent, error)
	// SaveAgent 以整条记录替换的方式写入，不存在时插入。
	SaveAgent(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context, limit int) ([]*Agent, error)
	Close() error
}

const (
	CodeAgentNotFound     xerrors.Code = "AGENT_NOT_FOUND"
	CodePublicKeyConflict xerrors.Code = "PUBLIC_KEY_CONFLICT"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	// ErrNotFound 表示指定的 Agent 不存在。
	ErrNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrPublicKeyConflict 表示公钥已被其他 Agent 占用。
	ErrPublicKeyConflict = xerrors.New(CodePublicKeyConflict, "public key already assigned to another agent")
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePublicKeyConflict, xerrors.Attributes{
		Message:  "public key already assigned to another agent",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// NewID 生成新的 Agent 标识（UUIDv4）。
func NewID() string {
	return uuid.NewString()
}

// ValidID 判断 id 是否为合法的 UUID。
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// HasWallet 判断是否已签发钱包。
func (a *Agent) HasWallet() bool {
	return a != nil && a.PublicKey != "" && a.WrappedPrivateKey != nil && a.WrappedAEK != nil
}

// Clone 返回深拷贝，存储层读写时使用，避免共享密文切片。
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	if a.WrappedPrivateKey != nil {
		b := a.WrappedPrivateKey.Clone()
		clone.WrappedPrivateKey = &b
	}
	if a.WrappedAEK != nil {
		b := a.WrappedAEK.Clone()
		clone.WrappedAEK = &b
	}
	return &clone
}

// Redacted 返回脱敏视图。
func (a *Agent) Redacted() View {
	return View{
		ID:         a.ID,
		Chain:      a.Chain,
		PublicKey:  a.PublicKey,
		SpendLimit: a.SpendLimit,
		HasWallet:  a.HasWallet(),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// NormalizeLimit 将列表数量限制在合理范围内。
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
