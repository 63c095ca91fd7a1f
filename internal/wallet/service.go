// Package wallet 组合托管、链与存储，实现 Agent 钱包的全部对外操作。
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"AgentVault/internal/agent"
	"AgentVault/internal/chain"
	"AgentVault/internal/custody"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/events"
	"AgentVault/internal/lock"
	"AgentVault/internal/observability/alerting"
	"AgentVault/internal/observability/metrics"
	"AgentVault/internal/secret"
	"AgentVault/internal/units"
	"AgentVault/pkg/logger"
)

// Networks 按名称解析链，空名称表示默认链。
type Networks interface {
	Resolve(name string) (*chain.Network, error)
}

// Custodian 读取托管记录并临时解出签名私钥。
type Custodian interface {
	Load(ctx context.Context, agentID string) (*agent.Agent, error)
	UnwrapSigningKey(record *agent.Agent) (*secret.Buffer, error)
}

// Issuer 生成并包裹新的签名密钥。
type Issuer interface {
	Issue(ctx context.Context, scheme chain.Scheme, agentID string) (*custody.IssuedWallet, error)
}

// Dependencies 汇总服务依赖。Locker、Publisher、Alerts 可为空。
type Dependencies struct {
	Repository agent.Repository
	Networks   Networks
	Issuer     Issuer
	Custodian  Custodian
	Locker     lock.Locker
	Publisher  events.Publisher
	Alerts     alerting.Dispatcher
}

// Service 实现钱包的所有业务操作。
type Service struct {
	repo      agent.Repository
	networks  Networks
	issuer    Issuer
	custodian Custodian
	locker    lock.Locker
	publisher events.Publisher
	alerts    alerting.Dispatcher
	log       *slog.Logger
}

// NewService 校验依赖并创建服务。
func NewService(deps Dependencies) (*Service, error) {
	if deps.Repository == nil || deps.Networks == nil || deps.Issuer == nil || deps.Custodian == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "wallet service requires repository, networks, issuer and custodian")
	}
	s := &Service{
		repo:      deps.Repository,
		networks:  deps.Networks,
		issuer:    deps.Issuer,
		custodian: deps.Custodian,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		alerts:    deps.Alerts,
		log:       logger.Named("wallet"),
	}
	if s.locker == nil {
		s.locker = lock.NewMemory()
	}
	if s.publisher == nil {
		s.publisher = events.Noop{}
	}
	return s, nil
}

// CreateAgentRequest 描述新建 Agent 的参数。Chain 为空时使用默认链。
type CreateAgentRequest struct {
	SpendLimit string `json:"spend_limit"`
	Chain      string `json:"chain,omitempty"`
}

// IssueOptions 控制钱包签发。
type IssueOptions struct {
	// ConfirmOverwrite 允许替换已有钱包，旧地址上的余额将无法再动用。
	ConfirmOverwrite bool `json:"confirm_overwrite"`
}

// WalletInfo 是签发结果。
type WalletInfo struct {
	AgentID           string `json:"agent_id"`
	Chain             string `json:"chain"`
	PublicKey         string `json:"public_key"`
	Overwritten       bool   `json:"overwritten"`
	PreviousPublicKey string `json:"previous_public_key,omitempty"`
}

// BalanceResult 是余额查询结果。
type BalanceResult struct {
	AgentID   string   `json:"agent_id"`
	Chain     string   `json:"chain"`
	Address   string   `json:"address"`
	BaseUnits *big.Int `json:"base_units"`
	Display   string   `json:"display"`
	Symbol    string   `json:"symbol"`
}

// CreateAgent 校验消费上限并创建尚未签发钱包的 Agent。
func (s *Service) CreateAgent(ctx context.Context, req CreateAgentRequest) (agent.View, error) {
	limit, err := units.ValidateSpendLimit(req.SpendLimit)
	if err != nil {
		return agent.View{}, xerrors.Wrap(CodeInvalidSpendLimit, err, fmt.Sprintf("invalid spend limit %q", req.SpendLimit))
	}
	network, err := s.networks.Resolve(req.Chain)
	if err != nil {
		return agent.View{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("unknown chain %q", req.Chain))
	}

	now := time.Now().Unix()
	record := &agent.Agent{
		ID:         agent.NewID(),
		Chain:      network.Name,
		SpendLimit: limit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.SaveAgent(ctx, record); err != nil {
		return agent.View{}, storageError(err, "save agent failed")
	}

	logger.Audit().Info("Agent 已创建",
		slog.String("event", "agent_created"),
		slog.String("agent_id", record.ID),
		slog.String("chain", record.Chain),
		slog.String("spend_limit", record.SpendLimit))
	s.publish(ctx, events.New(events.TypeAgentCreated, record.ID, record.Chain, map[string]string{"spend_limit": record.SpendLimit}))
	return record.Redacted(), nil
}

// IssueWallet 为 Agent 签发钱包。已有钱包且未确认覆盖时返回 WALLET_ALREADY_ISSUED。
func (s *Service) IssueWallet(ctx context.Context, agentID string, opts IssueOptions) (*WalletInfo, error) {
	unlock, err := s.lockAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	record, err := s.custodian.Load(ctx, agentID)
	if err != nil {
		return nil, storageError(err, "load agent failed")
	}
	network, err := s.network(record)
	if err != nil {
		return nil, err
	}
	previous := record.PublicKey
	if record.HasWallet() && !opts.ConfirmOverwrite {
		return nil, ErrWalletAlreadyIssued
	}

	issued, err := s.issuer.Issue(ctx, network.Scheme, record.ID)
	if err != nil {
		s.alert(ctx, err, "issue_wallet", record)
		return nil, err
	}
	record.PublicKey = issued.PublicKey
	record.WrappedPrivateKey = &issued.WrappedPrivateKey
	record.WrappedAEK = &issued.WrappedAEK
	record.MasterKeyID = issued.MasterKeyID
	if err := s.repo.SaveAgent(ctx, record); err != nil {
		err = storageError(err, "save wallet failed")
		s.alert(ctx, err, "issue_wallet", record)
		return nil, err
	}

	info := &WalletInfo{AgentID: record.ID, Chain: record.Chain, PublicKey: record.PublicKey}
	if previous != "" {
		info.Overwritten = true
		info.PreviousPublicKey = previous
		logger.Audit().Warn("钱包已被覆盖，旧地址不再受托管",
			slog.String("event", "wallet_overwritten"),
			slog.String("agent_id", record.ID),
			slog.String("chain", record.Chain),
			slog.String("previous_public_key", previous),
			slog.String("public_key", record.PublicKey))
		s.publish(ctx, events.New(events.TypeWalletOrphaned, record.ID, record.Chain, map[string]string{"address": previous}))
	}
	logger.Audit().Info("钱包已签发",
		slog.String("event", "wallet_issued"),
		slog.String("agent_id", record.ID),
		slog.String("chain", record.Chain),
		slog.String("public_key", record.PublicKey),
		slog.String("master_key_id", record.MasterKeyID))
	s.publish(ctx, events.New(events.TypeWalletIssued, record.ID, record.Chain, map[string]string{"address": record.PublicKey}))
	metrics.ObserveWalletIssued(record.Chain)
	return info, nil
}

// Address 返回 Agent 的钱包地址。
func (s *Service) Address(ctx context.Context, agentID string) (string, error) {
	record, err := s.loadIssued(ctx, agentID)
	if err != nil {
		return "", err
	}
	return record.PublicKey, nil
}

// Balance 查询 Agent 钱包余额，不接触任何密钥材料。
func (s *Service) Balance(ctx context.Context, agentID string) (*BalanceResult, error) {
	record, err := s.loadIssued(ctx, agentID)
	if err != nil {
		return nil, err
	}
	network, err := s.network(record)
	if err != nil {
		return nil, err
	}
	amount, err := network.RPC.Balance(ctx, record.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainUnavailable, err, "query balance failed")
	}
	return &BalanceResult{
		AgentID:   record.ID,
		Chain:     record.Chain,
		Address:   record.PublicKey,
		BaseUnits: amount,
		Display:   units.Format(amount, network.Scheme.Decimals()),
		Symbol:    network.Scheme.Symbol(),
	}, nil
}

// Agent 返回脱敏的 Agent 视图。
func (s *Service) Agent(ctx context.Context, agentID string) (agent.View, error) {
	record, err := s.custodian.Load(ctx, agentID)
	if err != nil {
		return agent.View{}, storageError(err, "load agent failed")
	}
	return record.Redacted(), nil
}

// ListAgents 返回最近创建的 Agent。
func (s *Service) ListAgents(ctx context.Context, limit int) ([]agent.View, error) {
	records, err := s.repo.ListAgents(ctx, limit)
	if err != nil {
		return nil, storageError(err, "list agents failed")
	}
	views := make([]agent.View, 0, len(records))
	for _, record := range records {
		views = append(views, record.Redacted())
	}
	return views, nil
}

func (s *Service) loadIssued(ctx context.Context, agentID string) (*agent.Agent, error) {
	record, err := s.custodian.Load(ctx, agentID)
	if err != nil {
		return nil, storageError(err, "load agent failed")
	}
	if !record.HasWallet() {
		return nil, custody.ErrWalletNotIssued
	}
	return record, nil
}

func (s *Service) network(record *agent.Agent) (*chain.Network, error) {
	network, err := s.networks.Resolve(record.Chain)
	if err != nil {
		return nil, xerrors.Wrap(CodeChainUnavailable, err, fmt.Sprintf("chain %q is not configured", record.Chain))
	}
	return network, nil
}

// lockAgent 获取 Agent 级互斥锁，返回的函数在分离的上下文中释放锁。
func (s *Service) lockAgent(ctx context.Context, agentID string) (func(), error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, agent.ErrNotFound
	}
	unlock, err := s.locker.Lock(ctx, "agent:"+agentID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "timed out waiting for agent lock")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acquire agent lock failed")
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("释放 Agent 锁失败", slog.String("agent_id", agentID), slog.Any("error", err))
		}
	}, nil
}

// publish 尽力投递事件，失败只记录日志。
func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("事件发布失败",
			slog.String("type", string(event.Type)),
			slog.String("agent_id", event.AgentID),
			slog.Any("error", err))
	}
}

func (s *Service) alert(ctx context.Context, err error, operation string, record *agent.Agent) {
	if s.alerts == nil {
		return
	}
	var agentID, chainName string
	if record != nil {
		agentID, chainName = record.ID, record.Chain
	}
	event, ok := alerting.FromError(err, operation, agentID, chainName)
	if !ok {
		return
	}
	if err := s.alerts.Notify(context.WithoutCancel(ctx), event); err != nil {
		s.log.Warn("告警发送失败", slog.String("code", string(event.Code)), slog.Any("error", err))
	}
}
