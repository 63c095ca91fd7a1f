package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"AgentVault/internal/agent"
	"AgentVault/internal/chain"
	"AgentVault/internal/custody"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/events"
	"AgentVault/internal/observability/metrics"
	"AgentVault/internal/units"
	"AgentVault/pkg/logger"
)

// Pipeline stages, used as metric labels.
const (
	stageGate     = "gate"
	stageBuild    = "build"
	stageSimulate = "simulate"
	stageSign     = "sign"
	stageSubmit   = "submit"
)

// TransferRequest 描述一次原生资产转账。Amount 为十进制字符串，单位是链的主币。
type TransferRequest struct {
	AgentID   string `json:"agent_id"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// TransferResult 是已提交转账的结果。
type TransferResult struct {
	Signature       string   `json:"signature"`
	Amount          string   `json:"amount"`
	AmountBaseUnits *big.Int `json:"amount_base_units"`
	Recipient       string   `json:"recipient"`
	Chain           string   `json:"chain"`
}

// Transfer 按固定顺序执行：取得 Agent 级锁、解析记录、校验金额与收款地址、
// 消费上限检查、构建、模拟、解密签名、提交。上限检查在任何网络调用与解密之前完成；
// 记录在锁内读取，签名所用密钥与检查时的记录一致。提交一旦发出便不再响应调用方取消。
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	unlock, err := s.lockAgent(ctx, req.AgentID)
	if err != nil {
		s.settle(ctx, req, nil, err)
		return nil, err
	}
	defer unlock()

	record, network, amount, recipient, err := s.admit(ctx, req)
	if err != nil {
		s.settle(ctx, req, record, err)
		return nil, err
	}

	signature, err := s.execute(ctx, record, network, recipient, amount)
	if err != nil {
		s.settle(ctx, req, record, err)
		return nil, err
	}

	display := units.Format(amount, network.Scheme.Decimals())
	logger.Audit().Info("转账已提交",
		slog.String("event", "transfer_submitted"),
		slog.String("agent_id", record.ID),
		slog.String("chain", record.Chain),
		slog.String("recipient", recipient),
		slog.String("amount", display),
		slog.String("signature", signature))
	s.publish(ctx, events.New(events.TypeTransferSubmitted, record.ID, record.Chain, map[string]string{
		"recipient": recipient,
		"amount":    display,
		"signature": signature,
	}))
	metrics.ObserveTransfer(record.Chain, metrics.OutcomeSubmitted)

	return &TransferResult{
		Signature:       signature,
		Amount:          display,
		AmountBaseUnits: amount,
		Recipient:       recipient,
		Chain:           record.Chain,
	}, nil
}

// admit 完成所有本地检查：记录存在且已签发、金额为正、地址合法、未超上限。
func (s *Service) admit(ctx context.Context, req TransferRequest) (*agent.Agent, *chain.Network, *big.Int, string, error) {
	record, err := s.custodian.Load(ctx, req.AgentID)
	if err != nil {
		return nil, nil, nil, "", storageError(err, "load agent failed")
	}
	if !record.HasWallet() {
		return record, nil, nil, "", custody.ErrWalletNotIssued
	}
	network, err := s.network(record)
	if err != nil {
		return record, nil, nil, "", err
	}
	scheme := network.Scheme

	started := time.Now()
	amount, err := units.Parse(req.Amount, scheme.Decimals())
	if err != nil {
		return record, nil, nil, "", xerrors.Wrap(CodeInvalidAmount, err, fmt.Sprintf("invalid amount %q", req.Amount))
	}
	if amount.Sign() <= 0 {
		return record, nil, nil, "", xerrors.New(CodeInvalidAmount, "amount must be greater than zero")
	}

	recipient, err := scheme.ParseAddress(req.Recipient)
	if err != nil {
		return record, nil, nil, "", xerrors.Wrap(CodeInvalidRecipient, err, fmt.Sprintf("invalid %s address %q", scheme.Family(), req.Recipient))
	}
	if recipient == record.PublicKey {
		return record, nil, nil, "", xerrors.Wrap(CodeInvalidRecipient, chain.ErrSelfTransfer, "recipient is the agent's own address")
	}

	limit, err := units.Parse(record.SpendLimit, scheme.Decimals())
	if err != nil {
		return record, nil, nil, "", xerrors.Wrap(CodeInvalidSpendLimit, err, "stored spend limit cannot be expressed in base units")
	}
	exceeded := amount.Cmp(limit) > 0
	metrics.ObserveStage(stageGate, time.Since(started))
	if exceeded {
		return record, nil, nil, "", xerrors.New(CodeSpendLimitExceeded,
			fmt.Sprintf("amount %s %s exceeds spend limit %s", units.Format(amount, scheme.Decimals()), scheme.Symbol(), record.SpendLimit),
			xerrors.WithMetadata("spend_limit", record.SpendLimit))
	}
	return record, network, amount, recipient, nil
}

// execute 构建、模拟、签名并提交。私钥在签名结束后立即关闭。
func (s *Service) execute(ctx context.Context, record *agent.Agent, network *chain.Network, recipient string, amount *big.Int) (string, error) {
	scheme, rpc := network.Scheme, network.RPC

	started := time.Now()
	marker, err := rpc.RecencyMarker(ctx, record.PublicKey)
	if err != nil {
		return "", xerrors.Wrap(CodeChainUnavailable, err, "fetch recency marker failed")
	}
	utx, err := scheme.BuildTransfer(record.PublicKey, recipient, amount, marker)
	if err != nil {
		return "", buildError(err)
	}
	metrics.ObserveStage(stageBuild, time.Since(started))

	started = time.Now()
	if err := rpc.Simulate(ctx, utx); err != nil {
		var simErr *chain.SimulationError
		if errors.As(err, &simErr) {
			return "", xerrors.Wrap(CodeSimulationFailed, err, "simulation rejected the transaction: "+simErr.Reason)
		}
		return "", xerrors.Wrap(CodeChainUnavailable, err, "simulation request failed")
	}
	metrics.ObserveStage(stageSimulate, time.Since(started))

	started = time.Now()
	signed, err := s.sign(scheme, record, utx)
	if err != nil {
		return "", err
	}
	metrics.ObserveStage(stageSign, time.Since(started))

	// Abandoning before this point leaves nothing broadcast.
	if err := ctx.Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeTimeout, err, "transfer cancelled before submission")
	}

	started = time.Now()
	signature, err := rpc.Submit(context.WithoutCancel(ctx), signed)
	if err != nil {
		return "", xerrors.Wrap(CodeSubmissionFailed, err, "chain rejected or did not accept the transaction")
	}
	metrics.ObserveStage(stageSubmit, time.Since(started))
	if signature == "" {
		signature = signed.ID
	}
	return signature, nil
}

func (s *Service) sign(scheme chain.Scheme, record *agent.Agent, utx *chain.UnsignedTx) (*chain.SignedTx, error) {
	key, err := s.custodian.UnwrapSigningKey(record)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	signed, err := scheme.Sign(utx, key.Bytes())
	if err != nil {
		return nil, xerrors.Wrap(custody.CodeAuthenticationFailure, err, "recovered key does not sign for the agent's address")
	}
	return signed, nil
}

func buildError(err error) error {
	switch {
	case errors.Is(err, chain.ErrSelfTransfer), errors.Is(err, chain.ErrInvalidAddress):
		return xerrors.Wrap(CodeInvalidRecipient, err, "recipient cannot receive this transfer")
	case errors.Is(err, chain.ErrAmountRange):
		return xerrors.Wrap(CodeInvalidAmount, err, "amount cannot be encoded for this chain")
	default:
		return xerrors.Wrap(CodeChainUnavailable, err, "build transaction failed")
	}
}

// isRejection 区分调用方输入导致的拒绝与链或托管故障。
func isRejection(err error) bool {
	switch xerrors.CodeOf(err) {
	case agent.CodeAgentNotFound, custody.CodeWalletNotIssued, CodeInvalidAmount, CodeInvalidRecipient,
		CodeSpendLimitExceeded, CodeSimulationFailed, CodeInvalidSpendLimit:
		return true
	}
	return false
}

// settle 按错误类别记录拒绝或失败。
func (s *Service) settle(ctx context.Context, req TransferRequest, record *agent.Agent, err error) {
	if isRejection(err) {
		s.reject(ctx, req, record, err)
		return
	}
	s.fail(ctx, req, record, err)
}

func (s *Service) reject(ctx context.Context, req TransferRequest, record *agent.Agent, err error) {
	chainName := chainOf(record)
	code := xerrors.CodeOf(err)
	logger.Audit().Info("转账被拒绝",
		slog.String("event", "transfer_rejected"),
		slog.String("agent_id", req.AgentID),
		slog.String("chain", chainName),
		slog.String("recipient", req.Recipient),
		slog.String("amount", req.Amount),
		slog.String("code", string(code)))
	s.publish(ctx, events.New(events.TypeTransferRejected, req.AgentID, chainName, map[string]string{
		"code":   string(code),
		"amount": req.Amount,
	}))
	if chainName != "" {
		metrics.ObserveTransfer(chainName, metrics.OutcomeRejected)
	}
	s.alert(ctx, err, "transfer", record)
}

// fail 记录故障。锁或存储出错时 record 可能为空。
func (s *Service) fail(ctx context.Context, req TransferRequest, record *agent.Agent, err error) {
	chainName := chainOf(record)
	code := xerrors.CodeOf(err)
	logger.Audit().Error("转账失败",
		slog.String("event", "transfer_failed"),
		slog.String("agent_id", req.AgentID),
		slog.String("chain", chainName),
		slog.String("recipient", req.Recipient),
		slog.String("amount", req.Amount),
		slog.String("code", string(code)),
		slog.Any("error", err))
	s.publish(ctx, events.New(events.TypeTransferFailed, req.AgentID, chainName, map[string]string{
		"code":   string(code),
		"amount": req.Amount,
	}))
	if chainName != "" {
		metrics.ObserveTransfer(chainName, metrics.OutcomeFailed)
	}
	s.alert(ctx, err, "transfer", record)
}

func chainOf(record *agent.Agent) string {
	if record == nil {
		return ""
	}
	return record.Chain
}
