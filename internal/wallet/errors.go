package wallet

import (
	xerrors "AgentVault/internal/errors"
)

const (
	CodeWalletAlreadyIssued xerrors.Code = "WALLET_ALREADY_ISSUED"
	CodeInvalidAmount       xerrors.Code = "INVALID_AMOUNT"
	CodeInvalidRecipient    xerrors.Code = "INVALID_RECIPIENT"
	CodeInvalidSpendLimit   xerrors.Code = "INVALID_SPEND_LIMIT"
	CodeSpendLimitExceeded  xerrors.Code = "SPEND_LIMIT_EXCEEDED"
	CodeSimulationFailed    xerrors.Code = "SIMULATION_FAILED"
	CodeSubmissionFailed    xerrors.Code = "SUBMISSION_FAILED"
	CodeChainUnavailable    xerrors.Code = "CHAIN_UNAVAILABLE"
)

// ErrWalletAlreadyIssued 表示重新签发前未确认覆盖。
var ErrWalletAlreadyIssued = xerrors.New(CodeWalletAlreadyIssued,
	"agent already has a wallet; re-issuing orphans the old address and requires explicit confirmation")

func init() {
	xerrors.Register(CodeWalletAlreadyIssued, xerrors.Attributes{
		Message:  "wallet already issued",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:  "amount must be a positive decimal",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidRecipient, xerrors.Attributes{
		Message:  "recipient is not a valid address",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidSpendLimit, xerrors.Attributes{
		Message:  "spend limit must be a positive decimal with at most 12 integer and 8 fractional digits",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSpendLimitExceeded, xerrors.Attributes{
		Message:  "amount exceeds the agent's spend limit",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSimulationFailed, xerrors.Attributes{
		Message:  "transaction simulation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:  "transaction submission failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeChainUnavailable, xerrors.Attributes{
		Message:   "chain RPC unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// storageError 保留已归类的错误，其余归为存储失败。
func storageError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
