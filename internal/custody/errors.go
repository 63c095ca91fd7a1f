package custody

import (
	"errors"

	"AgentVault/internal/envelope"
	xerrors "AgentVault/internal/errors"
)

const (
	CodeWalletNotIssued       xerrors.Code = "WALLET_NOT_ISSUED"
	CodeAuthenticationFailure xerrors.Code = "AUTHENTICATION_FAILURE"
	CodeEntropySourceFailure  xerrors.Code = "ENTROPY_SOURCE_FAILURE"
)

// ErrWalletNotIssued 表示 Agent 尚未签发钱包。
var ErrWalletNotIssued = xerrors.New(CodeWalletNotIssued, "wallet has not been issued for this agent")

func init() {
	xerrors.Register(CodeWalletNotIssued, xerrors.Attributes{
		Message:  "wallet has not been issued for this agent",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAuthenticationFailure, xerrors.Attributes{
		Message:  "stored key material failed authentication",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeEntropySourceFailure, xerrors.Attributes{
		Message:  "entropy source failure",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// translate 把 envelope 的错误映射为统一错误码。
func translate(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, envelope.ErrEntropy):
		return xerrors.Wrap(CodeEntropySourceFailure, err, "entropy source failure")
	default:
		return xerrors.Wrap(CodeAuthenticationFailure, err, message)
	}
}
