package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"AgentVault/internal/agent"
	"AgentVault/internal/custody"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/wallet"
	"AgentVault/pkg/logger"
)

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:       http.StatusBadRequest,
	xerrors.CodeNotFound:              http.StatusNotFound,
	xerrors.CodeConflict:              http.StatusConflict,
	xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
	xerrors.CodeStorageFailure:        http.StatusInternalServerError,
	xerrors.CodeTimeout:               http.StatusGatewayTimeout,
	agent.CodeAgentNotFound:           http.StatusNotFound,
	agent.CodePublicKeyConflict:       http.StatusConflict,
	custody.CodeWalletNotIssued:       http.StatusConflict,
	custody.CodeAuthenticationFailure: http.StatusInternalServerError,
	custody.CodeEntropySourceFailure:  http.StatusInternalServerError,
	wallet.CodeWalletAlreadyIssued:    http.StatusConflict,
	wallet.CodeInvalidAmount:          http.StatusBadRequest,
	wallet.CodeInvalidRecipient:       http.StatusBadRequest,
	wallet.CodeInvalidSpendLimit:      http.StatusBadRequest,
	wallet.CodeSpendLimitExceeded:     http.StatusForbidden,
	wallet.CodeSimulationFailed:       http.StatusUnprocessableEntity,
	wallet.CodeSubmissionFailed:       http.StatusBadGateway,
	wallet.CodeChainUnavailable:       http.StatusServiceUnavailable,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code xerrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error xerrors.Result `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	result := xerrors.ToResult(err)
	status := StatusFor(result.Code)
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", string(result.Code)),
			slog.Any("error", err))
	}
	writeJSON(w, status, errorBody{Error: result})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
