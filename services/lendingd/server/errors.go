package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"lendledger/core"
	"lendledger/native/bank"
)

// statusFor maps an error code onto the HTTP status returned to clients.
func statusFor(code string) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeInsufficientCollateral,
		core.CodeInsufficientDebt,
		core.CodeLiquidationNotAllowed,
		core.CodeLiquidationCapExceeded:
		return http.StatusConflict
	case core.CodeExternalTransfer:
		return http.StatusBadGateway
	case core.CodeInsufficientLiquidity, core.CodePriceUnavailable, core.CodePaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	if errors.Is(err, bank.ErrInvalidAmount) || errors.Is(err, bank.ErrUnknownDenom) {
		code = core.CodeValidation
	}
	message := err.Error()
	if code == core.CodeInternal {
		message = "internal error"
	}
	writeJSON(w, statusFor(code), errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{Code: core.CodeValidation, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
