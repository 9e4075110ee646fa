package evm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/celution/bountyd/internal/failures"
)

// userRejectedCode is the EIP-1193 code for a signature the user declined.
const userRejectedCode = 4001

// classify maps RPC, signer and revert errors into the failure taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *failures.Error
	if errors.As(err, &fe) {
		return err
	}

	// A cancelled context is the caller giving up, not the wallet declining.
	if errors.Is(err, context.Canceled) {
		return failures.New(failures.Unknown, op, "cancelled", err)
	}

	var authErr *accounts.AuthNeededError
	if errors.As(err, &authErr) {
		return failures.New(failures.UserRejected, op, "wallet is locked", err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return failures.New(failures.UserRejected, op, "", err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500:
			return failures.New(failures.Transient, op, httpErr.Status, err)
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return failures.New(failures.PermissionDenied, op, "rpc endpoint refused the request", err)
		}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "user rejected") || strings.Contains(lower, "user denied") {
		return failures.New(failures.UserRejected, op, "", err)
	}
	if strings.Contains(lower, "insufficient funds") {
		return failures.New(failures.InvalidAmount, op, "insufficient funds", err)
	}

	if reason, ok := revertReason(err); ok {
		return classifyRevert(op, reason, err)
	}

	if failures.IsNetworkError(err) {
		return failures.New(failures.Transient, op, "", err)
	}
	return failures.New(failures.Unknown, op, "", err)
}

// revertReason extracts the Error(string) payload of a revert, from the
// JSON-RPC error data when present and the message text otherwise.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(strings.ToLower(msg), errExecutionReverted.Error())
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimSpace(msg[idx+len(errExecutionReverted.Error()):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	return reason, true
}

func classifyRevert(op, reason string, err error) error {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "not verified"):
		return failures.New(failures.PermissionDenied, op, "address is not identity-verified", err)
	case strings.Contains(lower, "rejected"):
		return failures.New(failures.UserRejected, op, reason, err)
	case strings.Contains(lower, "insufficient"),
		strings.Contains(lower, "payment"),
		strings.Contains(lower, "stake"),
		strings.Contains(lower, "amount"):
		return failures.New(failures.InvalidAmount, op, reason, err)
	}
	return failures.New(failures.Reverted, op, reason, err)
}
