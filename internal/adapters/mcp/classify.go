package mcp

import (
	"context"
	"errors"

	"github.com/longregen/toolrouter/internal/adapters/retry"
	"github.com/longregen/toolrouter/internal/domain"
)

// ClassifyError maps a request failure onto an execution error category.
// Unknown failures are treated as network faults.
func ClassifyError(err error) *domain.ExecutionError {
	if execErr, ok := domain.AsExecutionError(err); ok {
		return execErr
	}

	var rpcErr *JSONRPCError
	var statusErr *StatusError
	switch {
	case errors.Is(err, domain.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.NewExecutionError(domain.CategoryTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrExecutionCancelled),
		errors.Is(err, domain.ErrHubShuttingDown):
		return domain.NewExecutionError(domain.CategoryCancelled, err)
	case errors.As(err, &rpcErr):
		if rpcErr.Code == InvalidParams {
			e := domain.NewExecutionError(domain.CategoryValidation, err)
			e.Message, e.Code = rpcErr.Message, rpcErr.Code
			return e
		}
		return domain.NewRemoteError(rpcErr.Code, rpcErr.Message)
	case errors.As(err, &statusErr):
		if retry.IsRetryableHTTPStatus(statusErr.StatusCode) {
			return domain.NewExecutionError(domain.CategoryNetwork, err)
		}
		e := domain.NewExecutionError(domain.CategoryRemote, err)
		e.Code = statusErr.StatusCode
		return e
	default:
		return domain.NewExecutionError(domain.CategoryNetwork, err)
	}
}
