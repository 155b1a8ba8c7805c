package dispatch

import (
	"context"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_chain.go -package=mocks github.com/sudosu4pp/multi-chain-zk-back/internal/dispatch Executor,ConditionChecker

// Executor submits a ready leaf to its chain.
//
// An error implementing Temporary() bool that returns true puts the entry
// back to ready. An error implementing FailKind() queue.FailKind fails it
// with that kind; any other error fails it as submission_error.
type Executor interface {
	Execute(ctx context.Context, e *queue.Entry) error
}

// ConditionChecker confirms DeferUntil conditions.
type ConditionChecker interface {
	Satisfied(ctx context.Context, cond op.Condition) (bool, error)
}
