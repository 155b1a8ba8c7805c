package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// execute expands ready composites and submits ready leaves.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger) (int, int, error) {
	ready, err := e.store.ListByState(ctx, queue.StateReady, e.now(), 0)
	if err != nil {
		return 0, 0, err
	}

	expanded := 0
	var leaves []*queue.Entry
	for _, ent := range ready {
		if !ent.Op.IsLeaf() {
			ok, err := e.expand(ctx, ent)
			if err != nil {
				return expanded, 0, err
			}
			if ok {
				expanded++
			}
			continue
		}
		saved, err := e.transition(ctx, ent, func(n *queue.Entry) { n.State = queue.StateExecuting })
		if err != nil {
			if !isStale(err) {
				return expanded, 0, fmt.Errorf("start execution %s: %w", ent.ID, err)
			}
			continue
		}
		leaves = append(leaves, saved)
	}
	if len(leaves) == 0 {
		return expanded, 0, nil
	}

	results := make([]error, len(leaves))
	g := new(errgroup.Group)
	g.SetLimit(e.opts.MaxConcurrentExec)
	for i, ent := range leaves {
		g.Go(func() error {
			results[i] = e.exec.Execute(ctx, ent)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		// Entries left executing fail as interrupted on the next Recover.
		return expanded, len(leaves), err
	}

	for i, ent := range leaves {
		if err := e.settleExecution(ctx, ent, results[i], logger); err != nil {
			return expanded, len(leaves), err
		}
	}
	return expanded, len(leaves), nil
}

func (e *Engine) settleExecution(ctx context.Context, ent *queue.Entry, execErr error, logger *slog.Logger) error {
	if execErr == nil {
		return e.succeed(ctx, ent)
	}

	var temp interface{ Temporary() bool }
	if errors.As(execErr, &temp) && temp.Temporary() {
		logger.Warn("submission deferred", "op_id", string(ent.ID), "error", execErr)
		_, err := e.transition(ctx, ent, func(n *queue.Entry) {
			n.State = queue.StateReady
			n.LastError = execErr.Error()
		})
		if err != nil && !isStale(err) {
			return fmt.Errorf("requeue %s: %w", ent.ID, err)
		}
		return nil
	}

	kind := queue.FailSubmission
	var classified interface{ FailKind() queue.FailKind }
	if errors.As(execErr, &classified) {
		kind = classified.FailKind()
	}
	return e.fail(ctx, ent, kind, execErr.Error())
}

// expand moves a ready composite to waiting and inserts its first children.
// A DeferUntil parks in deferred until its condition is confirmed.
func (e *Engine) expand(ctx context.Context, ent *queue.Entry) (bool, error) {
	state := queue.StateWaiting
	if ent.Op.Kind == op.KindDeferUntil {
		state = queue.StateDeferred
	}
	saved, err := e.transition(ctx, ent, func(n *queue.Entry) {
		n.State = state
		n.LastError = ""
	})
	if err != nil {
		if isStale(err) {
			return false, nil
		}
		return false, fmt.Errorf("expand %s: %w", ent.ID, err)
	}
	if state == queue.StateDeferred {
		return true, nil
	}
	return true, e.reconcile(ctx, saved)
}

// gate releases deferred entries whose condition the chain now confirms.
// A failed check leaves the entry deferred.
func (e *Engine) gate(ctx context.Context, logger *slog.Logger) (int, error) {
	deferred, err := e.store.ListByState(ctx, queue.StateDeferred, time.Time{}, 0)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, ent := range deferred {
		cond := ent.Op.Condition
		if cond == nil {
			if err := e.fail(ctx, ent, queue.FailInvalid, "defer_until without condition"); err != nil {
				return released, err
			}
			continue
		}
		ok, err := e.conds.Satisfied(ctx, *cond)
		if err != nil {
			if ctx.Err() != nil {
				return released, ctx.Err()
			}
			logger.Warn("condition check failed", "op_id", string(ent.ID), "condition", cond.String(), "error", err)
			continue
		}
		if !ok {
			continue
		}

		saved, err := e.transition(ctx, ent, func(n *queue.Entry) { n.State = queue.StateWaiting })
		if err != nil {
			if isStale(err) {
				continue
			}
			return released, fmt.Errorf("release %s: %w", ent.ID, err)
		}
		logger.Info("condition confirmed", "op_id", string(ent.ID), "condition", cond.String())
		released++
		if err := e.reconcile(ctx, saved); err != nil {
			return released, err
		}
	}
	return released, nil
}

func (e *Engine) succeed(ctx context.Context, ent *queue.Entry) error {
	saved, err := e.finish(ctx, ent, queue.StateSucceeded, "", "")
	if err != nil || saved == nil {
		return err
	}
	return e.settle(ctx, saved)
}

func (e *Engine) fail(ctx context.Context, ent *queue.Entry, kind queue.FailKind, msg string) error {
	saved, err := e.finish(ctx, ent, queue.StateFailed, kind, msg)
	if err != nil || saved == nil {
		return err
	}
	return e.settle(ctx, saved)
}

// finish moves ent to a terminal state. A nil entry with a nil error means
// the swap lost to a newer revision.
func (e *Engine) finish(ctx context.Context, ent *queue.Entry, state queue.State, kind queue.FailKind, msg string) (*queue.Entry, error) {
	saved, err := e.transition(ctx, ent, func(n *queue.Entry) {
		n.State = state
		n.Tag = ""
		n.FailKind = kind
		n.LastError = msg
	})
	if err != nil {
		if isStale(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("settle %s as %s: %w", ent.ID, state, err)
	}
	if ent.Tag != "" {
		e.tags.ReleaseOp(ent.ID)
	}

	logger := e.logger.With("op_id", string(ent.ID), "op", ent.Op.String())
	switch state {
	case queue.StateSucceeded:
		logger.Info("operation succeeded")
		e.events.Publish(events.TypeOpSucceeded, opEvent{ID: saved.ID, Revision: saved.Revision, State: state})
	case queue.StateFailed:
		logger.Warn("operation failed", "fail_kind", kind, "error", msg)
		e.events.Publish(events.TypeOpFailed, opEvent{ID: saved.ID, Revision: saved.Revision, State: state, FailKind: kind, Error: msg})
	}
	return saved, nil
}
