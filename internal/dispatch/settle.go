package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// childID is deterministic so inserting the same child twice is a no-op.
// Retry attempts use the attempt index as position.
func childID(parent op.ID, position int) op.ID {
	return op.DeriveID(string(parent), "child", strconv.Itoa(position))
}

// childOp returns the operation a composite runs at position.
func childOp(parent op.Op, position int) (op.Op, bool) {
	switch parent.Kind {
	case op.KindSeq, op.KindAggregate:
		children := parent.ChildOps()
		if position < 0 || position >= len(children) {
			return op.Op{}, false
		}
		return children[position], true
	case op.KindRetry, op.KindDeferUntil:
		return parent.Unwrap()
	default:
		return op.Op{}, false
	}
}

// settle propagates a terminal child to its parent.
func (e *Engine) settle(ctx context.Context, child *queue.Entry) error {
	if child.Root() {
		return nil
	}
	parent, err := e.store.Get(ctx, child.ParentID)
	if errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return e.reconcile(ctx, parent)
}

// reconcile brings a waiting composite in line with its children: it inserts
// whichever child should exist next, or settles the composite. It derives
// everything from stored children, so running it twice is harmless.
func (e *Engine) reconcile(ctx context.Context, parent *queue.Entry) error {
	if parent.State != queue.StateWaiting {
		return nil
	}
	children, err := e.store.Children(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("load children of %s: %w", parent.ID, err)
	}

	switch parent.Op.Kind {
	case op.KindSeq:
		return e.reconcileSeq(ctx, parent, children)
	case op.KindRetry:
		return e.reconcileRetry(ctx, parent, children)
	case op.KindDeferUntil:
		return e.reconcileDefer(ctx, parent, children)
	case op.KindAggregate:
		return e.reconcileAggregate(ctx, parent, children)
	default:
		return e.fail(ctx, parent, queue.FailInvalid, fmt.Sprintf("%s cannot wait on children", parent.Op.Kind))
	}
}

// Seq runs one child at a time and fails on the first failure, so later
// children are never inserted.
func (e *Engine) reconcileSeq(ctx context.Context, parent *queue.Entry, children []*queue.Entry) error {
	last := lastChild(children)
	if last == nil {
		return e.insertChild(ctx, parent, 0, time.Time{})
	}
	switch last.State {
	case queue.StateFailed:
		return e.fail(ctx, parent, last.FailKind, fmt.Sprintf("step %d: %s", last.Position, last.LastError))
	case queue.StateSucceeded:
		if last.Position+1 < len(parent.Op.ChildOps()) {
			return e.insertChild(ctx, parent, last.Position+1, time.Time{})
		}
		return e.succeed(ctx, parent)
	}
	return nil
}

// Retry allows Attempts resubmissions after the first try. Each resubmission
// spends one attempt on the parent before the next child is inserted, and the
// parent's LastError records which attempt was spent so a crash between the
// two writes does not spend it twice. An interrupted attempt is never retried:
// the submission may have landed.
func (e *Engine) reconcileRetry(ctx context.Context, parent *queue.Entry, children []*queue.Entry) error {
	last := lastChild(children)
	if last == nil {
		return e.insertChild(ctx, parent, 0, time.Time{})
	}
	switch last.State {
	case queue.StateSucceeded:
		return e.succeed(ctx, parent)
	case queue.StateFailed:
		if last.FailKind == queue.FailInterrupted {
			return e.fail(ctx, parent, last.FailKind, fmt.Sprintf("attempt %d interrupted: %s", last.Position, last.LastError))
		}
		spent := attemptSpent(last)
		if parent.LastError != spent {
			if parent.Op.Attempts <= 0 {
				return e.fail(ctx, parent, last.FailKind, fmt.Sprintf("attempts exhausted: %s", last.LastError))
			}
			saved, err := e.transition(ctx, parent, func(n *queue.Entry) {
				n.Op = n.Op.WithAttempts(n.Op.Attempts - 1)
				n.LastError = spent
			})
			if err != nil {
				if isStale(err) {
					return nil
				}
				return err
			}
			parent = saved
		}
		delay := parent.Op.RetryBackoff().Delay(last.Position)
		e.logger.Info("retrying operation", "op_id", string(parent.ID),
			"attempt", last.Position+1, "attempts_remaining", parent.Op.Attempts, "delay", delay.String())
		return e.insertChild(ctx, parent, last.Position+1, e.now().Add(delay))
	}
	return nil
}

func attemptSpent(last *queue.Entry) string {
	return fmt.Sprintf("attempt %d failed: %s", last.Position, last.LastError)
}

func (e *Engine) reconcileDefer(ctx context.Context, parent *queue.Entry, children []*queue.Entry) error {
	last := lastChild(children)
	if last == nil {
		return e.insertChild(ctx, parent, 0, time.Time{})
	}
	switch last.State {
	case queue.StateSucceeded:
		return e.succeed(ctx, parent)
	case queue.StateFailed:
		return e.fail(ctx, parent, last.FailKind, last.LastError)
	}
	return nil
}

// Aggregate runs every child at once. Under all the first failure decides;
// under any the first success does. Unsettled siblings of a decided
// aggregate are superseded.
func (e *Engine) reconcileAggregate(ctx context.Context, parent *queue.Entry, children []*queue.Entry) error {
	want := len(parent.Op.ChildOps())
	if len(children) < want {
		present := make(map[int]bool, len(children))
		for _, c := range children {
			present[c.Position] = true
		}
		for pos := 0; pos < want; pos++ {
			if present[pos] {
				continue
			}
			if err := e.insertChild(ctx, parent, pos, time.Time{}); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		firstFailed    *queue.Entry
		firstSucceeded *queue.Entry
		settled        int
	)
	for _, c := range children {
		switch c.State {
		case queue.StateFailed:
			settled++
			if firstFailed == nil {
				firstFailed = c
			}
		case queue.StateSucceeded:
			settled++
			if firstSucceeded == nil {
				firstSucceeded = c
			}
		case queue.StateSuperseded:
			settled++
		}
	}

	var (
		saved *queue.Entry
		err   error
	)
	switch parent.Op.Combinator {
	case op.CombineAny:
		switch {
		case firstSucceeded != nil:
			saved, err = e.finish(ctx, parent, queue.StateSucceeded, "", "")
		case settled == len(children):
			kind, msg := queue.FailSubmission, "every alternative failed"
			if firstFailed != nil {
				kind, msg = firstFailed.FailKind, fmt.Sprintf("every alternative failed, first: %s", firstFailed.LastError)
			}
			saved, err = e.finish(ctx, parent, queue.StateFailed, kind, msg)
		default:
			return nil
		}
	default:
		switch {
		case firstFailed != nil:
			saved, err = e.finish(ctx, parent, queue.StateFailed, firstFailed.FailKind,
				fmt.Sprintf("child %d: %s", firstFailed.Position, firstFailed.LastError))
		case settled == len(children):
			saved, err = e.finish(ctx, parent, queue.StateSucceeded, "", "")
		default:
			return nil
		}
	}
	if err != nil || saved == nil {
		return err
	}

	for _, c := range children {
		if !c.State.Terminal() {
			if err := e.supersede(ctx, c); err != nil {
				return err
			}
		}
	}
	return e.settle(ctx, saved)
}

func (e *Engine) insertChild(ctx context.Context, parent *queue.Entry, position int, notBefore time.Time) error {
	o, ok := childOp(parent.Op, position)
	if !ok {
		return e.fail(ctx, parent, queue.FailInvalid, fmt.Sprintf("%s has no child at %d", parent.Op.Kind, position))
	}
	_, inserted, err := e.store.Insert(ctx, &queue.Entry{
		ID:        childID(parent.ID, position),
		ParentID:  parent.ID,
		Position:  position,
		Op:        o,
		NotBefore: notBefore,
	})
	if err != nil {
		return fmt.Errorf("insert child %d of %s: %w", position, parent.ID, err)
	}
	if inserted {
		e.logger.Debug("child inserted", "op_id", string(parent.ID), "position", position, "op", o.String())
	}
	return nil
}

// supersede retires ent and everything below it. A concurrent swap is
// retried against the fresh revision.
func (e *Engine) supersede(ctx context.Context, ent *queue.Entry) error {
	for range 3 {
		if ent.State.Terminal() {
			return nil
		}
		_, err := e.transition(ctx, ent, func(n *queue.Entry) {
			n.State = queue.StateSuperseded
			n.Tag = ""
		})
		if err == nil {
			if ent.Tag != "" {
				e.tags.ReleaseOp(ent.ID)
			}
			e.logger.Debug("operation superseded", "op_id", string(ent.ID))
			if ent.Op.IsLeaf() {
				return nil
			}
			return e.supersedeChildren(ctx, ent.ID)
		}
		if !isStale(err) {
			return fmt.Errorf("supersede %s: %w", ent.ID, err)
		}
		if ent, err = e.store.Get(ctx, ent.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("supersede %s: %w", ent.ID, op.ErrStaleRevision)
}

func (e *Engine) supersedeChildren(ctx context.Context, parent op.ID) error {
	children, err := e.store.Children(ctx, parent)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := e.supersede(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func lastChild(children []*queue.Entry) *queue.Entry {
	var last *queue.Entry
	for _, c := range children {
		if last == nil || c.Position > last.Position {
			last = c
		}
	}
	return last
}
