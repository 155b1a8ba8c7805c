package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/events"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/optimize"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

type callOutcome struct {
	plugin string
	result *protocol.Result
	err    error
}

// filter offers the oldest fresh entries to every filter-capable plugin.
// When any plugin fails to answer or answers with a malformed result,
// entries nobody decided stay fresh so that plugin gets another look next tick.
func (e *Engine) filter(ctx context.Context, logger *slog.Logger) (int, int, error) {
	fresh, err := e.store.ListByState(ctx, queue.StateFresh, e.now(), e.opts.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(fresh) == 0 {
		return 0, 0, nil
	}

	now := e.now()
	var filterers []plugin.Plugin
	for _, p := range e.registry.Filterers() {
		if e.breakers.Allow(p.Name(), now) {
			filterers = append(filterers, p)
		}
	}

	batch := items(fresh)
	outcomes := e.callAll(ctx, filterers, protocol.MethodFilterOps, func(string) []protocol.Item { return batch })
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	holdUndecided := false
	contributions := make([]optimize.Contribution, 0, len(outcomes))
	for _, out := range outcomes {
		var rejected *plugin.RejectedError
		switch {
		case errors.As(out.err, &rejected):
			// A refusal to filter is an answer: the plugin has no claims on this batch.
			logger.Info("filter plugin declined batch", "plugin", out.plugin, "reason", rejected.Reason)
			e.breakers.Success(out.plugin)
		case out.err != nil:
			holdUndecided = true
			e.pluginFailure(out.plugin, out.err, logger)
		default:
			contributions = append(contributions, optimize.Contribution{Plugin: out.plugin, Result: out.result})
		}
	}

	muts, violations := optimize.Merge(batch, contributions, e.tags)
	e.settleContributions(contributions, violations, logger)
	if len(violations) > 0 {
		holdUndecided = true
	}

	if err := e.apply(ctx, muts, index(fresh), !holdUndecided, logger); err != nil {
		return len(fresh), len(violations), err
	}
	return len(fresh), len(violations), nil
}

// callAll invokes method on every plugin concurrently. Outcomes are returned
// in the order of plugins, which is registration order.
func (e *Engine) callAll(ctx context.Context, plugins []plugin.Plugin, method string, batchFor func(name string) []protocol.Item) []callOutcome {
	outcomes := make([]callOutcome, len(plugins))
	var g errgroup.Group
	for i, p := range plugins {
		g.Go(func() error {
			res, err := e.call(ctx, p, method, batchFor(p.Name()))
			outcomes[i] = callOutcome{plugin: p.Name(), result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) call(ctx context.Context, p plugin.Plugin, method string, batch []protocol.Item) (*protocol.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	if method == protocol.MethodFilterOps {
		return p.FilterOps(cctx, batch)
	}
	return p.ProcessOps(cctx, batch)
}

// settleContributions feeds merge results into the breakers: a violation
// counts as a failure, an accepted contribution clears the count.
func (e *Engine) settleContributions(contributions []optimize.Contribution, violations []optimize.Violation, logger *slog.Logger) {
	bad := make(map[string]bool, len(violations))
	for _, v := range violations {
		bad[v.Plugin] = true
		logger.Warn("plugin contribution discarded", "plugin", v.Plugin, "error", v.Err)
		e.events.Publish(events.TypePluginMisbehaving, pluginEvent{Plugin: v.Plugin, Error: v.Err.Error()})
		e.tripIfNeeded(v.Plugin, logger)
	}
	for _, c := range contributions {
		if !bad[c.Plugin] {
			e.breakers.Success(c.Plugin)
		}
	}
}

// pluginFailure counts a failed call against the plugin's breaker. A reply
// that does not decode is misbehaviour, not just a broken transport.
func (e *Engine) pluginFailure(name string, err error, logger *slog.Logger) {
	if errors.Is(err, plugin.ErrProtocol) {
		logger.Warn("plugin reply discarded", "plugin", name, "error", err)
		e.events.Publish(events.TypePluginMisbehaving, pluginEvent{Plugin: name, Error: err.Error()})
	} else {
		logger.Warn("plugin call failed", "plugin", name, "error", err)
	}
	e.tripIfNeeded(name, logger)
}

func (e *Engine) tripIfNeeded(name string, logger *slog.Logger) {
	until, tripped := e.breakers.Failure(name, e.now())
	if !tripped {
		return
	}
	logger.Error("plugin quarantined", "plugin", name, "until", until)
	e.events.Publish(events.TypePluginMisbehaving, pluginEvent{Plugin: name, Error: "circuit breaker tripped"})
	e.events.Publish(events.TypePluginQuarantined, pluginEvent{Plugin: name, Until: until})
}

// apply writes merged mutations. byID holds the snapshot each batch item was
// built from. Every write is a compare-and-swap against that snapshot, so a
// mutation racing an operator replace is dropped.
func (e *Engine) apply(ctx context.Context, muts optimize.Mutations, byID map[op.ID]*queue.Entry, markReady bool, logger *slog.Logger) error {
	for _, m := range muts.Claims {
		cur := byID[m.ID]
		_, err := e.transition(ctx, cur, func(n *queue.Entry) {
			n.State = queue.StateClaimed
			n.Tag = m.Tag.String()
		})
		if err != nil {
			if !isStale(err) {
				e.tags.Release(m.Tag)
				return fmt.Errorf("claim %s: %w", m.ID, err)
			}
			if stored, gerr := e.store.Get(ctx, m.ID); gerr == nil {
				e.restoreTag(stored, &m.Tag)
			} else {
				e.tags.Release(m.Tag)
			}
			logger.Debug("dropped stale claim", "op_id", string(m.ID), "tag", m.Tag.String())
			continue
		}
		logger.Debug("operation claimed", "op_id", string(m.ID), "tag", m.Tag.String())
	}

	ready := muts.Ready
	for _, m := range muts.Replacements {
		cur := byID[m.ID]
		if cur.Op.Equal(m.Op) {
			// Handing an operation back unmodified is not a rewrite.
			ready = append(ready, optimize.ReadyMutation{ID: m.ID, Revision: m.Revision})
			continue
		}
		saved, err := e.store.CompareAndSwap(ctx, resetEntry(cur, m.Op), m.Revision)
		if err != nil {
			if !isStale(err) {
				return fmt.Errorf("replace %s: %w", m.ID, err)
			}
			logger.Debug("dropped stale replacement", "op_id", string(m.ID), "plugin", m.Plugin)
			continue
		}
		if cur.Tag != "" {
			e.tags.ReleaseOp(m.ID)
		}
		logger.Info("operation replaced by plugin", "op_id", string(m.ID), "plugin", m.Plugin, "revision", saved.Revision)
		e.events.Publish(events.TypeOpReplaced, opEvent{ID: m.ID, Revision: saved.Revision, Op: m.Op.String()})
	}

	for _, m := range muts.Enqueues {
		if err := e.admit(ctx, m, logger); err != nil {
			return err
		}
	}

	if !markReady {
		return nil
	}
	for _, m := range ready {
		cur := byID[m.ID]
		_, err := e.transition(ctx, cur, func(n *queue.Entry) {
			n.State = queue.StateReady
			n.Tag = ""
		})
		if err != nil {
			if !isStale(err) {
				return fmt.Errorf("ready %s: %w", m.ID, err)
			}
			continue
		}
		if cur.Tag != "" {
			e.tags.ReleaseOp(m.ID)
		}
	}
	return nil
}

// admit inserts plugin-synthesized work. Replaying a merge finds the entry
// already present and leaves it alone.
func (e *Engine) admit(ctx context.Context, m optimize.Enqueue, logger *slog.Logger) error {
	ent := &queue.Entry{ID: m.ID, Op: m.Op}
	if m.Tag != nil {
		ent.State = queue.StateClaimed
		ent.Tag = m.Tag.String()
	}

	stored, inserted, err := e.store.Insert(ctx, ent)
	if err != nil {
		if m.Tag != nil {
			e.tags.Release(*m.Tag)
		}
		return fmt.Errorf("admit %s: %w", m.ID, err)
	}
	if !inserted {
		e.restoreTag(stored, m.Tag)
		return nil
	}

	logger.Info("plugin proposed operation", "op_id", string(m.ID), "plugin", m.Plugin, "op", m.Op.String(), "tag", ent.Tag)
	e.events.Publish(events.TypeOpEnqueued, opEvent{ID: m.ID, Revision: stored.Revision, Op: m.Op.String()})
	return nil
}

// restoreTag makes the tag manager agree with a stored entry after a claim
// that was never written bound proposed to it.
func (e *Engine) restoreTag(stored *queue.Entry, proposed *tag.Tag) {
	if proposed == nil || stored.Tag == proposed.String() {
		return
	}
	e.tags.Release(*proposed)
	if stored.Tag == "" {
		return
	}
	if t, err := tag.Parse(stored.Tag); err == nil {
		_ = e.tags.Claim(t, stored.ID)
	}
}

func items(entries []*queue.Entry) []protocol.Item {
	out := make([]protocol.Item, 0, len(entries))
	for _, ent := range entries {
		out = append(out, protocol.Item{ID: ent.ID, Revision: ent.Revision, Tag: ent.Tag, Op: ent.Op})
	}
	return out
}

func index(entries []*queue.Entry) map[op.ID]*queue.Entry {
	out := make(map[op.ID]*queue.Entry, len(entries))
	for _, ent := range entries {
		out[ent.ID] = ent
	}
	return out
}
