package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/optimize"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/plugin"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

// process hands claimed entries back to the plugin that owns their tag.
func (e *Engine) process(ctx context.Context, logger *slog.Logger) (int, int, error) {
	claimed, err := e.store.ListByState(ctx, queue.StateClaimed, e.now(), 0)
	if err != nil {
		return 0, 0, err
	}
	if len(claimed) == 0 {
		return 0, 0, nil
	}

	now := e.now()
	groups := make(map[string][]*queue.Entry)
	for _, ent := range claimed {
		owner, err := e.tags.OwnerOf(ent.Tag)
		if err != nil {
			logger.Warn("claimed entry has no usable tag, returning to fresh", "op_id", string(ent.ID), "tag", ent.Tag)
			if err := e.unclaim(ctx, ent, queue.StateFresh); err != nil {
				return 0, 0, err
			}
			continue
		}

		_, processor := e.registry.Processor(owner)
		switch {
		case !processor:
			// A filter-only owner is done with the entry; an unknown owner
			// never held it.
			next := queue.StateReady
			if _, registered := e.registry.Get(owner); !registered {
				logger.Warn("tag owner is not registered, returning to fresh", "op_id", string(ent.ID), "plugin", owner)
				next = queue.StateFresh
			}
			if err := e.unclaim(ctx, ent, next); err != nil {
				return 0, 0, err
			}
		case !e.breakers.Allow(owner, now):
			// Quarantined owners keep their claims until the breaker resets.
		case len(groups[owner]) < e.opts.BatchSize:
			groups[owner] = append(groups[owner], ent)
		}
	}

	// Move each group to processing; the plugin sees the post-swap revisions.
	var (
		plugins []plugin.Plugin
		batches = make(map[string][]*queue.Entry)
		total   int
	)
	for _, p := range e.registry.All() {
		group := groups[p.Name()]
		if len(group) == 0 {
			continue
		}
		var moved []*queue.Entry
		for _, ent := range group {
			saved, err := e.transition(ctx, ent, func(n *queue.Entry) { n.State = queue.StateProcessing })
			if err != nil {
				if !isStale(err) {
					return total, 0, fmt.Errorf("start processing %s: %w", ent.ID, err)
				}
				continue
			}
			moved = append(moved, saved)
		}
		if len(moved) == 0 {
			continue
		}
		plugins = append(plugins, p)
		batches[p.Name()] = moved
		total += len(moved)
	}
	if len(plugins) == 0 {
		return 0, 0, nil
	}

	outcomes := e.callAll(ctx, plugins, protocol.MethodProcessOps, func(name string) []protocol.Item {
		return items(batches[name])
	})
	if err := ctx.Err(); err != nil {
		// Entries left in processing are re-claimed by Recover.
		return total, 0, err
	}

	violations := 0
	for _, out := range outcomes {
		batch := batches[out.plugin]
		n, err := e.settleProcess(ctx, out, batch, logger)
		violations += n
		if err != nil {
			return total, violations, err
		}
	}
	return total, violations, nil
}

func (e *Engine) settleProcess(ctx context.Context, out callOutcome, batch []*queue.Entry, logger *slog.Logger) (int, error) {
	var rejected *plugin.RejectedError
	switch {
	case errors.As(out.err, &rejected):
		e.breakers.Success(out.plugin)
		for _, ent := range batch {
			if err := e.fail(ctx, ent, queue.FailRejected, rejected.Reason); err != nil {
				return 0, err
			}
		}
		return 0, nil
	case out.err != nil:
		e.pluginFailure(out.plugin, out.err, logger)
		return 0, e.reclaim(ctx, batch)
	}

	contributions := []optimize.Contribution{{Plugin: out.plugin, Result: out.result}}
	muts, violations := optimize.Merge(items(batch), contributions, e.tags)
	e.settleContributions(contributions, violations, logger)
	if len(violations) > 0 {
		return len(violations), e.reclaim(ctx, batch)
	}
	return 0, e.apply(ctx, muts, index(batch), true, logger)
}

// reclaim returns processing entries to claimed, keeping their tags.
func (e *Engine) reclaim(ctx context.Context, batch []*queue.Entry) error {
	for _, ent := range batch {
		_, err := e.transition(ctx, ent, func(n *queue.Entry) { n.State = queue.StateClaimed })
		if err != nil && !isStale(err) {
			return fmt.Errorf("reclaim %s: %w", ent.ID, err)
		}
	}
	return nil
}

// unclaim drops ent's tag and moves it to state.
func (e *Engine) unclaim(ctx context.Context, ent *queue.Entry, state queue.State) error {
	_, err := e.transition(ctx, ent, func(n *queue.Entry) {
		n.State = state
		n.Tag = ""
	})
	if err != nil {
		if isStale(err) {
			return nil
		}
		return fmt.Errorf("unclaim %s: %w", ent.ID, err)
	}
	if t, perr := tag.Parse(ent.Tag); perr == nil {
		e.tags.Release(t)
	} else {
		e.tags.ReleaseOp(ent.ID)
	}
	return nil
}
