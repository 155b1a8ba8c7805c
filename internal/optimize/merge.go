// Package optimize merges plugin optimization results into one consistent set
// of queue mutations.
//
// Contributions are applied in the order the caller passes them (plugin
// registration order), so claim races resolve the same way on every replay.
// The first plugin that successfully claims or replaces an operation decides
// it for the round; later opinions on that operation are dropped silently.
// A contribution that breaks the protocol is discarded as a whole and the
// rest of the merge proceeds.
package optimize

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

// ErrProtocolViolation marks a contribution that was discarded.
var ErrProtocolViolation = errors.New("protocol violation")

// Claimer is the slice of the tag manager used by Merge.
type Claimer interface {
	Claim(t tag.Tag, id op.ID) error
}

// Contribution is one plugin's result for the batch.
type Contribution struct {
	Plugin string
	Result *protocol.Result
}

// Violation describes a discarded contribution.
type Violation struct {
	Plugin string
	Err    error
}

func (v Violation) Error() string {
	return fmt.Sprintf("plugin %s: %v", v.Plugin, v.Err)
}

func (v Violation) Unwrap() error { return v.Err }

// ClaimMutation binds a batch operation to a tag.
type ClaimMutation struct {
	ID       op.ID
	Revision uint64
	Tag      tag.Tag
}

// ReplaceMutation rewrites a batch operation at the revision the plugin saw.
type ReplaceMutation struct {
	ID       op.ID
	Revision uint64
	Op       op.Op
	Plugin   string
}

// Enqueue admits plugin-synthesized work under an engine-derived id.
type Enqueue struct {
	ID     op.ID
	Op     op.Op
	Tag    *tag.Tag
	Plugin string
}

// ReadyMutation marks a batch operation nobody claimed or replaced.
type ReadyMutation struct {
	ID       op.ID
	Revision uint64
}

// Mutations is the merged outcome of one dispatch round.
type Mutations struct {
	Claims       []ClaimMutation
	Replacements []ReplaceMutation
	Enqueues     []Enqueue
	Ready        []ReadyMutation
}

// Merge combines contributions for batch into one mutation set. claimer
// arbitrates tag ownership; a claim it rejects is dropped.
func Merge(batch []protocol.Item, contributions []Contribution, claimer Claimer) (Mutations, []Violation) {
	var (
		out        Mutations
		violations []Violation
	)

	index := make(map[op.ID]protocol.Item, len(batch))
	for _, it := range batch {
		index[it.ID] = it
	}
	key := BatchKey(batch)
	decided := make(map[op.ID]bool, len(batch))

	for _, c := range contributions {
		if err := validate(c, index); err != nil {
			violations = append(violations, Violation{Plugin: c.Plugin, Err: fmt.Errorf("%w: %v", ErrProtocolViolation, err)})
			continue
		}
		if c.Result == nil {
			continue
		}

		for _, cl := range c.Result.Claims {
			if decided[cl.ID] {
				continue
			}
			t := tag.Tag{Plugin: c.Plugin, Key: cl.Key}
			if err := claimer.Claim(t, cl.ID); err != nil {
				continue
			}
			decided[cl.ID] = true
			out.Claims = append(out.Claims, ClaimMutation{ID: cl.ID, Revision: index[cl.ID].Revision, Tag: t})
		}

		for _, r := range c.Result.Replacements {
			if decided[r.ID] {
				continue
			}
			if r.Revision != index[r.ID].Revision {
				continue
			}
			decided[r.ID] = true
			out.Replacements = append(out.Replacements, ReplaceMutation{ID: r.ID, Revision: r.Revision, Op: r.Op, Plugin: c.Plugin})
		}

		for i, p := range c.Result.New {
			id := op.DeriveID(key, c.Plugin, strconv.Itoa(i), p.Op.HashHex())
			enq := Enqueue{ID: id, Op: p.Op, Plugin: c.Plugin}
			if p.Key != "" {
				t := tag.Tag{Plugin: c.Plugin, Key: p.Key}
				if err := claimer.Claim(t, id); err == nil {
					enq.Tag = &t
				}
			}
			out.Enqueues = append(out.Enqueues, enq)
		}
	}

	for _, it := range batch {
		if !decided[it.ID] {
			out.Ready = append(out.Ready, ReadyMutation{ID: it.ID, Revision: it.Revision})
		}
	}
	return out, violations
}

func validate(c Contribution, index map[op.ID]protocol.Item) error {
	if err := tag.ValidatePluginName(c.Plugin); err != nil {
		return err
	}
	res := c.Result
	if res == nil {
		return nil
	}

	known := func(id op.ID) error {
		if _, ok := index[id]; !ok {
			return fmt.Errorf("unknown operation id %q", id)
		}
		return nil
	}

	for _, id := range res.Ready {
		if err := known(id); err != nil {
			return fmt.Errorf("ready: %w", err)
		}
	}

	claimed := make(map[op.ID]string, len(res.Claims))
	for _, cl := range res.Claims {
		if err := known(cl.ID); err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if _, err := tag.New(c.Plugin, cl.Key); err != nil {
			return fmt.Errorf("claim %s: %w", cl.ID, err)
		}
		if prev, ok := claimed[cl.ID]; ok && prev != cl.Key {
			return fmt.Errorf("claim: %s claimed as both %q and %q", cl.ID, prev, cl.Key)
		}
		claimed[cl.ID] = cl.Key
	}

	replaced := make(map[op.ID]bool, len(res.Replacements))
	for _, r := range res.Replacements {
		if err := known(r.ID); err != nil {
			return fmt.Errorf("replacement: %w", err)
		}
		if _, ok := claimed[r.ID]; ok {
			return fmt.Errorf("replacement: %s is also claimed", r.ID)
		}
		if replaced[r.ID] {
			return fmt.Errorf("replacement: %s replaced twice", r.ID)
		}
		replaced[r.ID] = true
		if err := r.Op.Validate(); err != nil {
			return fmt.Errorf("replacement %s: %w", r.ID, err)
		}
	}

	for i, p := range res.New {
		if err := p.Op.Validate(); err != nil {
			return fmt.Errorf("new[%d]: %w", i, err)
		}
	}
	return nil
}

// BatchKey identifies a batch by the (id, revision) pairs it was built from.
func BatchKey(batch []protocol.Item) string {
	pairs := make([]string, 0, len(batch))
	for _, it := range batch {
		pairs = append(pairs, string(it.ID)+":"+strconv.FormatUint(it.Revision, 10))
	}
	sort.Strings(pairs)

	h := blake3.New()
	for _, p := range pairs {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
