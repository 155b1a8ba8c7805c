package chain

import (
	"context"
	"fmt"
	"sort"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// Set routes executions and condition checks by chain id.
type Set struct {
	adapters map[string]*Adapter
}

func NewSet(adapters ...*Adapter) (*Set, error) {
	s := &Set{adapters: make(map[string]*Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := s.adapters[a.ChainID()]; dup {
			return nil, fmt.Errorf("chain %s configured twice", a.ChainID())
		}
		s.adapters[a.ChainID()] = a
	}
	return s, nil
}

func (s *Set) Get(chainID string) (*Adapter, bool) {
	a, ok := s.adapters[chainID]
	return a, ok
}

// ChainIDs returns the configured chain ids, sorted.
func (s *Set) ChainIDs() []string {
	out := make([]string, 0, len(s.adapters))
	for id := range s.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Set) Execute(ctx context.Context, e *queue.Entry) error {
	sub, err := DecodeSubmission(e.Op)
	if err != nil {
		return err
	}
	a, ok := s.adapters[sub.ChainID]
	if !ok {
		return &InvalidSubmissionError{Reason: fmt.Sprintf("unknown chain %s", sub.ChainID)}
	}
	return a.Execute(ctx, e)
}

func (s *Set) Satisfied(ctx context.Context, cond op.Condition) (bool, error) {
	a, ok := s.adapters[cond.ChainID]
	if !ok {
		return false, fmt.Errorf("unknown chain %s", cond.ChainID)
	}
	return a.Satisfied(ctx, cond)
}
