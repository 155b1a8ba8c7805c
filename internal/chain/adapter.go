// Package chain executes leaf operations against configured chains and
// confirms DeferUntil height conditions.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/log"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// Config describes one chain.
type Config struct {
	Name       string
	MinBalance uint64
	Denom      string
	Keyring    string
	Keys       []Key
}

// Height is a block height qualified by the chain's revision number.
type Height struct {
	RevisionNumber uint64 `json:"revision_number"`
	RevisionHeight uint64 `json:"revision_height"`
}

// Submission is the payload of a leaf operation bound for a chain.
type Submission struct {
	ChainID            string            `json:"chain_id"`
	ClientCodeChecksum string            `json:"client_code_checksum,omitempty"`
	Msgs               []json.RawMessage `json:"msgs"`
}

// Adapter binds a Client to one chain.
type Adapter struct {
	cfg       Config
	client    Client
	chainID   string
	revision  uint64
	keyring   *Keyring
	checksums *ChecksumCache
	logger    *slog.Logger
}

// New queries the chain once to learn its id and revision number.
func New(ctx context.Context, cfg Config, client Client) (*Adapter, error) {
	status, err := client.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, cfg.Name, err)
	}
	revision, err := ParseRevision(status.ChainID)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("chain").With("chain_id", status.ChainID)
	if cfg.Name != "" && !strings.HasPrefix(status.ChainID, cfg.Name+"-") {
		logger.Warn("configured chain name does not match reported chain id", "name", cfg.Name)
	}

	a := &Adapter{
		cfg:       cfg,
		client:    client,
		chainID:   status.ChainID,
		revision:  revision,
		checksums: NewChecksumCache(),
		logger:    logger,
	}
	a.keyring = NewKeyring(status.ChainID, cfg.Keyring, cfg.Keys, cfg.MinBalance, func(ctx context.Context, address string) (uint64, error) {
		return client.Balance(ctx, address, cfg.Denom)
	}, logger)
	return a, nil
}

// ParseRevision extracts the revision number from <name>-<revision>.
func ParseRevision(chainID string) (uint64, error) {
	idx := strings.LastIndex(chainID, "-")
	if idx <= 0 || idx == len(chainID)-1 {
		return 0, &ChainIDFormatError{Found: chainID, Err: errors.New("missing revision suffix")}
	}
	n, err := strconv.ParseUint(chainID[idx+1:], 10, 64)
	if err != nil {
		return 0, &ChainIDFormatError{Found: chainID, Err: err}
	}
	return n, nil
}

func (a *Adapter) ChainID() string { return a.chainID }

func (a *Adapter) Revision() uint64 { return a.revision }

// MakeHeight stamps h with this chain's revision number.
func (a *Adapter) MakeHeight(h uint64) Height {
	return Height{RevisionNumber: a.revision, RevisionHeight: h}
}

// Satisfied confirms a height condition. A condition on an older revision
// is satisfied by any height of a newer one.
func (a *Adapter) Satisfied(ctx context.Context, cond op.Condition) (bool, error) {
	if cond.Kind != op.ConditionHeight {
		return false, fmt.Errorf("unsupported condition %q", cond.Kind)
	}
	if cond.ChainID != a.chainID {
		return false, fmt.Errorf("condition for %s routed to %s", cond.ChainID, a.chainID)
	}

	revision := cond.Revision
	if revision == 0 {
		revision = a.revision
	}
	switch {
	case revision < a.revision:
		return true, nil
	case revision > a.revision:
		return false, nil
	}

	status, err := a.client.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("query status: %w", err)
	}
	return status.Height >= cond.Height, nil
}

// Execute submits the leaf payload of e through the next available signer.
func (a *Adapter) Execute(ctx context.Context, e *queue.Entry) error {
	sub, err := DecodeSubmission(e.Op)
	if err != nil {
		return err
	}
	if sub.ChainID != a.chainID {
		return &InvalidSubmissionError{Reason: fmt.Sprintf("submission for %s routed to %s", sub.ChainID, a.chainID)}
	}

	var clientType string
	if sub.ClientCodeChecksum != "" {
		sum, err := ParseChecksum(sub.ClientCodeChecksum)
		if err != nil {
			return &InvalidSubmissionError{Reason: err.Error()}
		}
		clientType, err = a.checksums.Resolve(ctx, sum, a.client.ClientType)
		if err != nil {
			return err
		}
	}

	logger := a.logger.With("op_id", string(e.ID))
	return a.keyring.With(ctx, func(key Key) error {
		res, err := a.client.Submit(ctx, SubmitRequest{
			ChainID:    a.chainID,
			Signer:     key.Address,
			ClientType: clientType,
			Msgs:       sub.Msgs,
		})
		if err != nil {
			return fmt.Errorf("submit with %s: %w", key.Name, err)
		}
		logger.Info("submitted", "signer", key.Name, "tx_hash", res.TxHash, "msgs", len(sub.Msgs))
		return nil
	})
}

// DecodeSubmission reads the Submission carried by a leaf.
func DecodeSubmission(o op.Op) (Submission, error) {
	var sub Submission
	if o.Kind != op.KindLeaf {
		return sub, &InvalidSubmissionError{Reason: fmt.Sprintf("cannot execute %s", o.Kind)}
	}
	if err := json.Unmarshal(o.Payload, &sub); err != nil {
		return sub, &InvalidSubmissionError{Reason: fmt.Sprintf("payload is not a submission: %v", err)}
	}
	if sub.ChainID == "" {
		return sub, &InvalidSubmissionError{Reason: "chain_id is empty"}
	}
	if len(sub.Msgs) == 0 {
		return sub, &InvalidSubmissionError{Reason: "no msgs"}
	}
	return sub, nil
}
