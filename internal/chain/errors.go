package chain

import (
	"errors"
	"fmt"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// ErrUnreachable is returned by New when the chain's RPC endpoint cannot be queried.
var ErrUnreachable = errors.New("chain unreachable")

// ChainIDFormatError reports a chain id that is not <name>-<revision-number>.
type ChainIDFormatError struct {
	Found string
	Err   error
}

func (e *ChainIDFormatError) Error() string {
	return fmt.Sprintf("chain id %q is not of the form <name>-<revision>: %v", e.Found, e.Err)
}

func (e *ChainIDFormatError) Unwrap() error { return e.Err }

// NoSignerError means every key in the keyring was busy or underfunded.
// Nothing was submitted, so the operation can be retried later.
type NoSignerError struct {
	ChainID string
	Keyring string
}

func (e *NoSignerError) Error() string {
	return fmt.Sprintf("no signer available in keyring %q on %s", e.Keyring, e.ChainID)
}

func (e *NoSignerError) Temporary() bool { return true }

// InvalidSubmissionError is a leaf payload the chain layer cannot submit.
type InvalidSubmissionError struct {
	Reason string
}

func (e *InvalidSubmissionError) Error() string {
	return "invalid submission: " + e.Reason
}

// FailKind classifies the failure for the queue.
func (e *InvalidSubmissionError) FailKind() queue.FailKind { return queue.FailInvalid }
