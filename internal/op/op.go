package op

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// Kind discriminates the Op variants.
type Kind string

const (
	KindLeaf       Kind = "leaf"
	KindSeq        Kind = "seq"
	KindRetry      Kind = "retry"
	KindDeferUntil Kind = "defer_until"
	KindAggregate  Kind = "aggregate"
)

// Combinator decides how an Aggregate settles once its children settle.
type Combinator string

const (
	// CombineAll succeeds when every child succeeds and fails on the first failure.
	CombineAll Combinator = "all"
	// CombineAny succeeds on the first success and fails only when every child failed.
	CombineAny Combinator = "any"
)

// ConditionHeight is satisfied once a chain reaches a (revision, height) pair.
const ConditionHeight = "height"

// Condition is an externally confirmed precondition for a DeferUntil operation.
type Condition struct {
	Kind     string `json:"kind"`
	ChainID  string `json:"chain_id"`
	Revision uint64 `json:"revision,omitempty"`
	Height   uint64 `json:"height"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s(%s %d-%d)", c.Kind, c.ChainID, c.Revision, c.Height)
}

// Backoff is an exponential delay policy between Retry attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns base*2^n capped at Max (when Max is set).
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

type backoffJSON struct {
	Base string `json:"base,omitempty"`
	Max  string `json:"max,omitempty"`
}

func (b Backoff) MarshalJSON() ([]byte, error) {
	var out backoffJSON
	if b.Base > 0 {
		out.Base = b.Base.String()
	}
	if b.Max > 0 {
		out.Max = b.Max.String()
	}
	return json.Marshal(out)
}

func (b *Backoff) UnmarshalJSON(data []byte) error {
	var in backoffJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = Backoff{}
	if in.Base != "" {
		d, err := time.ParseDuration(in.Base)
		if err != nil {
			return fmt.Errorf("backoff.base: %w", err)
		}
		b.Base = d
	}
	if in.Max != "" {
		d, err := time.ParseDuration(in.Max)
		if err != nil {
			return fmt.Errorf("backoff.max: %w", err)
		}
		b.Max = d
	}
	return nil
}

// Op is a node of the relay work tree. Only the fields of its Kind are set.
type Op struct {
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Children   []Op            `json:"children,omitempty"`
	Inner      *Op             `json:"inner,omitempty"`
	Attempts   int             `json:"attempts_remaining,omitempty"`
	Backoff    *Backoff        `json:"backoff,omitempty"`
	Condition  *Condition      `json:"condition,omitempty"`
	Combinator Combinator      `json:"combinator,omitempty"`
}

// Leaf wraps an opaque payload. The payload must be valid JSON.
func Leaf(payload []byte) Op {
	return Op{Kind: KindLeaf, Payload: json.RawMessage(payload)}
}

// LeafString is Leaf with a JSON string payload.
func LeafString(s string) Op {
	b, _ := json.Marshal(s)
	return Leaf(b)
}

func Seq(children ...Op) Op {
	return Op{Kind: KindSeq, Children: children}
}

func Retry(inner Op, attempts int, backoff Backoff) Op {
	return Op{Kind: KindRetry, Inner: &inner, Attempts: attempts, Backoff: &backoff}
}

func DeferUntil(cond Condition, inner Op) Op {
	return Op{Kind: KindDeferUntil, Condition: &cond, Inner: &inner}
}

func Aggregate(combinator Combinator, children ...Op) Op {
	return Op{Kind: KindAggregate, Combinator: combinator, Children: children}
}

// IsLeaf reports whether o is executed directly rather than unwrapped by the engine.
func (o Op) IsLeaf() bool {
	return o.Kind == KindLeaf
}

// ChildOps returns the ordered children of a Seq or Aggregate, nil otherwise.
func (o Op) ChildOps() []Op {
	switch o.Kind {
	case KindSeq, KindAggregate:
		return o.Children
	default:
		return nil
	}
}

// Unwrap returns the inner operation of a Retry or DeferUntil.
func (o Op) Unwrap() (Op, bool) {
	switch o.Kind {
	case KindRetry, KindDeferUntil:
		if o.Inner == nil {
			return Op{}, false
		}
		return *o.Inner, true
	default:
		return Op{}, false
	}
}

// WithAttempts returns a copy of a Retry with a different remaining budget.
func (o Op) WithAttempts(n int) Op {
	out := o
	out.Attempts = n
	return out
}

// RetryBackoff returns the Retry backoff policy, zero when none was set.
func (o Op) RetryBackoff() Backoff {
	if o.Backoff == nil {
		return Backoff{}
	}
	return *o.Backoff
}

// Validate checks the tree is well formed.
func (o Op) Validate() error {
	switch o.Kind {
	case KindLeaf:
		if len(o.Payload) == 0 {
			return errors.New("leaf: payload is empty")
		}
		if !json.Valid(o.Payload) {
			return errors.New("leaf: payload is not valid JSON")
		}
		return nil
	case KindSeq, KindAggregate:
		if len(o.Children) == 0 {
			return fmt.Errorf("%s: no children", o.Kind)
		}
		if o.Kind == KindAggregate && o.Combinator != CombineAll && o.Combinator != CombineAny {
			return fmt.Errorf("aggregate: invalid combinator %q", o.Combinator)
		}
		for i, c := range o.Children {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", o.Kind, i, err)
			}
		}
		return nil
	case KindRetry:
		if o.Inner == nil {
			return errors.New("retry: inner is nil")
		}
		if o.Attempts < 0 {
			return fmt.Errorf("retry: negative attempts_remaining %d", o.Attempts)
		}
		if err := o.Inner.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		return nil
	case KindDeferUntil:
		if o.Inner == nil {
			return errors.New("defer_until: inner is nil")
		}
		if o.Condition == nil {
			return errors.New("defer_until: condition is nil")
		}
		if o.Condition.Kind != ConditionHeight {
			return fmt.Errorf("defer_until: unsupported condition %q", o.Condition.Kind)
		}
		if o.Condition.ChainID == "" {
			return errors.New("defer_until: condition chain_id is empty")
		}
		if err := o.Inner.Validate(); err != nil {
			return fmt.Errorf("defer_until: %w", err)
		}
		return nil
	case "":
		return errors.New("kind is empty")
	default:
		return fmt.Errorf("unknown kind %q", o.Kind)
	}
}

// Hash is a BLAKE3 digest of the canonical JSON encoding of o.
func (o Op) Hash() [32]byte {
	data, err := json.Marshal(o)
	if err != nil {
		// Only reachable with an invalid leaf payload; hash the raw bytes instead.
		var buf bytes.Buffer
		buf.WriteString(string(o.Kind))
		buf.Write(o.Payload)
		return blake3.Sum256(buf.Bytes())
	}
	return blake3.Sum256(data)
}

// HashHex is the hex form of Hash.
func (o Op) HashHex() string {
	h := o.Hash()
	return hex.EncodeToString(h[:])
}

// Equal compares two operations structurally.
func (o Op) Equal(other Op) bool {
	return o.Hash() == other.Hash()
}

func (o Op) String() string {
	switch o.Kind {
	case KindLeaf:
		return fmt.Sprintf("leaf(%s)", string(o.Payload))
	case KindSeq:
		return fmt.Sprintf("seq[%d]", len(o.Children))
	case KindAggregate:
		return fmt.Sprintf("aggregate/%s[%d]", o.Combinator, len(o.Children))
	case KindRetry:
		return fmt.Sprintf("retry(%d)", o.Attempts)
	case KindDeferUntil:
		if o.Condition != nil {
			return fmt.Sprintf("defer_until(%s)", o.Condition)
		}
		return "defer_until"
	default:
		return string(o.Kind)
	}
}
