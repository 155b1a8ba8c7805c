package op

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	height := Condition{Kind: ConditionHeight, ChainID: "union-1", Height: 10}

	tests := []struct {
		name    string
		op      Op
		wantErr bool
	}{
		{name: "leaf", op: LeafString("packet-42")},
		{name: "leaf without payload", op: Op{Kind: KindLeaf}, wantErr: true},
		{name: "leaf with invalid json", op: Leaf([]byte("{")), wantErr: true},
		{name: "seq", op: Seq(LeafString("a"), LeafString("b"))},
		{name: "empty seq", op: Seq(), wantErr: true},
		{name: "seq with bad child", op: Seq(LeafString("a"), Op{Kind: "bogus"}), wantErr: true},
		{name: "retry", op: Retry(LeafString("tx"), 1, Backoff{Base: time.Second})},
		{name: "retry negative", op: Retry(LeafString("tx"), -1, Backoff{}), wantErr: true},
		{name: "retry nil inner", op: Op{Kind: KindRetry}, wantErr: true},
		{name: "defer", op: DeferUntil(height, LeafString("proof"))},
		{name: "defer without chain", op: DeferUntil(Condition{Kind: ConditionHeight}, LeafString("x")), wantErr: true},
		{name: "defer unknown condition", op: DeferUntil(Condition{Kind: "time", ChainID: "c-1"}, LeafString("x")), wantErr: true},
		{name: "aggregate", op: Aggregate(CombineAll, LeafString("a"))},
		{name: "aggregate bad combinator", op: Aggregate("most", LeafString("a")), wantErr: true},
		{name: "empty kind", op: Op{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChildOpsAndUnwrap(t *testing.T) {
	a, b := LeafString("a"), LeafString("b")

	assert.Len(t, Seq(a, b).ChildOps(), 2)
	assert.Len(t, Aggregate(CombineAny, a, b).ChildOps(), 2)
	assert.Nil(t, a.ChildOps())
	assert.Nil(t, Retry(a, 1, Backoff{}).ChildOps())

	inner, ok := Retry(a, 3, Backoff{}).Unwrap()
	require.True(t, ok)
	assert.True(t, inner.Equal(a))

	_, ok = Seq(a).Unwrap()
	assert.False(t, ok)
}

func TestEqualIsStructural(t *testing.T) {
	x := Seq(LeafString("a"), Retry(LeafString("tx"), 2, Backoff{Base: time.Second}))
	y := Seq(LeafString("a"), Retry(LeafString("tx"), 2, Backoff{Base: time.Second}))
	z := Seq(LeafString("a"), Retry(LeafString("tx"), 1, Backoff{Base: time.Second}))

	assert.True(t, x.Equal(y))
	assert.False(t, x.Equal(z))

	// Whitespace inside a payload is not structural.
	assert.True(t, Leaf([]byte(`{"a": 1}`)).Equal(Leaf([]byte(`{"a":1}`))))
}

func TestJSONEncodingSurvivesQueueStorage(t *testing.T) {
	original := DeferUntil(
		Condition{Kind: ConditionHeight, ChainID: "union-1", Revision: 1, Height: 100},
		Aggregate(CombineAll,
			Retry(LeafString("tx"), 3, Backoff{Base: 2 * time.Second, Max: time.Minute}),
			LeafString("proof"),
		),
	)

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"attempts_remaining":3`)
	assert.Contains(t, string(data), `"base":"2s"`)

	var decoded Op
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())
	assert.True(t, original.Equal(decoded))
	assert.Equal(t, time.Minute, decoded.Inner.Children[0].RetryBackoff().Max)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(30))
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(4))
}

func TestDeriveIDIsDeterministic(t *testing.T) {
	a := DeriveID("batch", "relayer-a", "0")
	b := DeriveID("batch", "relayer-a", "0")
	c := DeriveID("batch", "relayer-a", "1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, NewID(), NewID())
}
