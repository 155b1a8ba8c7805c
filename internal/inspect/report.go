// Package inspect loads an operation and its expanded children from the
// queue and renders them for humans and machines.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// Source reads entries. Both queue.Store and dispatch.Engine satisfy it.
type Source interface {
	Get(ctx context.Context, id op.ID) (*queue.Entry, error)
	Children(ctx context.Context, id op.ID) ([]*queue.Entry, error)
}

// Node is one entry in an operation tree.
type Node struct {
	ID        op.ID          `json:"op_id"`
	ParentID  op.ID          `json:"parent_id,omitempty"`
	Position  int            `json:"position"`
	Revision  uint64         `json:"revision"`
	State     queue.State    `json:"state"`
	Tag       string         `json:"tag,omitempty"`
	FailKind  queue.FailKind `json:"fail_kind,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	NotBefore *time.Time     `json:"not_before,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Op        op.Op          `json:"op"`
	Children  []*Node        `json:"children,omitempty"`
}

// NewNode copies e into a childless Node.
func NewNode(e *queue.Entry) *Node {
	n := &Node{
		ID:        e.ID,
		ParentID:  e.ParentID,
		Position:  e.Position,
		Revision:  e.Revision,
		State:     e.State,
		Tag:       e.Tag,
		FailKind:  e.FailKind,
		LastError: e.LastError,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Op:        e.Op,
	}
	if !e.NotBefore.IsZero() {
		nb := e.NotBefore
		n.NotBefore = &nb
	}
	return n
}

// LoadTree loads id and up to maxDepth levels of children. A maxDepth of
// zero or less loads the whole tree.
func LoadTree(ctx context.Context, src Source, id op.ID, maxDepth int) (*Node, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, fmt.Errorf("op_id is required")
	}
	ent, err := src.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	root := NewNode(ent)
	if err := attachChildren(ctx, src, root, 0, maxDepth); err != nil {
		return nil, fmt.Errorf("load children of %s: %w", id, err)
	}
	return root, nil
}

func attachChildren(ctx context.Context, src Source, parent *Node, depth, maxDepth int) error {
	if parent.Op.IsLeaf() || (maxDepth > 0 && depth >= maxDepth) {
		return nil
	}
	children, err := src.Children(ctx, parent.ID)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Position < children[j].Position })
	for _, c := range children {
		child := NewNode(c)
		if err := attachChildren(ctx, src, child, depth+1, maxDepth); err != nil {
			return err
		}
		parent.Children = append(parent.Children, child)
	}
	return nil
}

// Report summarizes a loaded tree.
type Report struct {
	Root   *Node               `json:"root"`
	Nodes  int                 `json:"nodes"`
	Depth  int                 `json:"depth"`
	States map[queue.State]int `json:"states"`
}

// Summarize walks root and counts its entries per state.
func Summarize(root *Node) *Report {
	r := &Report{Root: root, States: make(map[queue.State]int)}
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		r.Nodes++
		r.States[n.State]++
		if depth > r.Depth {
			r.Depth = depth
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return r
}

// BuildReport renders a terminal-friendly report for an operation tree.
func BuildReport(ctx context.Context, src Source, id op.ID) (string, error) {
	root, err := LoadTree(ctx, src, id, 0)
	if err != nil {
		return "", err
	}
	r := Summarize(root)

	var out strings.Builder
	fmt.Fprintf(&out, "Operation Report\n")
	fmt.Fprintf(&out, "Op ID       : %s\n", root.ID)
	fmt.Fprintf(&out, "State       : %s\n", root.State)
	fmt.Fprintf(&out, "Revision    : %d\n", root.Revision)
	fmt.Fprintf(&out, "Entries     : %d (depth %d)\n", r.Nodes, r.Depth)
	fmt.Fprintf(&out, "States      : %s\n", formatStates(r.States))
	fmt.Fprintf(&out, "\n")
	writeTree(&out, root, 0)
	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report for an operation tree.
func BuildJSONReport(ctx context.Context, src Source, id op.ID) (string, error) {
	root, err := LoadTree(ctx, src, id, 0)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(Summarize(root), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func writeTree(out *strings.Builder, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(out, "%s[%d] %s  %s  rev=%d  %s", indent, n.Position, n.ID, n.State, n.Revision, n.Op.String())
	if n.Tag != "" {
		fmt.Fprintf(out, "  tag=%s", n.Tag)
	}
	if n.FailKind != "" {
		fmt.Fprintf(out, "  fail=%s", n.FailKind)
	}
	if n.NotBefore != nil {
		fmt.Fprintf(out, "  not_before=%s", n.NotBefore.UTC().Format(time.RFC3339))
	}
	out.WriteString("\n")
	if n.LastError != "" {
		fmt.Fprintf(out, "%s    error: %s\n", indent, n.LastError)
	}
	for _, c := range n.Children {
		writeTree(out, c, depth+1)
	}
}

func formatStates(states map[queue.State]int) string {
	keys := make([]string, 0, len(states))
	for s := range states {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, states[queue.State(k)]))
	}
	return strings.Join(parts, " ")
}
