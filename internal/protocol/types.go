package protocol

import (
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
)

// Version is the only protocol version spoken by the engine and its plugins.
const Version = 1

// Plugin RPC methods.
const (
	MethodPluginName = "pluginName"
	MethodFilterOps  = "filterOps"
	MethodProcessOps = "processOps"
)

// Request represents the protocol v1 request envelope sent to plugins via stdin.
type Request struct {
	Protocol   int       `json:"protocol"`
	Method     string    `json:"method"` // pluginName | filterOps | processOps
	Plugin     string    `json:"plugin,omitempty"`
	Ops        []Item    `json:"ops,omitempty"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// Response represents the protocol v1 response envelope received from plugins via stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Retry  *bool      `json:"retry,omitempty"` // defaults to true if omitted
	Name   string     `json:"name,omitempty"`  // only for pluginName
	Result *Result    `json:"result,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

// Item is one queued operation as seen by a plugin.
type Item struct {
	ID       op.ID  `json:"id"`
	Revision uint64 `json:"revision"`
	Tag      string `json:"tag,omitempty"`
	Op       op.Op  `json:"op"`
}

// Result is a plugin's optimization result for the batch it was sent.
//
// Every id it references must come from that batch. Plugins never choose ids
// for new operations; the engine derives them.
type Result struct {
	Ready        []op.ID       `json:"ready,omitempty"`
	Claims       []Claim       `json:"claims,omitempty"`
	Replacements []Replacement `json:"replacements,omitempty"`
	New          []Proposal    `json:"new,omitempty"`
}

// Claim attaches <plugin>@<Key> to a batch operation.
type Claim struct {
	ID  op.ID  `json:"id"`
	Key string `json:"key"`
}

// Replacement rewrites a batch operation. Revision must be the one the plugin was sent.
type Replacement struct {
	ID       op.ID  `json:"id"`
	Revision uint64 `json:"revision"`
	Op       op.Op  `json:"op"`
}

// Proposal is plugin-synthesized follow-up work. A non-empty Key claims it for the proposer.
type Proposal struct {
	Op  op.Op  `json:"op"`
	Key string `json:"key,omitempty"`
}

// LogEntry represents a log message from a plugin.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// ShouldRetry returns true if the response indicates the call may be retried.
// Defaults to true if retry field is omitted.
func (r *Response) ShouldRetry() bool {
	if r.Retry == nil {
		return true
	}
	return *r.Retry
}

// Empty reports whether the result carries no opinion about any operation.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Ready) == 0 && len(r.Claims) == 0 && len(r.Replacements) == 0 && len(r.New) == 0)
}
