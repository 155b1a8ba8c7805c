// Command packet-claimer is a relayd optimization plugin. It claims packet
// leaves under the packet's identity, so two enqueues of the same packet
// collapse onto one tag. A packet leaf is either a string starting with
// "packet-", claimed under that string, or a chain submission whose msgs
// carry an IBC packet, claimed under <chain_id>/<source_channel>/<sequence>.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/chain"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
)

const (
	pluginName   = "packet-claimer"
	packetPrefix = "packet-"
)

func main() {
	resp := handle()
	if err := protocol.EncodeResponse(os.Stdout, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
		os.Exit(1)
	}
}

func handle() protocol.Response {
	req, err := protocol.DecodeRequest(os.Stdin)
	if err != nil {
		return errResp(err.Error(), false)
	}
	return dispatch(req)
}

func dispatch(req *protocol.Request) protocol.Response {
	switch req.Method {
	case protocol.MethodPluginName:
		return protocol.Response{Status: "ok", Name: pluginName}
	case protocol.MethodFilterOps:
		return protocol.Response{Status: "ok", Result: filterOps(req.Ops)}
	case protocol.MethodProcessOps:
		// Claimed packets need no rewriting; an empty result marks them all ready.
		return protocol.Response{Status: "ok", Result: &protocol.Result{}}
	default:
		return errResp(fmt.Sprintf("unknown method: %s", req.Method), false)
	}
}

func filterOps(items []protocol.Item) *protocol.Result {
	result := &protocol.Result{}
	for _, it := range items {
		key, ok := packetKey(it.Op)
		if !ok {
			continue
		}
		result.Claims = append(result.Claims, protocol.Claim{ID: it.ID, Key: key})
	}
	return result
}

// packetKey returns the claim key for a packet leaf.
func packetKey(o op.Op) (string, bool) {
	if !o.IsLeaf() {
		return "", false
	}
	var s string
	if err := json.Unmarshal(o.Payload, &s); err == nil {
		return s, strings.HasPrefix(s, packetPrefix)
	}

	sub, err := chain.DecodeSubmission(o)
	if err != nil {
		return "", false
	}
	for _, raw := range sub.Msgs {
		var msg struct {
			Packet *struct {
				SourceChannel string `json:"source_channel"`
				Sequence      uint64 `json:"sequence"`
			} `json:"packet"`
		}
		if json.Unmarshal(raw, &msg) != nil || msg.Packet == nil || msg.Packet.SourceChannel == "" {
			continue
		}
		return fmt.Sprintf("%s/%s/%d", sub.ChainID, msg.Packet.SourceChannel, msg.Packet.Sequence), true
	}
	return "", false
}

func errResp(message string, retry bool) protocol.Response {
	retryVal := retry
	return protocol.Response{
		Status: "error",
		Error:  message,
		Retry:  &retryVal,
		Logs:   []protocol.LogEntry{{Level: "error", Message: message}},
	}
}
