package api

import (
	"time"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/op"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/queue"
)

// EnqueueRequest is the JSON body for POST /ops
type EnqueueRequest struct {
	Op *op.Op `json:"op"`
}

// ReplaceRequest is the JSON body for PUT /ops/{op_id}
type ReplaceRequest struct {
	Op       *op.Op `json:"op"`
	Revision uint64 `json:"revision"`
}

// PluginSummary describes one registered plugin.
type PluginSummary struct {
	Name             string     `json:"name"`
	Filter           bool       `json:"filter"`
	Process          bool       `json:"process"`
	QuarantinedUntil *time.Time `json:"quarantined_until,omitempty"`
}

// PluginListResponse is returned by GET /plugins.
type PluginListResponse struct {
	Plugins []PluginSummary `json:"plugins"`
}

// DeregisterResponse is returned by DELETE /plugins/{name}.
type DeregisterResponse struct {
	Plugin   string `json:"plugin"`
	Released int    `json:"released"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status             string              `json:"status"`
	UptimeSeconds      int64               `json:"uptime_seconds"`
	QueueDepth         map[queue.State]int `json:"queue_depth"`
	Ticks              uint64              `json:"ticks"`
	LastTick           *time.Time          `json:"last_tick,omitempty"`
	PluginsLoaded      int                 `json:"plugins_loaded"`
	PluginsQuarantined int                 `json:"plugins_quarantined"`
	TagsHeld           int                 `json:"tags_held"`
}
