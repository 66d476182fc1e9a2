package api

import (
	"github.com/mattjoyce/scriptsrunner/internal/queue"
	"github.com/mattjoyce/scriptsrunner/internal/state"
)

// PathRequest is the JSON body of the per-script POST routes.
type PathRequest struct {
	Path string `json:"path"`
}

// RunRequest is the JSON body for POST /scripts/run. Mode defaults to
// background.
type RunRequest struct {
	Path string     `json:"path"`
	Mode state.Mode `json:"mode,omitempty"`
}

// MetaRequest is the JSON body for PATCH /scripts/meta.
type MetaRequest struct {
	Path string `json:"path"`
	state.MetaPatch
}

// ActionResponse reports the result of cancel, reset and dequeue.
type ActionResponse struct {
	Path   string       `json:"path"`
	Done   bool         `json:"done"`
	Status queue.Status `json:"status"`
}

// RescanResponse is returned by POST /rescan.
type RescanResponse struct {
	Scripts int    `json:"scripts"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Running       int    `json:"running"`
	Queued        int    `json:"queued"`
	MaxConcurrent int    `json:"max_concurrent"`
	ScanError     string `json:"scan_error,omitempty"`
}
