package events

// ScriptPayload is the data of every script.* event except script.output.
type ScriptPayload struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	RunID      string `json:"run_id,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Position   int    `json:"position,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	// Detached marks the completion of a run that was force-reset earlier.
	Detached bool   `json:"detached,omitempty"`
	Previous string `json:"previous,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// OutputPayload carries one line of live output.
type OutputPayload struct {
	Path   string `json:"path"`
	RunID  string `json:"run_id"`
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// RescanPayload summarizes a folder rescan.
type RescanPayload struct {
	Scripts int      `json:"scripts"`
	Dropped []string `json:"dropped,omitempty"`
	Error   string   `json:"error,omitempty"`
}
