// Package rule derives minimal, replay-safe action sequences from raw
// capture trails and stores them for later execution.
package rule

// StepKind is the action a step performs during replay.
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepClick    StepKind = "click"
	StepInput    StepKind = "input"
	StepSubmit   StepKind = "submit"
	StepWait     StepKind = "wait"
	StepOpenTab  StepKind = "open_tab"
)

// Step is one replayable action. Target is a stable selector (see
// StableSelector), not a raw DOM path.
type Step struct {
	Kind   StepKind `json:"kind"`
	URL    string   `json:"url,omitempty"`    // navigate, open_tab
	Target string   `json:"target,omitempty"` // click, input, submit
	Value  string   `json:"value,omitempty"`  // input
	WaitMS int64    `json:"wait_ms,omitempty"`
}

// Rule is the minimal ordered action sequence derived from a session.
// It is a read-only projection: deriving a rule does not mutate the
// session it came from.
type Rule struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SourceSessionID string `json:"source_session_id"`
	Steps           []Step `json:"steps"`
	CreatedAtMS     int64  `json:"created_at_ms"`
}
