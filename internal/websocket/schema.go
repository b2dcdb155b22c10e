package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionHeartbeat Action = "heartbeat"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestPayload carries every client message; the action decides which
// fields matter.
type RequestPayload struct {
	Action Action `json:"action"`

	// autosave
	QuestionID        string   `json:"question_id,omitempty"`
	Code              string   `json:"code,omitempty"`
	Language          string   `json:"language,omitempty"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	Text              string   `json:"text,omitempty"`

	// violation
	Type    string `json:"type,omitempty"`
	Details string `json:"details,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventViolation Event = "violation_recorded"
	EventHeartbeat Event = "heartbeat"
	EventGraded    Event = "graded"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type ViolationResponse struct {
	Event          Event `json:"event"`
	ViolationCount int   `json:"violation_count"`
}

type HeartbeatResponse struct {
	Event            Event   `json:"event"`
	State            string  `json:"state"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	ViolationCount   int     `json:"violation_count"`
}

type GradedResponse struct {
	Event    Event   `json:"event"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
