package discovery

// Session is one end-to-end discovery interaction. It is mutated only
// through the repository's turn, scenario and phase operations.
//
// PendingAdvance holds a forced move that was triggered but could not be
// applied yet, typically because extractions were still running. It is
// cleared by any phase change.
type Session struct {
	ID                string   `json:"id"`
	Phase             Phase    `json:"phase"`
	TotalTurns        int      `json:"total_turns"`
	TurnsInPhase      int      `json:"turns_in_phase"`
	ScenariosExplored int      `json:"scenarios_explored"`
	AskedQuestions    []string `json:"asked_questions,omitempty"`
	Closed            bool     `json:"closed"`
	PendingAdvance    Phase    `json:"pending_advance,omitempty"`
	PendingReason     string   `json:"pending_reason,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
	PhaseChangedAt    string   `json:"phase_changed_at"`
}

// HasAsked reports whether the required question with the given id has
// already been put to the user.
func (s *Session) HasAsked(questionID string) bool {
	return containsString(s.AskedQuestions, questionID)
}

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation. Seq is 1-based and ordered
// within the session.
type Turn struct {
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}
