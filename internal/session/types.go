package session

import (
	"time"

	"github.com/ent0n29/voxline/internal/agent"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// End reasons recorded on a session.
const (
	EndClosed      = "closed"
	EndInactivity  = "inactivity"
	EndMaxDuration = "max_duration"
)

// Session is the registry view of one live call. Agent is the configuration
// snapshot taken when the call started and never changes afterwards.
type Session struct {
	ID             string       `json:"session_id"`
	AgentID        string       `json:"agent_id"`
	AgentName      string       `json:"agent_name"`
	FallbackAgent  bool         `json:"fallback_agent"`
	Agent          agent.Config `json:"-"`
	Status         Status       `json:"status"`
	TurnCount      int          `json:"turn_count"`
	DroppedCount   int          `json:"dropped_count"`
	StartedAt      time.Time    `json:"started_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	EndedAt        *time.Time   `json:"ended_at,omitempty"`
	EndReason      string       `json:"end_reason,omitempty"`
}

// Duration is the wall-clock length of the call so far, or of the whole call once ended.
func (s *Session) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
