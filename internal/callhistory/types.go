// Package callhistory persists finished call transcripts.
package callhistory

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call record not found")

const StatusCompleted = "completed"

// Line is one transcript entry of a call.
type Line struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Record is a finished call.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	Transcript  []Line    `json:"transcript"`
	DurationSec float64   `json:"duration"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Status      string    `json:"status"`
	EndReason   string    `json:"end_reason,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
}

// Store persists and retrieves call records. List returns the newest first.
type Store interface {
	Save(ctx context.Context, record Record) error
	List(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
