// Package state persists per-session conversation progress.
package state

import (
	"context"
	"maps"
	"time"
)

//go:generate mockgen -source=state.go -destination=mocks/mocks.go -package=mocks Store

// MaxHistory bounds the stored message history per session.
const MaxHistory = 50

// DefaultTTL applies when a store is built without one.
const DefaultTTL = 30 * 24 * time.Hour

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// State is the resumable workflow state of one session. Step holds the
// conversation step name; it is opaque to this package.
type State struct {
	SessionID       string            `json:"session_id"`
	Step            string            `json:"step"`
	Data            map[string]string `json:"registration_data"`
	IsPR            bool              `json:"is_pr"`
	PaymentVerified bool              `json:"payment_verified"`
	RetryCount      int               `json:"retry_count"`
	ManualReview    bool              `json:"manual_review"`
	History         []Message         `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// New returns an empty state for sessionID.
func New(sessionID, step string, now time.Time) *State {
	return &State{
		SessionID: sessionID,
		Step:      step,
		Data:      map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := *s
	out.Data = maps.Clone(s.Data)
	if out.Data == nil {
		out.Data = map[string]string{}
	}
	out.History = append([]Message(nil), s.History...)
	return &out
}

// Append adds messages and drops the oldest beyond MaxHistory.
func (s *State) Append(msgs ...Message) {
	s.History = append(s.History, msgs...)
	if over := len(s.History) - MaxHistory; over > 0 {
		s.History = append([]Message(nil), s.History[over:]...)
	}
}

// Store persists session state with a sliding TTL refreshed on every Save.
type Store interface {
	// Load returns a CodeNotFound domain error for unknown or expired sessions.
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired removes sessions whose TTL has elapsed and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
