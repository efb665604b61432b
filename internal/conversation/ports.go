package conversation

import (
	"context"
	"strings"

	"regdesk/internal/conversation/state"
	"regdesk/internal/notify"
	"regdesk/internal/verification"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Orchestrator,Verifier,Publisher,Chatter

// Input is one user turn.
type Input struct {
	SessionID string
	Text      string
	ImageRef  string
}

func (in Input) blank() bool {
	return strings.TrimSpace(in.Text) == "" && strings.TrimSpace(in.ImageRef) == ""
}

// Reply is the outcome of a turn. Text may embed UI tags; see ExtractUIAction.
type Reply struct {
	SessionID string
	Text      string
	Step      Step
}

// Orchestrator runs one conversational turn.
type Orchestrator interface {
	Turn(ctx context.Context, in Input) (*Reply, error)
}

// Verifier checks an uploaded identity document.
type Verifier interface {
	Verify(ctx context.Context, req verification.Request) *verification.Result
}

// Publisher delivers staff and registrant notifications.
type Publisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

// Chatter produces free-text replies outside the registration flow.
type Chatter interface {
	Chat(ctx context.Context, history []state.Message, text string) (string, error)
}
