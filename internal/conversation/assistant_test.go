package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"regdesk/internal/conversation"
	"regdesk/internal/conversation/mocks"
	"regdesk/internal/conversation/state"
	"regdesk/internal/llm"
	"regdesk/internal/notify"
	"regdesk/internal/records"
	"regdesk/internal/verification"
)

// scriptedCompleter replays canned completions and records what it was sent.
type scriptedCompleter struct {
	replies []string
	err     error
	seen    [][]llm.Message
}

func (c *scriptedCompleter) CompleteJSON(_ context.Context, messages []llm.Message) (string, error) {
	c.seen = append(c.seen, messages)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return `{"reply":"","calls":[{"name":"list_courses","arguments":{}}]}`, nil
	}
	next := c.replies[0]
	c.replies = c.replies[1:]
	return next, nil
}

// lastResults decodes the capability results fed back in the latest request.
func (c *scriptedCompleter) lastResults(t *testing.T) []map[string]any {
	t.Helper()
	msgs := c.seen[len(c.seen)-1]
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(msgs[len(msgs)-1].Content), &payload))
	return payload.Results
}

type assistantFixture struct {
	states    *state.InMemoryStore
	records   *records.InMemoryStore
	verifier  *mocks.MockVerifier
	completer *scriptedCompleter
	sink      *notify.MemorySink
	assistant *conversation.Assistant
}

func newAssistantFixture(t *testing.T, replies ...string) *assistantFixture {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 11, 20, 15, 0, 0, 0, time.UTC) }
	f := &assistantFixture{
		states:    state.NewInMemoryStore(0).WithClock(now),
		records:   records.NewInMemoryStore(records.WithClock(now)),
		verifier:  mocks.NewMockVerifier(gomock.NewController(t)),
		completer: &scriptedCompleter{replies: replies},
		sink:      notify.NewMemorySink(),
	}
	f.assistant = conversation.NewAssistant(f.states, f.records,
		conversation.NewCatalog(conversation.DefaultCourses(), now), f.verifier, f.completer,
		conversation.WithClock(now),
		conversation.WithPublisher(notify.NewPublisher(f.sink)))
	return f
}

func TestAssistantPlainReply(t *testing.T) {
	f := newAssistantFixture(t, `{"reply":"Hello! Want to register? [SHOW_COURSE_SELECTOR]"}`)

	reply, err := f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "hi"})

	require.NoError(t, err)
	assert.Equal(t, conversation.StepAssistant, reply.Step)
	_, action := conversation.ExtractUIAction(reply.Text)
	assert.Equal(t, conversation.UIShowCourseSelector, action)

	st, err := f.states.Load(context.Background(), "a1")
	require.NoError(t, err)
	assert.Len(t, st.History, 2)
}

func TestAssistantRegisters(t *testing.T) {
	f := newAssistantFixture(t,
		`{"calls":[{"name":"register","arguments":{"course_id":"sfa","first_name":"Jane","last_name":"Doe","email":"jane@example.ca","phone_number":"604-555-0199","is_pr":false}}]}`,
		`{"reply":"You're registered. Please pay $141.25. [SHOW_PAYMENT]"}`,
	)

	reply, err := f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "sign me up for first aid"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "141.25")

	results := f.completer.lastResults(t)
	require.Len(t, results, 1)
	assert.Empty(t, results[0]["error"])
	result := results[0]["result"].(map[string]any)
	assert.Equal(t, "141.25", result["amount"])
	assert.Equal(t, "2025-12-05", result["course_date"])

	rows, err := f.records.Find(context.Background(), records.Eq(records.ColFullName, "Jane Doe"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Standard First Aid", rows[0][records.ColCourse])

	st, err := f.states.Load(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, rows[0][records.ColSubmissionID], st.Data["submission_id"])
}

func TestAssistantCapabilityErrorsAreFedBack(t *testing.T) {
	f := newAssistantFixture(t,
		`{"calls":[{"name":"delete_everything","arguments":{}},{"name":"payment_status","arguments":{}},{"name":"verify_document","arguments":{}}]}`,
		`{"reply":"I can't do that."}`,
	)

	_, err := f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "do it"})
	require.NoError(t, err)

	results := f.completer.lastResults(t)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.NotEmpty(t, r["error"], r["name"])
	}
}

func TestAssistantVerifiesAttachedImage(t *testing.T) {
	f := newAssistantFixture(t,
		`{"calls":[{"name":"register","arguments":{"course_id":"bjj","first_name":"Jane","last_name":"Doe","email":"jane@example.ca","phone_number":"604-555-0199","is_pr":true,"pr_card_number":"12-3456-7890"}}]}`,
		`{"reply":"Please upload your PR card. [SHOW_UPLOAD]"}`,
		`{"calls":[{"name":"verify_document","arguments":{}}]}`,
		`{"reply":"Verified. [SHOW_PAYMENT]"}`,
	)
	f.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req verification.Request) *verification.Result {
			assert.Equal(t, "ref-1", req.ImageRef)
			assert.Equal(t, "12-3456-7890", req.Identity.CardNumber)
			return &verification.Result{Status: verification.StatusSuccess, Valid: true}
		})

	ctx := context.Background()
	_, err := f.assistant.Turn(ctx, conversation.Input{SessionID: "a1", Text: "register me for bjj"})
	require.NoError(t, err)
	_, err = f.assistant.Turn(ctx, conversation.Input{SessionID: "a1", ImageRef: "ref-1"})
	require.NoError(t, err)

	results := f.completer.lastResults(t)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["result"].(map[string]any)["valid"])
}

func TestAssistantEscalatesInconclusiveCard(t *testing.T) {
	f := newAssistantFixture(t,
		`{"calls":[{"name":"register","arguments":{"course_id":"bjj","first_name":"Jane","last_name":"Doe","email":"jane@example.ca","phone_number":"604-555-0199","is_pr":true,"pr_card_number":"12-3456-7890"}}]}`,
		`{"reply":"Please upload your PR card. [SHOW_UPLOAD]"}`,
		`{"calls":[{"name":"verify_document","arguments":{}}]}`,
		`{"reply":"Our staff will review your card."}`,
	)
	f.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(&verification.Result{
		Status:       verification.StatusError,
		DocTypes:     []verification.DocType{verification.DocDriversLicense},
		ManualReview: true,
		Reasons:      []string{"Looks like a driver's license."},
	})

	ctx := context.Background()
	_, err := f.assistant.Turn(ctx, conversation.Input{SessionID: "a1", Text: "register me for bjj"})
	require.NoError(t, err)
	_, err = f.assistant.Turn(ctx, conversation.Input{SessionID: "a1", ImageRef: "ref-1"})
	require.NoError(t, err)

	results := f.completer.lastResults(t)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["result"].(map[string]any)["manual_review"])

	events := f.sink.ByKind(notify.KindManualReview)
	require.Len(t, events, 1)
	assert.Equal(t, "a1", events[0].Data["session_id"])
	assert.Equal(t, "ref-1", events[0].Data["image_ref"])
	assert.Contains(t, events[0].Message, "driver's license")

	st, err := f.states.Load(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, st.ManualReview)
}

func TestAssistantRoundLimit(t *testing.T) {
	f := newAssistantFixture(t)

	reply, err := f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "loop forever"})

	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Sorry, something went wrong")
	assert.Len(t, f.completer.seen, 4)
}

func TestAssistantProviderFailure(t *testing.T) {
	f := newAssistantFixture(t)
	f.completer.err = errors.New("connection reset")

	reply, err := f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "hi"})

	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Sorry, something went wrong")
}

func TestAssistantFindRegistrations(t *testing.T) {
	f := newAssistantFixture(t,
		`{"calls":[{"name":"find_registrations","arguments":{"full_name":"jane doe"}}]}`,
		`{"reply":"You have one registration."}`,
	)
	_, err := f.records.Append(context.Background(), records.Fields{
		"Full_Name": "Jane Doe", "Course": "Mask Fit Testing", "Course_Date": "2025-07-06", "Email": "jane@example.ca",
	})
	require.NoError(t, err)

	_, err = f.assistant.Turn(context.Background(), conversation.Input{SessionID: "a1", Text: "what am I registered for?"})
	require.NoError(t, err)

	results := f.completer.lastResults(t)
	found := results[0]["result"].([]any)
	require.Len(t, found, 1)
	entry := found[0].(map[string]any)
	assert.Equal(t, "payment pending", entry["payment"])
	assert.NotContains(t, entry, "email")
}
