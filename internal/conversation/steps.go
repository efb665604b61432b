package conversation

import "slices"

// Step names a conversation node. Persisted as its string value.
type Step string

const (
	StepRouter             Step = "ROUTER"
	StepAskCourse          Step = "ASK_COURSE"
	StepWaitForCourse      Step = "WAIT_FOR_COURSE"
	StepDisplayForm        Step = "DISPLAY_FORM"
	StepWaitForForm        Step = "WAIT_FOR_FORM"
	StepStoreInfo          Step = "STORE_INFO"
	StepCheckPRStatus      Step = "CHECK_PR_STATUS"
	StepAskPRUpload        Step = "ASK_PR_UPLOAD"
	StepWaitForUpload      Step = "WAIT_FOR_UPLOAD"
	StepValidatePR         Step = "VALIDATE_PR"
	StepAwaitingReview     Step = "AWAITING_REVIEW"
	StepReviewHold         Step = "REVIEW_HOLD"
	StepPaymentPhase       Step = "PAYMENT_PHASE"
	StepWaitForPaymentConf Step = "WAIT_FOR_PAYMENT_CONF"
	StepCheckPayment       Step = "CHECK_PAYMENT"
	StepPaymentRetry       Step = "PAYMENT_RETRY"
	StepFinalize           Step = "FINALIZE"
	StepGeneralChat        Step = "GENERAL_CHAT"
	StepLookup             Step = "LOOKUP"
	StepWaitForLookup      Step = "WAIT_FOR_LOOKUP"
)

// maxHops bounds how many handlers one turn may chain through.
const maxHops = 8

// Transition binds a step to the handler that runs when it is entered and the
// steps that handler may move to.
type Transition struct {
	Handler Step
	Next    []Step
}

// Allows reports whether next is a legal successor.
func (t Transition) Allows(next Step) bool {
	return slices.Contains(t.Next, next)
}

// transitions is keyed by the step being entered. Wait steps are entered on the
// next turn and hand the new input to their consumer; every other step runs its
// own handler.
var transitions = map[Step]Transition{
	// wait steps
	StepWaitForCourse:      {StepDisplayForm, []Step{StepWaitForCourse, StepWaitForForm}},
	StepWaitForForm:        {StepStoreInfo, []Step{StepWaitForForm, StepCheckPRStatus}},
	StepWaitForUpload:      {StepValidatePR, []Step{StepWaitForUpload, StepPaymentPhase, StepAwaitingReview}},
	StepWaitForPaymentConf: {StepCheckPayment, []Step{StepWaitForPaymentConf, StepPaymentRetry, StepFinalize}},
	StepWaitForLookup:      {StepLookup, []Step{StepRouter}},
	StepAwaitingReview:     {StepReviewHold, []Step{StepAwaitingReview}},

	// chained steps
	StepRouter:        {StepRouter, []Step{StepAskCourse, StepLookup, StepGeneralChat}},
	StepAskCourse:     {StepAskCourse, []Step{StepWaitForCourse}},
	StepCheckPRStatus: {StepCheckPRStatus, []Step{StepAskPRUpload, StepPaymentPhase}},
	StepAskPRUpload:   {StepAskPRUpload, []Step{StepWaitForUpload}},
	StepPaymentPhase:  {StepPaymentPhase, []Step{StepWaitForPaymentConf}},
	StepPaymentRetry:  {StepPaymentRetry, []Step{StepWaitForPaymentConf}},
	StepFinalize:      {StepFinalize, []Step{StepRouter}},
	StepGeneralChat:   {StepGeneralChat, []Step{StepRouter}},
	StepLookup:        {StepLookup, []Step{StepWaitForLookup, StepRouter}},
}

// IsWait reports whether the step suspends the conversation until new input.
func (s Step) IsWait() bool {
	switch s {
	case StepWaitForCourse, StepWaitForForm, StepWaitForUpload,
		StepWaitForPaymentConf, StepWaitForLookup, StepAwaitingReview:
		return true
	}
	return false
}

// suspends reports whether reaching s ends the turn. Returning to ROUTER ends it
// too, so the router only ever classifies fresh input.
func (s Step) suspends() bool {
	return s.IsWait() || s == StepRouter
}

// Resolve returns the transition for a persisted step. Unknown steps and steps
// without a wait binding route to ROUTER.
func Resolve(persisted Step) (Step, Transition) {
	if persisted.IsWait() {
		return persisted, transitions[persisted]
	}
	return StepRouter, transitions[StepRouter]
}
