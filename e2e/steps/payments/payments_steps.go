package payments

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetRegistrant() (first, last string)
}

// RegisterSteps registers payment notification step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &paymentSteps{tc: tc}

	ctx.Step(`^a payment of "([^"]*)" for "([^"]*)" on "([^"]*)" arrives under my name$`, steps.paymentArrives)
	ctx.Step(`^a payment notification with body "([^"]*)" arrives$`, steps.rawNotification)
}

type paymentSteps struct {
	tc TestContext
}

// notificationBody renders the body of a ticketing platform confirmation email.
func notificationBody(amount, course, when, payer string) string {
	return fmt.Sprintf("New CA$%s payment received!\n\n%s @ UNI-Commons x CFSO\n%s\n\nParticipant's Name (First & Last Name) : %s\nI have reviewed the refund policy.\n",
		amount, course, when, payer)
}

func (s *paymentSteps) paymentArrives(ctx context.Context, amount, course, when string) error {
	first, last := s.tc.GetRegistrant()
	return s.tc.POST("/api/payments/notifications", map[string]any{
		"subject": "New payment received",
		"body":    notificationBody(amount, course, when, first+" "+last),
	})
}

func (s *paymentSteps) rawNotification(ctx context.Context, body string) error {
	return s.tc.POST("/api/payments/notifications", map[string]any{"body": body})
}
