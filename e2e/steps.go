package e2e

import (
	"github.com/cucumber/godog"

	"regdesk/e2e/steps/admin"
	"regdesk/e2e/steps/common"
	"regdesk/e2e/steps/conversation"
	"regdesk/e2e/steps/payments"
)

// RegisterSteps registers all step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	conversation.RegisterSteps(ctx, tc)
	payments.RegisterSteps(ctx, tc)
	admin.RegisterSteps(ctx, tc)
}
