package admin

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	POSTWithHeaders(path string, body any, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetAdminToken() string
	GetSessionID() string
	GetRegistrant() (first, last string)
}

// RegisterSteps registers staff endpoint step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &adminSteps{tc: tc}

	ctx.Step(`^staff look up my registrations$`, steps.lookupMine)
	ctx.Step(`^I look up registrations without an admin token$`, steps.lookupWithoutToken)
	ctx.Step(`^staff (approve|reject) my PR card$`, steps.resolveReview)
	ctx.Step(`^(\d+) registrations? should be listed$`, steps.totalShouldBe)
	ctx.Step(`^the first registration field "([^"]*)" should equal "([^"]*)"$`, steps.firstRegistrationField)
}

type adminSteps struct {
	tc TestContext
}

func (s *adminSteps) headers() map[string]string {
	return map[string]string{
		"X-Admin-Token":    s.tc.GetAdminToken(),
		"X-Admin-Actor-ID": "e2e-staff",
	}
}

func (s *adminSteps) lookupMine(ctx context.Context) error {
	first, last := s.tc.GetRegistrant()
	q := url.Values{"full_name": {first + " " + last}}
	return s.tc.GET("/admin/registrations?"+q.Encode(), s.headers())
}

func (s *adminSteps) lookupWithoutToken(ctx context.Context) error {
	return s.tc.GET("/admin/registrations", nil)
}

func (s *adminSteps) resolveReview(ctx context.Context, decision string) error {
	if s.tc.GetSessionID() == "" {
		return fmt.Errorf("no conversation in progress")
	}
	path := "/admin/sessions/" + url.PathEscape(s.tc.GetSessionID()) + "/review"
	return s.tc.POSTWithHeaders(path, map[string]any{"approved": decision == "approve"}, s.headers())
}

func (s *adminSteps) totalShouldBe(ctx context.Context, expected int) error {
	total, err := s.tc.GetResponseField("total")
	if err != nil {
		return err
	}
	if n, ok := total.(float64); !ok || int(n) != expected {
		return fmt.Errorf("expected %d registrations but got %v", expected, total)
	}
	return nil
}

func (s *adminSteps) firstRegistrationField(ctx context.Context, field, expected string) error {
	raw, err := s.tc.GetResponseField("registrations")
	if err != nil {
		return err
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return fmt.Errorf("no registrations in response")
	}
	row, ok := list[0].(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected registration shape: %T", list[0])
	}
	if actual := fmt.Sprint(row[field]); actual != expected {
		return fmt.Errorf("expected %s to be %q but got %q", field, expected, actual)
	}
	return nil
}
