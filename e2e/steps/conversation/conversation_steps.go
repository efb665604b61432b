package conversation

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	Upload(path, filename string, data []byte) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetSessionID() string
	SetSessionID(id string)
	GetImageRef() string
	SetImageRef(ref string)
	GetRegistrant() (first, last string)
}

// RegisterSteps registers chat and upload step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &conversationSteps{tc: tc}

	ctx.Step(`^I say "([^"]*)"$`, steps.say)
	ctx.Step(`^I submit the registration form with PR status "([^"]*)"$`, steps.submitForm)
	ctx.Step(`^I upload a file named "([^"]*)"$`, steps.uploadFile)
	ctx.Step(`^I send the uploaded image$`, steps.sendImage)

	ctx.Step(`^the assistant should show "([^"]*)"$`, steps.uiActionShouldBe)
	ctx.Step(`^the conversation should be at step "([^"]*)"$`, steps.stepShouldBe)
	ctx.Step(`^the reply should mention "([^"]*)"$`, steps.replyShouldMention)
	ctx.Step(`^the reply should mention my name$`, steps.replyShouldMentionName)
}

type conversationSteps struct {
	tc TestContext
}

func (s *conversationSteps) chat(body map[string]any) error {
	if id := s.tc.GetSessionID(); id != "" {
		body["session_id"] = id
	}
	if err := s.tc.POST("/api/chat", body); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return nil
	}
	id, err := s.tc.GetResponseField("session_id")
	if err != nil {
		return err
	}
	if str, ok := id.(string); ok && str != "" {
		s.tc.SetSessionID(str)
	}
	return nil
}

func (s *conversationSteps) say(ctx context.Context, message string) error {
	return s.chat(map[string]any{"message": message})
}

func (s *conversationSteps) submitForm(ctx context.Context, prStatus string) error {
	first, last := s.tc.GetRegistrant()
	form := fmt.Sprintf("First Name: %s\nLast Name: %s\nEmail: %s@example.ca\nPhone Number: 604-555-0199\nPR Status: %s",
		first, last, last, prStatus)
	return s.chat(map[string]any{"message": form})
}

func (s *conversationSteps) uploadFile(ctx context.Context, filename string) error {
	if err := s.tc.Upload("/api/upload", filename, []byte("not really an image")); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return nil
	}
	ref, err := s.tc.GetResponseField("image_ref")
	if err != nil {
		return err
	}
	s.tc.SetImageRef(fmt.Sprint(ref))
	return nil
}

func (s *conversationSteps) sendImage(ctx context.Context) error {
	if s.tc.GetImageRef() == "" {
		return fmt.Errorf("no image has been uploaded")
	}
	return s.chat(map[string]any{"image_ref": s.tc.GetImageRef()})
}

func (s *conversationSteps) field(name string) (string, error) {
	value, err := s.tc.GetResponseField(name)
	if err != nil {
		return "", fmt.Errorf("%w\nResponse: %s", err, string(s.tc.GetLastResponseBody()))
	}
	return fmt.Sprint(value), nil
}

func (s *conversationSteps) uiActionShouldBe(ctx context.Context, expected string) error {
	actual, err := s.field("ui_action")
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("expected ui_action %q but got %q\nResponse: %s", expected, actual, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *conversationSteps) stepShouldBe(ctx context.Context, expected string) error {
	actual, err := s.field("step")
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("expected step %q but got %q", expected, actual)
	}
	return nil
}

func (s *conversationSteps) replyShouldMention(ctx context.Context, text string) error {
	reply, err := s.field("response")
	if err != nil {
		return err
	}
	if !containsFold(reply, text) {
		return fmt.Errorf("reply does not mention %q: %s", text, reply)
	}
	return nil
}

func (s *conversationSteps) replyShouldMentionName(ctx context.Context) error {
	first, last := s.tc.GetRegistrant()
	return s.replyShouldMention(ctx, first+" "+last)
}
