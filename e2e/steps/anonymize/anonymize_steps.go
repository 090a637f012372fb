package anonymize

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is what the command line steps need from the scenario context.
type TestContext interface {
	WriteFile(name, content string) error
	ReadFile(name string) (string, error)
	RunCLI(command string)
	ExitCode() int
	Stdout() string
	Stderr() string
}

// RegisterSteps registers the kanon command line step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &cliSteps{tc: tc}

	ctx.Step(`^a file "([^"]*)":$`, steps.aFile)
	ctx.Step(`^I run "([^"]*)"$`, steps.run)
	ctx.Step(`^the exit code should be (\d+)$`, steps.exitCodeShouldBe)
	ctx.Step(`^the output should contain "([^"]*)"$`, steps.outputShouldContain)
	ctx.Step(`^"([^"]*)" should have (\d+) records$`, steps.fileShouldHaveRecords)
	ctx.Step(`^"([^"]*)" should not contain "([^"]*)"$`, steps.fileShouldNotContain)
	ctx.Step(`^"([^"]*)" should not exist$`, steps.fileShouldNotExist)
}

type cliSteps struct {
	tc TestContext
}

func (s *cliSteps) aFile(ctx context.Context, name string, doc *godog.DocString) error {
	return s.tc.WriteFile(name, doc.Content+"\n")
}

func (s *cliSteps) run(ctx context.Context, command string) error {
	s.tc.RunCLI(command)
	return nil
}

func (s *cliSteps) exitCodeShouldBe(ctx context.Context, want int) error {
	if got := s.tc.ExitCode(); got != want {
		return fmt.Errorf("expected exit code %d, got %d\nstdout: %s\nstderr: %s", want, got, s.tc.Stdout(), s.tc.Stderr())
	}
	return nil
}

func (s *cliSteps) outputShouldContain(ctx context.Context, text string) error {
	if !strings.Contains(s.tc.Stdout(), text) {
		return fmt.Errorf("stdout does not contain %q: %s", text, s.tc.Stdout())
	}
	return nil
}

func (s *cliSteps) fileShouldHaveRecords(ctx context.Context, name string, want int) error {
	content, err := s.tc.ReadFile(name)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if got := len(lines) - 1; got != want {
		return fmt.Errorf("expected %d records in %s, got %d", want, name, got)
	}
	return nil
}

func (s *cliSteps) fileShouldNotContain(ctx context.Context, name, text string) error {
	content, err := s.tc.ReadFile(name)
	if err != nil {
		return err
	}
	if strings.Contains(content, text) {
		return fmt.Errorf("%s contains %q", name, text)
	}
	return nil
}

func (s *cliSteps) fileShouldNotExist(ctx context.Context, name string) error {
	if _, err := s.tc.ReadFile(name); err == nil {
		return fmt.Errorf("%s exists", name)
	}
	return nil
}
