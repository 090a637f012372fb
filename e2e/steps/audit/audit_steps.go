package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is what the audit steps need from the scenario context.
type TestContext interface {
	StartServer(profileYAML string) error
	Do(method, path, body string, withToken bool) error
	LastStatus() int
	ResponseField(field string) (any, error)
}

// RegisterSteps registers the audit API step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &auditSteps{tc: tc}

	ctx.Step(`^the audit service is running with k (\d+) over "([^"]*)"$`, steps.serviceRunning)
	ctx.Step(`^I audit the snapshot:$`, steps.auditSnapshot)
	ctx.Step(`^I audit the snapshot without a token:$`, steps.auditSnapshotWithoutToken)
	ctx.Step(`^I audit the snapshot with query "([^"]*)":$`, steps.auditSnapshotWithQuery)
	ctx.Step(`^I fetch the last report$`, steps.fetchLastReport)
	ctx.Step(`^I fetch the events of the last report$`, steps.fetchLastReportEvents)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the report status should be "([^"]*)"$`, steps.reportStatusShouldBe)
	ctx.Step(`^the report should list (\d+) violations?$`, steps.violationsShouldBe)
	ctx.Step(`^the report issues should mention "([^"]*)"$`, steps.issuesShouldMention)
	ctx.Step(`^the response should hold (\d+) events?$`, steps.eventCountShouldBe)
}

type auditSteps struct {
	tc       TestContext
	reportID string
}

func (s *auditSteps) serviceRunning(ctx context.Context, k int, qis string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "k: %d\ndataset:\n  delimiter: \";\"\nquasi_identifiers:\n", k)
	for _, qi := range strings.Split(qis, ",") {
		fmt.Fprintf(&b, "  - name: %s\n    role: nominal\n    levels: [{}]\n", strings.TrimSpace(qi))
	}
	return s.tc.StartServer(b.String())
}

func (s *auditSteps) auditSnapshot(ctx context.Context, doc *godog.DocString) error {
	return s.audit("/audit", doc.Content, true)
}

func (s *auditSteps) auditSnapshotWithoutToken(ctx context.Context, doc *godog.DocString) error {
	return s.audit("/audit", doc.Content, false)
}

func (s *auditSteps) auditSnapshotWithQuery(ctx context.Context, query string, doc *godog.DocString) error {
	return s.audit("/audit?"+query, doc.Content, true)
}

func (s *auditSteps) audit(path, body string, withToken bool) error {
	if err := s.tc.Do(http.MethodPost, path, body+"\n", withToken); err != nil {
		return err
	}
	s.reportID = ""
	if id, err := s.tc.ResponseField("id"); err == nil {
		s.reportID, _ = id.(string)
	}
	return nil
}

func (s *auditSteps) fetchLastReport(ctx context.Context) error {
	if s.reportID == "" {
		return fmt.Errorf("no report recorded yet")
	}
	return s.tc.Do(http.MethodGet, "/reports/"+s.reportID, "", true)
}

func (s *auditSteps) fetchLastReportEvents(ctx context.Context) error {
	if s.reportID == "" {
		return fmt.Errorf("no report recorded yet")
	}
	return s.tc.Do(http.MethodGet, "/reports/"+s.reportID+"/events", "", true)
}

func (s *auditSteps) statusShouldBe(ctx context.Context, want int) error {
	if got := s.tc.LastStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d", want, got)
	}
	return nil
}

func (s *auditSteps) reportStatusShouldBe(ctx context.Context, want string) error {
	got, err := s.tc.ResponseField("status")
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected report status %q, got %v", want, got)
	}
	return nil
}

func (s *auditSteps) violationsShouldBe(ctx context.Context, want int) error {
	return s.lengthShouldBe("violations", want)
}

func (s *auditSteps) eventCountShouldBe(ctx context.Context, want int) error {
	return s.lengthShouldBe("events", want)
}

func (s *auditSteps) lengthShouldBe(field string, want int) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	list, _ := v.([]any)
	if len(list) != want {
		return fmt.Errorf("expected %d %s, got %d", want, field, len(list))
	}
	return nil
}

func (s *auditSteps) issuesShouldMention(ctx context.Context, text string) error {
	v, err := s.tc.ResponseField("issues")
	if err != nil {
		return err
	}
	issues, _ := v.([]any)
	for _, issue := range issues {
		if str, ok := issue.(string); ok && strings.Contains(str, text) {
			return nil
		}
	}
	return fmt.Errorf("no issue mentions %q: %v", text, issues)
}
