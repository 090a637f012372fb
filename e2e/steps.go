// Package e2e drives the audit API and the kanon command line through
// Gherkin scenarios.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"kanon/e2e/steps/anonymize"
	"kanon/e2e/steps/audit"
	"kanon/internal/cli"
	"kanon/internal/compliance/handler"
	compService "kanon/internal/compliance/service"
	"kanon/internal/compliance/store/report"
	httpapi "kanon/internal/http"
	"kanon/internal/platform/config"
	"kanon/internal/platform/metrics"
	compliancePublisher "kanon/pkg/platform/audit/publishers/compliance"
	auditmemory "kanon/pkg/platform/audit/store/memory"
	"kanon/pkg/testutil"
)

// AdminToken authorizes scenario requests.
const AdminToken = "e2e-admin-token"

// TestContext holds one scenario's server, workspace and last outcome.
type TestContext struct {
	dir    string
	server *httptest.Server

	lastStatus int
	lastBody   []byte

	exitCode int
	stdout   bytes.Buffer
	stderr   bytes.Buffer
}

// RegisterSteps registers all step definitions from the step packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})
	ctx.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		tc.close()
		return ctx, nil
	})

	audit.RegisterSteps(ctx, tc)
	anonymize.RegisterSteps(ctx, tc)
}

func (tc *TestContext) reset() error {
	tc.close()
	dir, err := os.MkdirTemp("", "kanon-e2e-")
	if err != nil {
		return err
	}
	*tc = TestContext{dir: dir}
	return nil
}

func (tc *TestContext) close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
	if tc.dir != "" {
		_ = os.RemoveAll(tc.dir)
		tc.dir = ""
	}
}

// StartServer serves the audit API in-process with in-memory stores.
func (tc *TestContext) StartServer(profileYAML string) error {
	profile, err := config.ParseProfile([]byte(profileYAML))
	if err != nil {
		return err
	}
	codec, err := profile.Codec()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := metrics.NewRegistry()
	events := auditmemory.NewInMemoryStore()
	svc, err := compService.New(report.NewInMemoryStore(),
		compService.WithLogger(logger),
		compService.WithCodec(codec),
		compService.WithAuditPublisher(compliancePublisher.New(events, compliancePublisher.WithLogger(logger))),
	)
	if err != nil {
		return err
	}
	h := handler.New(svc, config.NewLiveProfile(profile), AdminToken, logger, handler.WithEventReader(events))
	tc.server = httptest.NewServer(httpapi.NewRouter(logger, metrics.New(reg), reg, nil, h))
	return nil
}

// Do sends a request to the running server and records the response.
func (tc *TestContext) Do(method, path, body string, withToken bool) error {
	if tc.server == nil {
		return fmt.Errorf("server not started")
	}
	req, err := http.NewRequest(method, tc.server.URL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/csv")
	}
	if withToken {
		req.Header.Set(testutil.AdminTokenHeader, AdminToken)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) LastStatus() int { return tc.lastStatus }

// ResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", tc.lastBody, err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}

// WriteFile creates name in the scenario workspace.
func (tc *TestContext) WriteFile(name, content string) error {
	return os.WriteFile(tc.Path(name), []byte(content), 0o600)
}

// ReadFile reads name from the scenario workspace.
func (tc *TestContext) ReadFile(name string) (string, error) {
	b, err := os.ReadFile(tc.Path(name))
	return string(b), err
}

func (tc *TestContext) Path(name string) string {
	return filepath.Join(tc.dir, name)
}

// RunCLI runs a kanon command line. Arguments naming files are resolved in
// the scenario workspace.
func (tc *TestContext) RunCLI(command string) {
	args := strings.Fields(command)
	for i, a := range args {
		if i > 0 && !strings.HasPrefix(a, "-") && strings.Contains(a, ".") {
			args[i] = tc.Path(a)
		}
	}
	tc.stdout.Reset()
	tc.stderr.Reset()
	tc.exitCode = cli.Run(context.Background(), args, cli.Env{
		Stdout: &tc.stdout,
		Stderr: &tc.stderr,
		Getenv: func(string) string { return "e2e" },
	})
}

func (tc *TestContext) ExitCode() int  { return tc.exitCode }
func (tc *TestContext) Stdout() string { return tc.stdout.String() }
func (tc *TestContext) Stderr() string { return tc.stderr.String() }
