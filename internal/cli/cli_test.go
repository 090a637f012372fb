package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanon/internal/platform/database"
	dErrors "kanon/pkg/domain-errors"
	auditsqlite "kanon/pkg/platform/audit/store/sqlite"
)

const testProfile = `k: 2
max_suppression: 0.2
dataset:
  delimiter: ";"
  id_column: id
  drop_columns: [nome]
  forbidden_columns: [nome]
  required_columns: [faixa, sexo]
quasi_identifiers:
  - name: faixa
    source: idade
    role: ordinal
    base_level: 1
    levels: [{}, {bins: [0, 40]}, {all: TODAS}]
  - name: sexo
    role: nominal
    levels: [{}]
`

func testEnv() (Env, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return Env{
		Stdout: &stdout,
		Stderr: &stderr,
		Getenv: func(string) string { return "tester" },
	}, &stdout, &stderr
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitPass},
		{"failed audit", errFailed, ExitFail},
		{"compliance", dErrors.New(dErrors.CodeCompliance, "suppression budget exceeded"), ExitFail},
		{"config", dErrors.New(dErrors.CodeConfig, "k must be at least 2"), ExitConfig},
		{"schema", dErrors.New(dErrors.CodeSchema, "missing column"), ExitConfig},
		{"internal", dErrors.New(dErrors.CodeInternal, "disk full"), ExitInternal},
		{"uncoded", errors.New("boom"), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRunUsage(t *testing.T) {
	env, stdout, stderr := testEnv()
	assert.Equal(t, ExitConfig, Run(context.Background(), nil, env))
	assert.Contains(t, stderr.String(), "usage: kanon")

	assert.Equal(t, ExitConfig, Run(context.Background(), []string{"publish"}, env))
	assert.Contains(t, stderr.String(), `unknown command "publish"`)

	assert.Equal(t, ExitPass, Run(context.Background(), []string{"help"}, env))
	assert.Contains(t, stdout.String(), "anonymize")
}

func TestAnonymize(t *testing.T) {
	dir := t.TempDir()
	profile := writeFile(t, dir, "profile.yaml", testProfile)

	t.Run("releases a k-anonymous table and certifies it", func(t *testing.T) {
		in := writeFile(t, dir, "raw.csv", "nome;idade;sexo\nAna;20;F\nBia;25;F\nCaio;50;M\nDani;55;M\n")
		out := filepath.Join(dir, "release.csv")
		ledger := filepath.Join(dir, "ledger.db")
		env, stdout, stderr := testEnv()

		code := Run(context.Background(), []string{"anonymize", "-profile", profile, "-in", in, "-out", out, "-ledger", ledger}, env)
		require.Equal(t, ExitPass, code, stderr.String())
		assert.Contains(t, stdout.String(), "PASS run=")
		assert.Contains(t, stdout.String(), "certified PASS")

		released, err := os.ReadFile(out)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(released)), "\n")
		require.Len(t, lines, 5)
		assert.True(t, strings.HasPrefix(lines[0], "id;"))
		assert.NotContains(t, lines[0], "nome")
		assert.NotContains(t, string(released), "Ana")

		raw, err := os.ReadFile(out + ".report.json")
		require.NoError(t, err)
		var report map[string]any
		require.NoError(t, json.Unmarshal(raw, &report))
		assert.Equal(t, true, report["passed"])
		assert.Equal(t, float64(2), report["k"])

		db, err := database.Open(context.Background(), database.Config{Driver: database.DriverSQLite, URL: ledger})
		require.NoError(t, err)
		defer db.Close()
		events, err := auditsqlite.New(db).ListRecent(context.Background(), 10)
		require.NoError(t, err)
		var actions []string
		for _, e := range events {
			actions = append(actions, e.Action)
		}
		assert.ElementsMatch(t, []string{"dataset_released", "audit_passed"}, actions)
	})

	t.Run("a report that cannot be written leaves no release behind", func(t *testing.T) {
		work := t.TempDir()
		in := writeFile(t, work, "raw.csv", "nome;idade;sexo\nAna;20;F\nBia;25;F\n")
		out := filepath.Join(work, "release.csv")
		env, _, stderr := testEnv()

		code := Run(context.Background(), []string{"anonymize", "-profile", profile, "-in", in, "-out", out,
			"-report", filepath.Join(work, "absent", "report.json")}, env)
		assert.Equal(t, ExitInternal, code, stderr.String())
		_, err := os.Stat(out)
		assert.True(t, os.IsNotExist(err))

		entries, err := os.ReadDir(work)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "raw.csv", entries[0].Name())
	})

	t.Run("suppression beyond the budget exits 1 without output", func(t *testing.T) {
		in := writeFile(t, dir, "raw-unique.csv", "nome;idade;sexo\nAna;20;F\nBia;25;F\nCaio;50;M\nDani;55;M\nEli;70;X\n")
		out := filepath.Join(dir, "never.csv")
		strict := writeFile(t, dir, "strict.yaml", strings.Replace(testProfile, "max_suppression: 0.2", "max_suppression: 0", 1))
		env, _, stderr := testEnv()

		code := Run(context.Background(), []string{"anonymize", "-profile", strict, "-in", in, "-out", out}, env)
		assert.Equal(t, ExitFail, code)
		assert.Contains(t, stderr.String(), "kanon anonymize")
		_, err := os.Stat(out)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing source column is a schema error", func(t *testing.T) {
		in := writeFile(t, dir, "raw-noage.csv", "nome;sexo\nAna;F\n")
		env, _, _ := testEnv()
		code := Run(context.Background(), []string{"anonymize", "-profile", profile, "-in", in, "-out", filepath.Join(dir, "x.csv")}, env)
		assert.Equal(t, ExitConfig, code)
	})

	t.Run("required flags", func(t *testing.T) {
		env, _, stderr := testEnv()
		assert.Equal(t, ExitConfig, Run(context.Background(), []string{"anonymize", "-in", "raw.csv"}, env))
		assert.Contains(t, stderr.String(), "-profile, -in and -out are required")
	})
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	pass := writeFile(t, dir, "pass.csv", "id;faixa;sexo\n1;0-39;F\n2;0-39;F\n")
	fail := writeFile(t, dir, "fail.csv", "id;faixa;sexo\n1;0-39;F\n2;0-39;F\n3;40+;M\n")

	t.Run("any failing file exits 1 and every file is reported", func(t *testing.T) {
		env, stdout, _ := testEnv()
		code := Run(context.Background(), []string{"validate", "-k", "2", "-qi", "faixa,sexo", "-delimiter", ";", pass, fail}, env)
		assert.Equal(t, ExitFail, code)
		assert.Contains(t, stdout.String(), pass+": PASS")
		assert.Contains(t, stdout.String(), fail+": FAIL")
		assert.Contains(t, stdout.String(), "class of size 1 below k=2")
	})

	t.Run("profile defaults and the ledger", func(t *testing.T) {
		profile := writeFile(t, dir, "profile.yaml", testProfile)
		ledger := filepath.Join(dir, "ledger.db")
		env, stdout, stderr := testEnv()
		code := Run(context.Background(), []string{"validate", "-profile", profile, "-ledger", ledger, "-json", pass}, env)
		require.Equal(t, ExitPass, code, stderr.String())

		var results []struct {
			File   string         `json:"file"`
			Report map[string]any `json:"report"`
		}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &results))
		require.Len(t, results, 1)
		assert.Equal(t, true, results[0].Report["passed"])
	})

	t.Run("forbidden column fails the snapshot", func(t *testing.T) {
		leaky := writeFile(t, dir, "leaky.csv", "id;nome;faixa;sexo\n1;Ana;0-39;F\n2;Bia;0-39;F\n")
		env, stdout, _ := testEnv()
		code := Run(context.Background(), []string{"validate", "-k", "2", "-qi", "faixa,sexo", "-forbidden", "nome", "-delimiter", ";", leaky}, env)
		assert.Equal(t, ExitFail, code)
		assert.Contains(t, stdout.String(), "forbidden column present: nome")
	})

	t.Run("unknown column outranks a failing file", func(t *testing.T) {
		env, stdout, _ := testEnv()
		code := Run(context.Background(), []string{"validate", "-k", "2", "-qi", "faixa,bairro", "-delimiter", ";", fail}, env)
		assert.Equal(t, ExitConfig, code)
		assert.Contains(t, stdout.String(), "ERROR")
	})

	t.Run("k is required without a profile", func(t *testing.T) {
		env, _, _ := testEnv()
		assert.Equal(t, ExitConfig, Run(context.Background(), []string{"validate", "-qi", "faixa", pass}, env))
	})
}

func TestServeRejectsIncompleteConfig(t *testing.T) {
	t.Setenv("KANON_ADMIN_TOKEN", "")
	t.Setenv("KANON_PROFILE", "")
	env, _, stderr := testEnv()
	assert.Equal(t, ExitConfig, Run(context.Background(), []string{"serve"}, env))
	assert.Contains(t, stderr.String(), "KANON_ADMIN_TOKEN")
}
