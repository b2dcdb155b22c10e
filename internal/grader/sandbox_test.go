package grader

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/invigilo/invigilo-backend/internal/model"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	s, err := NewSandbox(SandboxConfig{
		WorkRoot:    t.TempDir(),
		CaseTimeout: 2 * time.Second,
	}, testLogger())
	assert.NoError(t, err)
	return s
}

func pythonLang(t *testing.T) Language {
	t.Helper()
	lang, ok := LookupLanguage("python3")
	assert.True(t, ok)
	return lang
}

func TestSandboxPassingSubmission(t *testing.T) {
	s := newTestSandbox(t)

	results, err := s.Execute(context.Background(), pythonLang(t), "print(1+1)", []model.TestCase{
		{Input: "", ExpectedOutput: "2"},
	})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, model.VerdictPassed, results[0].Verdict)
}

func TestSandboxReadsStdin(t *testing.T) {
	s := newTestSandbox(t)

	code := "import sys\nprint(int(sys.stdin.read()) * 2)"
	results, err := s.Execute(context.Background(), pythonLang(t), code, []model.TestCase{
		{Input: "21", ExpectedOutput: "42"},
		{Input: "3", ExpectedOutput: "7"},
	})
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictPassed, results[0].Verdict)
	assert.Equal(t, model.VerdictWrongAnswer, results[1].Verdict)
	assert.Equal(t, "6", results[1].ActualOutput[:1])
}

func TestSandboxRuntimeError(t *testing.T) {
	s := newTestSandbox(t)

	results, err := s.Execute(context.Background(), pythonLang(t), "raise RuntimeError('boom')", []model.TestCase{
		{Input: "", ExpectedOutput: ""},
	})
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictRuntimeError, results[0].Verdict)
	assert.Contains(t, results[0].Stderr, "boom")
}

func TestSandboxTimeLimitDoesNotBlockOtherCases(t *testing.T) {
	s := newTestSandbox(t)

	// First case spins forever; the second must still run and pass.
	code := "import sys\ndata = sys.stdin.read().strip()\n" +
		"if data == 'spin':\n    while True: pass\nprint('ok')"
	start := time.Now()
	results, err := s.Execute(context.Background(), pythonLang(t), code, []model.TestCase{
		{Input: "spin", ExpectedOutput: "ok"},
		{Input: "go", ExpectedOutput: "ok"},
	})
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictTimeLimitExceeded, results[0].Verdict)
	assert.Equal(t, model.VerdictPassed, results[1].Verdict)
	assert.Less(t, time.Since(start), 6*time.Second)
}

func TestSandboxWorkspaceIsolation(t *testing.T) {
	s := newTestSandbox(t)
	lang := pythonLang(t)

	// One submission plants a file; a second submission must not see it
	// anywhere it can reach.
	_, err := s.Execute(context.Background(), lang,
		"open('marker.txt', 'w').write('secret')\nprint('planted')",
		[]model.TestCase{{Input: "", ExpectedOutput: "planted"}})
	assert.NoError(t, err)

	results, err := s.Execute(context.Background(), lang,
		"import os\nprint('marker.txt' in os.listdir('.'))",
		[]model.TestCase{{Input: "", ExpectedOutput: "False"}})
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictPassed, results[0].Verdict)
}

func TestSandboxOutputCapped(t *testing.T) {
	s := newTestSandbox(t)

	results, err := s.Execute(context.Background(), pythonLang(t),
		"print('x' * 1000000)",
		[]model.TestCase{{Input: "", ExpectedOutput: "nope"}})
	assert.NoError(t, err)
	assert.Equal(t, model.VerdictWrongAnswer, results[0].Verdict)
	assert.LessOrEqual(t, len(results[0].ActualOutput), outputCap)
}
