package grader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/model"
)

// outputCap bounds captured stdout/stderr per run so a print loop cannot
// exhaust server memory before the timeout lands.
const outputCap = 256 * 1024

// CompileError carries the toolchain's diagnostics for a submission that
// failed to build. It is a grading outcome, not an engine fault.
type CompileError struct {
	Output string
}

func (e *CompileError) Error() string { return "compile error" }

// Executor runs one submission's code against its test cases in isolation.
// Implementations must guarantee that concurrent executions cannot observe
// or affect each other.
type Executor interface {
	Execute(ctx context.Context, lang Language, code string, cases []model.TestCase) ([]model.CaseResult, error)
}

// Sandbox executes submissions as subprocesses in throwaway workspaces. One
// workspace per submission, never reused across submissions; test cases of
// the same submission share the compiled artifact. Resource ceilings are
// applied through prlimit and network isolation through unshare when those
// tools exist on the host; their absence degrades to plain subprocess
// isolation and is logged once at startup.
type Sandbox struct {
	workRoot       string
	memoryMB       int
	caseTimeout    time.Duration
	compileTimeout time.Duration
	log            zerolog.Logger

	prlimitPath string
	unsharePath string
}

// SandboxConfig tunes one Sandbox instance.
type SandboxConfig struct {
	WorkRoot       string
	MemoryMB       int
	CaseTimeout    time.Duration
	CompileTimeout time.Duration
}

// NewSandbox prepares the workspace root and probes for the isolation tools.
func NewSandbox(cfg SandboxConfig, log zerolog.Logger) (*Sandbox, error) {
	root := cfg.WorkRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "grader")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	s := &Sandbox{
		workRoot:       root,
		memoryMB:       cfg.MemoryMB,
		caseTimeout:    cfg.CaseTimeout,
		compileTimeout: cfg.CompileTimeout,
		log:            log,
	}
	if s.caseTimeout <= 0 {
		s.caseTimeout = 5 * time.Second
	}
	if s.compileTimeout <= 0 {
		s.compileTimeout = 20 * time.Second
	}

	if p, err := exec.LookPath("prlimit"); err == nil {
		s.prlimitPath = p
	} else {
		log.Warn().Msg("prlimit not found, memory ceilings disabled")
	}
	if p, err := exec.LookPath("unshare"); err == nil && os.Geteuid() == 0 {
		s.unsharePath = p
	} else {
		log.Warn().Msg("unshare unavailable, network isolation disabled")
	}
	return s, nil
}

// Execute builds the submission once, then runs every test case against the
// artifact. A compile failure returns *CompileError; per-case faults land in
// the case verdicts, never as an error.
func (s *Sandbox) Execute(ctx context.Context, lang Language, code string, cases []model.TestCase) ([]model.CaseResult, error) {
	dir, err := os.MkdirTemp(s.workRoot, "sub-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, lang.SourceFile), []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	if len(lang.Compile) > 0 {
		if err := s.compile(ctx, dir, lang); err != nil {
			return nil, err
		}
	}

	results := make([]model.CaseResult, 0, len(cases))
	for i, tc := range cases {
		results = append(results, s.runCase(ctx, dir, lang, i, tc))
	}
	return results, nil
}

func (s *Sandbox) compile(ctx context.Context, dir string, lang Language) error {
	cctx, cancel := context.WithTimeout(ctx, s.compileTimeout)
	defer cancel()

	cmd := s.command(cctx, dir, lang.Compile, false)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		diag := truncate(out.String(), outputCap)
		if cctx.Err() != nil {
			diag = "compilation timed out"
		}
		return &CompileError{Output: diag}
	}
	return nil
}

// runCase executes one test case and classifies the outcome. The process
// group is killed as a whole on timeout so forked children die with it.
func (s *Sandbox) runCase(ctx context.Context, dir string, lang Language, index int, tc model.TestCase) model.CaseResult {
	res := model.CaseResult{Index: index, Hidden: tc.Hidden}

	rctx, cancel := context.WithTimeout(ctx, s.caseTimeout)
	defer cancel()

	cmd := s.command(rctx, dir, lang.Run, true)
	cmd.Stdin = strings.NewReader(tc.Input)

	stdout := newCappedBuffer(outputCap)
	stderr := newCappedBuffer(outputCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res.ExecutionTimeMs = time.Since(start).Milliseconds()

	actual := stdout.String()
	switch {
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		res.Verdict = model.VerdictTimeLimitExceeded
	case rctx.Err() != nil:
		res.Verdict = model.VerdictSandboxError
	case err != nil:
		res.Verdict = classifyExit(err)
	case OutputsMatch(tc.ExpectedOutput, actual):
		res.Verdict = model.VerdictPassed
	default:
		res.Verdict = model.VerdictWrongAnswer
	}

	res.Input = tc.Input
	res.ExpectedOutput = tc.ExpectedOutput
	res.ActualOutput = actual
	res.Stderr = truncate(stderr.String(), 4096)
	return res
}

// command builds the argv with whatever isolation wrappers the host offers:
// unshare drops network access, prlimit caps address space and process count.
// Setpgid puts the child in its own process group so Cancel can kill the
// whole tree, not just the direct child.
func (s *Sandbox) command(ctx context.Context, dir string, argv []string, limit bool) *exec.Cmd {
	full := argv
	if limit && s.memoryMB > 0 && s.prlimitPath != "" {
		limitBytes := strconv.Itoa(s.memoryMB * 1024 * 1024)
		full = append([]string{s.prlimitPath, "--as=" + limitBytes, "--nproc=64", "--"}, full...)
	}
	if limit && s.unsharePath != "" {
		full = append([]string{s.unsharePath, "-n", "--"}, full...)
	}

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	cmd.WaitDelay = time.Second
	return cmd
}

// classifyExit maps a non-zero exit to a verdict. A SIGKILL without a timeout
// means the kernel or prlimit killed the process for resource use.
func classifyExit(err error) model.Verdict {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			if status.Signal() == syscall.SIGKILL {
				return model.VerdictResourceExceeded
			}
			return model.VerdictRuntimeError
		}
		return model.VerdictRuntimeError
	}
	return model.VerdictSandboxError
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// cappedBuffer accepts writes up to its cap and silently discards the rest,
// so a runaway program cannot balloon result payloads.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
