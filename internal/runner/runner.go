// Package runner implements the Rule Runner (§4.7): spawns a rule's
// configured command in its working directory, captures output, and
// validates the post-conditions a successful rule execution must satisfy.
//
// The process-group-per-child and environment-allowlist approach is
// carried over from the teacher's core.Executor (internal/core/executor.go),
// generalized from a single "sh -c" string into an argv-style Command/Args
// pair and from SIGKILL-only cancellation into the spec's SIGTERM-then-grace
// -then-SIGKILL escalation, using golang.org/x/sys/unix for the signal send
// instead of the syscall package the teacher reached for.
package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/rule"
)

// GracePeriod is how long the runner waits after SIGTERM before escalating
// to SIGKILL.
const GracePeriod = 5 * time.Second

// stderrTailBytes bounds how much stderr is retained for a CommandFailed
// error message (§7: "CommandFailed ... Yes, with stderr tail").
const stderrTailBytes = 4096

// Result is the outcome of a single rule execution.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run executes r.Command with r.Args in r.WorkDir, under an environment
// built solely from r.Env (never the host's os.Environ — the rule record
// is the sole source of truth for what the child process sees), and
// validates its outputs. projectOutDir is the project's forge-out root,
// used to validate OutputEscape (§4.7).
func Run(ctx context.Context, r *rule.Rule, projectOutDir string) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.Timeout))
		defer cancel()
	}

	cmd := exec.Command(r.Command, r.Args...)
	cmd.Dir = r.WorkDir
	cmd.Env = isolatedEnv(r.Env)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, forgeerr.New(forgeerr.KindIO, r.Name, "starting command: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		killProcessGroup(cmd.Process.Pid, done)
		if r.Timeout > 0 && ctx.Err() == nil {
			return nil, forgeerr.New(forgeerr.KindTimeout, r.Name, "exceeded timeout of %s", time.Duration(r.Timeout))
		}
		return nil, forgeerr.New(forgeerr.KindCancelled, r.Name, "cancelled: %v", ctx.Err())
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, forgeerr.New(forgeerr.KindIO, r.Name, "running command: %v", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}

	if exitCode != 0 {
		return result, forgeerr.New(forgeerr.KindCommandFailed, r.Name, "exit code %d: %s", exitCode, tail(stderr.Bytes(), stderrTailBytes))
	}

	if err := validateOutputs(r, projectOutDir); err != nil {
		return result, err
	}

	return result, nil
}

// killProcessGroup sends SIGTERM to the process group, waits up to
// GracePeriod for the child to exit, and escalates to SIGKILL if it hasn't.
func killProcessGroup(pid int, done <-chan error) {
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(GracePeriod):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	<-done
}

// isolatedEnv builds the child's environment entirely from env, never
// inheriting the parent's — a rule's fingerprint only covers env_keys, but
// its actual process environment is exactly what it declares, full stop.
func isolatedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// validateOutputs enforces that every declared output exists as a file and
// resolves inside workdir or the project's forge-out tree.
func validateOutputs(r *rule.Rule, projectOutDir string) error {
	for _, out := range r.Outputs {
		if err := checkOutputLocation(out, r.WorkDir, projectOutDir); err != nil {
			return forgeerr.New(forgeerr.KindConfig, r.Name, "output %q escapes workdir and forge-out: %v", out, err)
		}
		info, err := os.Stat(out)
		if err != nil {
			return forgeerr.New(forgeerr.KindMissingOutput, r.Name, "declared output %q was not produced: %v", out, err)
		}
		if info.IsDir() {
			return forgeerr.New(forgeerr.KindMissingOutput, r.Name, "declared output %q is a directory, not a file", out)
		}
	}
	return nil
}

func checkOutputLocation(path, workdir, projectOutDir string) error {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workdir, abs)
	}
	abs = filepath.Clean(abs)

	if within(abs, filepath.Clean(workdir)) || within(abs, filepath.Clean(projectOutDir)) {
		return nil
	}
	return forgeerr.New(forgeerr.KindConfig, "", "path %q is outside both %q and %q", abs, workdir, projectOutDir)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
