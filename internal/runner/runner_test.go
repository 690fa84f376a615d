package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/runner"
)

func TestRunSucceedsAndValidatesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")

	r := &rule.Rule{
		Name:    "touch",
		Command: "sh",
		Args:    []string{"-c", "echo hi > out.txt"},
		WorkDir: dir,
		Outputs: []string{out},
	}

	res, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data))
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	r := &rule.Rule{
		Name:    "fail",
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		WorkDir: dir,
	}

	_, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.Error(t, err)
	require.Equal(t, forgeerr.ExitRuleFailure, forgeerr.ExitCode(err))
}

func TestRunFailsOnMissingOutput(t *testing.T) {
	dir := t.TempDir()
	r := &rule.Rule{
		Name:    "nop",
		Command: "sh",
		Args:    []string{"-c", "true"},
		WorkDir: dir,
		Outputs: []string{filepath.Join(dir, "never-written.txt")},
	}

	_, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.Error(t, err)
}

func TestRunRejectsOutputEscapingWorkdirAndForgeOut(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir() // a sibling temp dir, outside workdir and forge-out

	r := &rule.Rule{
		Name:    "escape",
		Command: "sh",
		Args:    []string{"-c", "echo x > " + filepath.Join(outside, "escaped.txt")},
		WorkDir: dir,
		Outputs: []string{filepath.Join(outside, "escaped.txt")},
	}

	_, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.Error(t, err)
	require.Equal(t, forgeerr.ExitConfigError, forgeerr.ExitCode(err))
}

func TestRunEnforcesTimeout(t *testing.T) {
	dir := t.TempDir()
	r := &rule.Rule{
		Name:    "slow",
		Command: "sh",
		Args:    []string{"-c", "sleep 5"},
		WorkDir: dir,
		Timeout: int64(50 * time.Millisecond),
	}

	_, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.Error(t, err)
}

func TestRunIsolatesEnvironment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "env.txt")

	t.Setenv("FORGE_TEST_SECRET", "should-not-leak")

	r := &rule.Rule{
		Name:    "printenv",
		Command: "sh",
		Args:    []string{"-c", "echo -n ${FORGE_TEST_SECRET:-absent} > env.txt"},
		WorkDir: dir,
		Outputs: []string{out},
	}

	_, err := runner.Run(context.Background(), r, filepath.Join(dir, "forge-out"))
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "absent", string(data))
}
