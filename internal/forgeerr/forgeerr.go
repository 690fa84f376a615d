// Package forgeerr defines the error taxonomy shared across Forge's
// components and the exit codes the CLI derives from it.
package forgeerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a sentinel identifying the class of failure, analogous to the
// teacher's dag.ErrInvalidGraph / dag.ErrCycleFound pair but generalized to
// every taxonomy entry in spec.md §7.
type Kind error

var (
	// KindConfig covers DuplicateRule, CycleDetected, UnknownDependency,
	// OutputCollision, MissingInput and OutputEscape — all pre-execution
	// graph-validation failures.
	KindConfig Kind = errors.New("config error")

	// KindIO covers filesystem and CAS I/O failures.
	KindIO Kind = errors.New("io failure")

	// KindCommandFailed is a rule process that exited non-zero.
	KindCommandFailed Kind = errors.New("command failed")

	// KindMissingOutput is a rule that did not produce a declared output.
	KindMissingOutput Kind = errors.New("missing output")

	// KindTimeout is a rule that exceeded its configured timeout.
	KindTimeout Kind = errors.New("timeout")

	// KindCasCorruption is a CAS entry whose content disagrees with its hash.
	KindCasCorruption Kind = errors.New("cas corruption")

	// KindCancelled marks a rule or build cancelled after a sibling failure.
	KindCancelled Kind = errors.New("cancelled")
)

// Error wraps a Kind with a rule-scoped message, keeping errors.Is/As usable
// against the sentinel Kinds above while still carrying a human message.
type Error struct {
	Kind Kind
	Rule string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Rule == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	}
	return fmt.Sprintf("%s: rule %q: %s", e.Kind.Error(), e.Rule, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds an *Error for the given Kind, rule name (may be empty), and
// formatted message.
func New(kind Kind, rule string, format string, args ...any) *Error {
	return &Error{Kind: kind, Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// Exit codes per spec.md §6.
const (
	ExitSuccess       = 0
	ExitRuleFailure   = 1
	ExitConfigError   = 2
	ExitIOError       = 3
	ExitCancelled     = 130
	ExitInternalError = 70
)

// ExitCode maps an error produced anywhere in the engine to the process exit
// code the CLI should use. nil maps to ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindConfig:
			return ExitConfigError
		case KindIO, KindCasCorruption:
			return ExitIOError
		case KindCommandFailed, KindMissingOutput, KindTimeout:
			return ExitRuleFailure
		case KindCancelled:
			return ExitCancelled
		}
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	return ExitInternalError
}
