// Package rule defines Forge's Rule data model (§3) and the Rule Graph DAG
// (§4.4): registration, validation, cycle/duplicate/collision detection,
// and target/component filtering.
//
// It is the direct descendant of the teacher's internal/dag package, with
// TaskNode/TaskGraph renamed to Rule/Graph and generalized from a flat task
// definition to the richer Rule record spec.md §3 requires (command/args/env
// with env_keys/workdir/inputs/outputs/dependencies).
package rule

import "github.com/go-playground/validator/v10"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Rule is an immutable build-rule record (§3).
type Rule struct {
	// Name uniquely identifies the rule within a Graph (Invariant D1).
	Name string `validate:"required"`

	// Command is the executable name or absolute path.
	Command string `validate:"required"`

	// Args is the ordered argument list passed to Command.
	Args []string

	// Env is the full environment mapping available to the rule's process.
	// Only keys present in EnvKeys contribute to the rule's fingerprint;
	// the rest are still inherited by the child process at run time.
	Env map[string]string

	// EnvKeys restricts which Env keys affect the fingerprint. A nil/empty
	// EnvKeys means no environment variable contributes to the fingerprint
	// (the conservative, spec-mandated default from §4.5's Open Question).
	EnvKeys []string

	// WorkDir is the absolute directory the command runs in.
	WorkDir string `validate:"required"`

	// Inputs is the set of absolute file paths the rule reads.
	Inputs []string

	// Outputs is the set of absolute file paths the rule must produce.
	// Empty is permitted only for always-run side-effect rules (§3); such
	// rules are recognized by AlwaysRuns().
	Outputs []string

	// Dependencies is the set of other rule names that must succeed first.
	Dependencies []string

	// Target names the build variant this rule belongs to (e.g. "linux_x64");
	// empty means the rule applies to every target.
	Target string

	// Component groups rules produced by one logical unit (library/binary)
	// for component-filter matching (§4.4 Filtering).
	Component string

	// Timeout, if non-zero, bounds the rule's execution (§4.7); zero means
	// no per-rule timeout.
	Timeout int64 // nanoseconds; runner.Run converts it to a time.Duration
}

// AlwaysRuns reports whether r has no declared outputs and therefore never
// participates in cache hits (§3).
func (r *Rule) AlwaysRuns() bool { return len(r.Outputs) == 0 }

// Validate runs struct-tag validation (required fields) only; graph-level
// checks happen in Builder.Build. It mirrors the teacher's
// Run()/Validate() hand-rolled methods in recovery/state/models.go but
// driven by go-playground/validator for the mechanical part.
func (r *Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	return nil
}
