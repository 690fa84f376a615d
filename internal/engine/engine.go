// Package engine assembles the Rule Graph, fingerprint engine, content
// store, cache index, and scheduler into the four entry points the CLI (or
// any other driver) calls against a project: build, run, test, clean.
//
// Lifecycle matches §5's "Process-wide state" note directly: Open
// constructs an Engine per invocation with no global singletons, and
// Close flushes the cache index and releases resources on every exit
// path, mirroring the teacher's explicit open/close pattern in
// internal/core (there is no teacher equivalent of a facade this wide, so
// the assembly itself is new wiring over already-adapted packages).
package engine

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/forgebuild/forge/internal/buildlog"
	"github.com/forgebuild/forge/internal/cacheindex"
	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/metrics"
	"github.com/forgebuild/forge/internal/projectroot"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/scheduler"
)

// Options configures an Engine beyond its project root.
type Options struct {
	Jobs      int
	KeepGoing bool
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Engine is the single entry point a driver (CLI or otherwise) holds for
// the lifetime of one invocation.
type Engine struct {
	root    string
	opts    Options
	log     *slog.Logger
	store   *cas.Store
	index   *cacheindex.Index
	builder *rule.Builder

	mu    sync.Mutex
	graph *rule.Graph // built lazily, once, from builder
}

// Open locates (or is given) a project root, opens its CAS and loads its
// cache index. It never builds or validates the rule graph: rules are
// still pending submission via AddRule, mirroring §6's "a single function
// add_rule(Rule) ... no other intake path".
func Open(root string, opts Options) (*Engine, error) {
	log := opts.logger()

	store, err := cas.Open(projectroot.CasDir(root))
	if err != nil {
		return nil, err
	}

	index, discarded, err := cacheindex.Load(projectroot.CacheIndexPath(root))
	if err != nil {
		return nil, err
	}
	if discarded {
		log.Warn("cache index schema unrecognized or corrupt; starting from an empty cache", "path", projectroot.CacheIndexPath(root))
	}

	return &Engine{
		root:    root,
		opts:    opts,
		log:     log,
		store:   store,
		index:   index,
		builder: rule.NewBuilder(),
	}, nil
}

// AddRule is the engine's one rule-submission boundary (§6).
func (e *Engine) AddRule(r rule.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph != nil {
		return forgeerr.New(forgeerr.KindConfig, r.Name, "cannot add rules after the graph has been built")
	}
	return e.builder.AddRule(r)
}

func (e *Engine) ensureGraph() (*rule.Graph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph != nil {
		return e.graph, nil
	}
	g, err := e.builder.Build()
	if err != nil {
		return nil, err
	}
	e.graph = g
	return g, nil
}

// BuildReport is the result of one build() call.
type BuildReport struct {
	ID     string
	Report *scheduler.Report
	Log    buildlog.Canonical
	Failed bool
}

// Build validates the rule graph (if not already validated), selects the
// subgraph reachable from targets/components, and runs it to completion.
func (e *Engine) Build(ctx context.Context, targets, components []string) (*BuildReport, error) {
	g, err := e.ensureGraph()
	if err != nil {
		return nil, err
	}
	selected := g.Select(targets, components)

	sched := scheduler.New(selected, e.index, e.store, scheduler.Options{
		Jobs:          e.opts.Jobs,
		KeepGoing:     e.opts.KeepGoing,
		ProjectOutDir: projectroot.OutDir(e.root),
		Logger:        e.log,
		Metrics:       e.opts.Metrics,
	})

	report, err := sched.Run(ctx)
	if err != nil {
		return nil, err
	}

	log := buildlog.New(0)
	for name, res := range report.Results {
		log.Record(outcomeEventKind(res.Outcome), name, reasonFor(res))
	}

	return &BuildReport{
		ID:     uuid.NewString(),
		Report: report,
		Log:    log.Canonicalize(),
		Failed: report.Failed,
	}, nil
}

func outcomeEventKind(o scheduler.Outcome) buildlog.EventKind {
	switch o {
	case scheduler.CacheHit:
		return buildlog.EventRuleCached
	case scheduler.Executed:
		return buildlog.EventRuleExecuted
	case scheduler.Cancelled:
		return buildlog.EventRuleCancelled
	default:
		return buildlog.EventRuleFailed
	}
}

func reasonFor(res *scheduler.RuleResult) string {
	if res.Err == nil {
		return ""
	}
	return res.Err.Error()
}

// ProcessExit is the observable outcome of run()/test() execing a built
// binary.
type ProcessExit struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Run builds target/component, then execs the binary the selected
// subgraph's unique sink rule produced (§6: "builds, then execs the
// produced binary").
func (e *Engine) Run(ctx context.Context, target, component string) (*ProcessExit, error) {
	if _, err := e.Build(ctx, []string{target}, []string{component}); err != nil {
		return nil, err
	}
	return e.execSink(ctx, target, component, nil)
}

// TestReport is the result of test().
type TestReport struct {
	Passed   bool
	Exit     *ProcessExit
	Fixtures []string
}

// Test builds target/component in test mode — the sole sink rule's outputs
// gain a "_test" suffix before fingerprinting and execution, so test
// artifacts never collide with (or invalidate the cache of) production
// ones built from the same rule (§6).
func (e *Engine) Test(ctx context.Context, target, component string) (*TestReport, error) {
	g, err := e.ensureGraph()
	if err != nil {
		return nil, err
	}
	selected := g.Select([]string{target}, []string{component})
	testGraph, sinkName, err := testVariant(selected)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(testGraph, e.index, e.store, scheduler.Options{
		Jobs:          e.opts.Jobs,
		KeepGoing:     e.opts.KeepGoing,
		ProjectOutDir: projectroot.OutDir(e.root),
		Logger:        e.log,
		Metrics:       e.opts.Metrics,
	})
	report, err := sched.Run(ctx)
	if err != nil {
		return nil, err
	}
	if report.Failed {
		return &TestReport{Passed: false}, nil
	}

	sink, ok := testGraph.Rule(sinkName)
	if !ok {
		return nil, forgeerr.New(forgeerr.KindConfig, sinkName, "test sink rule missing after build")
	}
	exit, err := execBinary(ctx, sink.Outputs)
	if err != nil {
		return nil, err
	}
	return &TestReport{Passed: exit.ExitCode == 0, Exit: exit}, nil
}

// testVariant builds a copy of g where the sole sink rule has "_test"
// appended to every output path (other rules are copied unchanged), so
// the fingerprint and cache entry for a test run never alias the
// production build's.
func testVariant(g *rule.Graph) (*rule.Graph, string, error) {
	sinkName, err := soleSink(g)
	if err != nil {
		return nil, "", err
	}

	b := rule.NewBuilder()
	for _, r := range g.Rules() {
		rc := *r
		if rc.Name == sinkName {
			rc.Outputs = appendSuffix(rc.Outputs, "_test")
		}
		if err := b.AddRule(rc); err != nil {
			return nil, "", err
		}
	}
	testGraph, err := b.Build()
	if err != nil {
		return nil, "", err
	}
	return testGraph, sinkName, nil
}

func appendSuffix(paths []string, suffix string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p + suffix
	}
	return out
}

// soleSink returns the name of the selected subgraph's single rule with no
// dependents, erroring if there isn't exactly one (run/test need a single
// produced binary to exec).
func soleSink(g *rule.Graph) (string, error) {
	var sinks []string
	for _, r := range g.Rules() {
		if len(g.Dependents(r.Name)) == 0 {
			sinks = append(sinks, r.Name)
		}
	}
	if len(sinks) != 1 {
		return "", forgeerr.New(forgeerr.KindConfig, "", "expected exactly one sink rule for the selected target/component, found %d", len(sinks))
	}
	return sinks[0], nil
}

func (e *Engine) execSink(ctx context.Context, target, component string, args []string) (*ProcessExit, error) {
	g, err := e.ensureGraph()
	if err != nil {
		return nil, err
	}
	selected := g.Select([]string{target}, []string{component})
	sinkName, err := soleSink(selected)
	if err != nil {
		return nil, err
	}
	sink, _ := selected.Rule(sinkName)
	return execBinary(ctx, sink.Outputs)
}

func execBinary(ctx context.Context, outputs []string) (*ProcessExit, error) {
	if len(outputs) == 0 {
		return nil, forgeerr.New(forgeerr.KindConfig, "", "sink rule has no outputs to exec")
	}
	bin := outputs[0]
	if !filepath.IsAbs(bin) {
		return nil, forgeerr.New(forgeerr.KindConfig, "", "sink output %q must be an absolute path", bin)
	}

	cmd := exec.CommandContext(ctx, bin)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, forgeerr.New(forgeerr.KindCommandFailed, "", "execing %q: %v", bin, runErr)
		}
	}
	return &ProcessExit{ExitCode: exitCode, Stdout: []byte(stdout.String()), Stderr: []byte(stderr.String())}, nil
}

// Clean recursively deletes forge-out/ (§6) and replaces the in-memory
// cache index with an empty one, so a Close after Clean does not write the
// old entries back and a subsequent Open against the same root starts from
// an empty on-disk state.
func (e *Engine) Clean() error {
	outDir := projectroot.OutDir(e.root)
	if err := os.RemoveAll(outDir); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "cleaning %q: %v", outDir, err)
	}
	index, _, err := cacheindex.Load(projectroot.CacheIndexPath(e.root))
	if err != nil {
		return err
	}
	e.index = index
	return nil
}

// Close flushes the cache index. It runs on every exit path of a driver's
// build/run/test call, per §5's scoped-finalizer requirement; callers
// should defer it immediately after Open succeeds.
func (e *Engine) Close() error {
	return e.index.Flush()
}
