// Package scheduler implements Forge's parallel rule scheduler (§4.6):
// a dependency-ready worker pool that runs rules once their dependencies are
// terminal, probing the cache index before ever invoking the runner, with
// per-fingerprint single-flight so two rules sharing a fingerprint never
// execute concurrently.
//
// The readiness-driven dispatch loop is adapted from the teacher's
// dag.Executor.RunParallel (internal/dag/executor.go): a coordinator
// goroutine owns all state transitions under one mutex, execution happens
// outside the lock, and completed work re-feeds the ready queue. Where the
// teacher hand-rolled its worker pool and had no cache layer, this version
// uses golang.org/x/sync/errgroup for the pool and golang.org/x/sync/
// singleflight for the per-fingerprint cache-probe-then-build dedup the
// spec calls for.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/forgebuild/forge/internal/cacheindex"
	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/hash"
	"github.com/forgebuild/forge/internal/metrics"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/runner"
)

// Outcome classifies how a rule reached a terminal state.
type Outcome int

const (
	Executed Outcome = iota
	CacheHit
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case CacheHit:
		return "cache_hit"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RuleResult is the terminal outcome recorded for a single rule.
type RuleResult struct {
	Name        string
	Outcome     Outcome
	Fingerprint hash.Sum
	Err         error
	Duration    time.Duration
}

// Report is the aggregate result of one Run.
type Report struct {
	Results map[string]*RuleResult
	Failed  bool
}

// Options configures a scheduler Run.
type Options struct {
	// Jobs is the worker pool size. Zero means runtime.NumCPU(), overridable
	// by the caller reading FORGE_JOBS (§6).
	Jobs int

	// KeepGoing, when true, cancels only the dependents of a failed rule
	// instead of the whole build (§4.6).
	KeepGoing bool

	// ProjectOutDir is the forge-out root, passed to the runner for
	// OutputEscape validation.
	ProjectOutDir string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

func (o Options) jobs() int {
	if o.Jobs > 0 {
		return o.Jobs
	}
	return runtime.NumCPU()
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Scheduler runs a rule Graph to completion against a shared cache.
type Scheduler struct {
	graph   *rule.Graph
	fp      *fingerprint.Engine
	fpMu    sync.Mutex // serializes calls into fp, which is not safe for concurrent use
	index   *cacheindex.Index
	store   *cas.Store
	opts    Options
	single  singleflight.Group
}

// New creates a Scheduler over g, using index and store as the cache index
// and CAS respectively.
func New(g *rule.Graph, index *cacheindex.Index, store *cas.Store, opts Options) *Scheduler {
	return &Scheduler{
		graph: g,
		fp:    fingerprint.New(g),
		index: index,
		store: store,
		opts:  opts,
	}
}

type nodeState int

const (
	statePending nodeState = iota
	stateReady
	stateRunning
	stateTerminal
)

type coordinator struct {
	sched      *Scheduler
	log        *slog.Logger
	cancelFunc context.CancelFunc

	mu        sync.Mutex
	state     map[string]nodeState
	remaining map[string]int
	results   map[string]*RuleResult
	cancelled bool
}

// Run executes every rule in the scheduler's graph, returning a Report that
// never itself carries the per-rule errors as a fatal return — callers
// inspect Report.Results for failures. Run's own error return is always
// nil; even a rule name vanishing mid-run is recorded as a Failed result.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	log := s.opts.logger()
	rules := s.graph.Rules()

	c := &coordinator{
		sched:     s,
		log:       log,
		state:     make(map[string]nodeState, len(rules)),
		remaining: make(map[string]int, len(rules)),
		results:   make(map[string]*RuleResult, len(rules)),
	}

	readyCh := make(chan string, len(rules))
	for _, r := range rules {
		deps := s.graph.Dependencies(r.Name)
		c.state[r.Name] = statePending
		c.remaining[r.Name] = len(deps)
		if len(deps) == 0 {
			c.state[r.Name] = stateReady
			readyCh <- r.Name
		}
	}
	c.reportQueueDepth(readyCh)
	if len(rules) == 0 {
		close(readyCh)
		return &Report{Results: c.results}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelFunc = cancel

	group, gctx := errgroup.WithContext(runCtx)
	group.SetLimit(s.opts.jobs())

	doneCh := make(chan string, len(rules))

	// Coordinator goroutine: owns all state transitions, feeds readyCh,
	// and closes it once every rule is terminal.
	go func() {
		remainingCount := len(rules)
		for name := range doneCh {
			remainingCount--

			c.mu.Lock()
			outcome := c.results[name].Outcome
			c.mu.Unlock()

			if outcome == Failed || outcome == Cancelled {
				n := c.cancelDependents(s.graph, name)
				remainingCount -= n
			} else {
				for _, dep := range s.graph.Dependents(name) {
					c.mu.Lock()
					if c.state[dep] != statePending {
						c.mu.Unlock()
						continue
					}
					c.remaining[dep]--
					ready := c.remaining[dep] == 0
					if ready {
						c.state[dep] = stateReady
					}
					c.mu.Unlock()
					if ready {
						readyCh <- dep
					}
				}
			}
			c.reportQueueDepth(readyCh)

			if remainingCount == 0 {
				close(readyCh)
				return
			}
		}
	}()

	for name := range readyCh {
		name := name
		c.reportQueueDepth(readyCh)
		group.Go(func() error {
			c.runOne(gctx, name, doneCh)
			return nil
		})
	}
	_ = group.Wait()

	failed := false
	for _, r := range c.results {
		if r.Outcome == Failed {
			failed = true
			break
		}
	}
	return &Report{Results: c.results, Failed: failed}, nil
}

// cancelDependents transitively marks every not-yet-terminal dependent of
// name as Cancelled without ever dispatching it to the ready queue, and
// returns how many rules it newly terminated — so the coordinator's
// remaining-work counter stays accurate without those rules round-tripping
// through doneCh themselves.
func (c *coordinator) cancelDependents(g *rule.Graph, name string) int {
	n := 0
	for _, dep := range g.Dependents(name) {
		c.mu.Lock()
		if c.state[dep] == stateTerminal {
			c.mu.Unlock()
			continue
		}
		c.state[dep] = stateTerminal
		c.results[dep] = &RuleResult{Name: dep, Outcome: Cancelled, Err: forgeerr.New(forgeerr.KindCancelled, dep, "dependency %q failed", name)}
		c.mu.Unlock()
		n++
		n += c.cancelDependents(g, dep)
	}
	return n
}

func (c *coordinator) markTerminal(name string, result *RuleResult) {
	c.mu.Lock()
	c.state[name] = stateTerminal
	c.results[name] = result
	c.mu.Unlock()
}

func (c *coordinator) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// reportQueueDepth reports the ready queue's current backlog — rules
// dispatched to readyCh but not yet picked up by a worker. len() on a
// channel with live concurrent senders/receivers is a snapshot, not an
// atomic read; that's an acceptable approximation for a gauge.
func (c *coordinator) reportQueueDepth(readyCh chan string) {
	if c.sched.opts.Metrics != nil {
		c.sched.opts.Metrics.SetQueueDepth(len(readyCh))
	}
}

func (c *coordinator) cancelAll() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// runOne computes name's fingerprint, probes the cache under the
// scheduler's single-flight group, and on a miss delegates to the runner.
func (c *coordinator) runOne(ctx context.Context, name string, doneCh chan<- string) {
	start := time.Now()
	defer func() { doneCh <- name }()

	if ctx.Err() != nil || c.isCancelled() {
		c.markTerminal(name, &RuleResult{Name: name, Outcome: Cancelled, Err: ctx.Err(), Duration: time.Since(start)})
		return
	}

	r, ok := c.sched.graph.Rule(name)
	if !ok {
		c.markTerminal(name, &RuleResult{Name: name, Outcome: Failed, Err: forgeerr.New(forgeerr.KindConfig, name, "rule vanished from graph mid-run")})
		return
	}

	if c.sched.opts.Metrics != nil {
		c.sched.opts.Metrics.RuleStarted()
	}

	c.sched.fpMu.Lock()
	fp, err := c.sched.fp.Fingerprint(name)
	c.sched.fpMu.Unlock()
	if err != nil {
		if c.sched.opts.Metrics != nil {
			c.sched.opts.Metrics.RecordRule(Failed.String())
		}
		c.onFailure(name, &RuleResult{Name: name, Outcome: Failed, Err: err, Duration: time.Since(start)})
		return
	}

	// single.Do returns the SAME *RuleResult to every caller sharing this
	// fingerprint; copy it before stamping per-caller fields so concurrent
	// callers don't race on (or clobber) each other's Name/Duration.
	resultAny, _, _ := c.sched.single.Do(fp.String(), func() (any, error) {
		return c.probeOrExecute(ctx, r, fp)
	})
	shared := resultAny.(*RuleResult)
	result := &RuleResult{Outcome: shared.Outcome, Err: shared.Err}
	result.Name = name
	result.Fingerprint = fp
	result.Duration = time.Since(start)

	if c.sched.opts.Metrics != nil {
		c.sched.opts.Metrics.RecordRule(result.Outcome.String())
	}

	if result.Outcome == Failed {
		c.onFailure(name, result)
		return
	}
	c.markTerminal(name, result)
}

func (c *coordinator) onFailure(name string, result *RuleResult) {
	c.markTerminal(name, result)
	if !c.sched.opts.KeepGoing {
		c.cancelAll()
	}
	c.log.Error("rule failed", "rule", name, "error", result.Err)
}

// probeOrExecute is the body single-flighted per fingerprint: a cache hit
// materializes outputs from the CAS; a miss runs the rule and populates
// both the CAS and the cache index.
func (c *coordinator) probeOrExecute(ctx context.Context, r *rule.Rule, fp hash.Sum) (any, error) {
	if !r.AlwaysRuns() {
		if manifest, ok := c.sched.index.Lookup(fp); ok {
			if err := materialize(c.sched.store, manifest); err == nil {
				return &RuleResult{Outcome: CacheHit}, nil
			}
			c.sched.index.Invalidate(fp)
		}
	}

	res, runErr := runner.Run(ctx, r, c.sched.opts.ProjectOutDir)
	if runErr != nil {
		return &RuleResult{Outcome: Failed, Err: runErr}, nil
	}

	manifest, err := insertOutputs(c.sched.store, r, res.ExitCode)
	if err != nil {
		return &RuleResult{Outcome: Failed, Err: err}, nil
	}
	if !r.AlwaysRuns() {
		c.sched.index.Insert(fp, manifest)
	}
	return &RuleResult{Outcome: Executed}, nil
}

func insertOutputs(store *cas.Store, r *rule.Rule, exitCode int) (cacheindex.OutputManifest, error) {
	outputs := make(map[string]string, len(r.Outputs))
	sorted := append([]string(nil), r.Outputs...)
	sort.Strings(sorted)
	for _, out := range sorted {
		sum, err := store.InsertFile(out)
		if err != nil {
			return cacheindex.OutputManifest{}, err
		}
		outputs[out] = sum.String()
	}
	return cacheindex.OutputManifest{
		Outputs:   outputs,
		CreatedAt: time.Now().Unix(),
		ExitCode:  exitCode,
	}, nil
}

func materialize(store *cas.Store, manifest cacheindex.OutputManifest) error {
	for path, hexSum := range manifest.Outputs {
		sum, err := hash.ParseSum(hexSum)
		if err != nil {
			return err
		}
		ok, err := store.Contains(sum)
		if err != nil {
			return err
		}
		if !ok {
			return forgeerr.New(forgeerr.KindCasCorruption, "", "cas entry %s for %q is missing", sum, path)
		}
		if err := store.Materialize(sum, path); err != nil {
			return err
		}
	}
	return nil
}

// JobsFromEnv reads FORGE_JOBS (§6), returning 0 (meaning "use NumCPU") if
// unset or invalid.
func JobsFromEnv() int {
	v := os.Getenv("FORGE_JOBS")
	if v == "" {
		return 0
	}
	n := 0
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
