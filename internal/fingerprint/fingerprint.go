// Package fingerprint computes Forge's deterministic cache key for a Rule
// (§4.5): a digest over a "forge-v1" domain tag, the rule's command, args,
// restricted environment, each input's (workdir-relative path, content
// hash) pair sorted by path, sorted dependency fingerprints, and sorted
// declared outputs.
//
// It generalizes the teacher's dag.computeTaskDefHash (inputs/env/run) to
// the richer Rule record and to a dependency-aware digest, but keeps the
// same determinism rules: every collection is sorted before hashing, and
// every field is length-prefixed via internal/hash.Record so no two distinct
// field sequences can collide by concatenation.
package fingerprint

import (
	"path/filepath"
	"sort"

	"github.com/forgebuild/forge/internal/hash"
	"github.com/forgebuild/forge/internal/rule"
)

// Engine computes and memoizes fingerprints for the rules of a single Graph
// within one build. It is not safe for concurrent use without external
// synchronization; the scheduler serializes its calls to Fingerprint under
// its own mutex before consulting the cache.
type Engine struct {
	graph  *rule.Graph
	inputs map[string]hash.Sum // absolute path -> content hash, filled lazily
	memo   map[string]hash.Sum // rule name -> fingerprint
	hashFn func(path string) (hash.Sum, error)
}

// New creates a fingerprint Engine over g. hashFn defaults to hash.File and
// is overridable for tests.
func New(g *rule.Graph) *Engine {
	return &Engine{
		graph:  g,
		inputs: make(map[string]hash.Sum),
		memo:   make(map[string]hash.Sum),
		hashFn: hash.File,
	}
}

// SetHashFunc overrides the input-hashing function, for tests that want to
// avoid touching the filesystem.
func (e *Engine) SetHashFunc(fn func(path string) (hash.Sum, error)) {
	e.hashFn = fn
}

// Fingerprint computes (and memoizes) the fingerprint of the named rule,
// recursively computing its dependencies' fingerprints first.
func (e *Engine) Fingerprint(name string) (hash.Sum, error) {
	if sum, ok := e.memo[name]; ok {
		return sum, nil
	}

	r, ok := e.graph.Rule(name)
	if !ok {
		return hash.Sum{}, unknownRule(name)
	}

	depSums := make([]hash.Sum, 0, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		depSum, err := e.Fingerprint(dep)
		if err != nil {
			return hash.Sum{}, err
		}
		depSums = append(depSums, depSum)
	}

	inputSums, err := e.hashInputs(r)
	if err != nil {
		return hash.Sum{}, err
	}

	sum := computeSum(r, inputSums, depSums)
	e.memo[name] = sum
	return sum, nil
}

// inputHash pairs an input's workdir-relative path with its content hash —
// the (rel(p, rule.workdir), content-hash) pair §3/§4.5 define as the unit
// the fingerprint folds in per input, sorted by path.
type inputHash struct {
	RelPath string
	Sum     hash.Sum
}

func (e *Engine) hashInputs(r *rule.Rule) ([]inputHash, error) {
	paths := make([]string, len(r.Inputs))
	copy(paths, r.Inputs)
	sort.Strings(paths)

	out := make([]inputHash, 0, len(paths))
	for _, in := range paths {
		sum, ok := e.inputs[in]
		if !ok {
			var err error
			sum, err = e.hashFn(in)
			if err != nil {
				return nil, hashInputFailed(r.Name, in, err)
			}
			e.inputs[in] = sum
		}

		rel, err := filepath.Rel(r.WorkDir, in)
		if err != nil {
			rel = in
		}
		out = append(out, inputHash{RelPath: rel, Sum: sum})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// computeSum assembles the canonical record digested by hash.Record.
// Fields, in order: the "forge-v1" domain tag, command, each arg as its own field,
// restricted+sorted env pairs, (path, hash) pairs for each input sorted by
// workdir-relative path, sorted dependency fingerprints, sorted outputs.
func computeSum(r *rule.Rule, inputs []inputHash, depSums []hash.Sum) hash.Sum {
	fields := make([][]byte, 0, 8)
	fields = append(fields, hash.Field("forge-v1"))
	fields = append(fields, hash.Field(r.Command))

	for _, a := range r.Args {
		fields = append(fields, hash.Field(a))
	}

	envKeys := make([]string, 0, len(r.EnvKeys))
	envKeys = append(envKeys, r.EnvKeys...)
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fields = append(fields, hash.Field(k), hash.Field(r.Env[k]))
	}

	for _, in := range inputs {
		fields = append(fields, hash.Field(in.RelPath), append([]byte(nil), in.Sum[:]...))
	}

	sortedDepSums := sortedSumBytes(depSums)
	fields = append(fields, sortedDepSums...)

	outputs := make([]string, len(r.Outputs))
	copy(outputs, r.Outputs)
	sort.Strings(outputs)
	for _, o := range outputs {
		fields = append(fields, hash.Field(o))
	}

	return hash.Record(fields...)
}

func sortedSumBytes(sums []hash.Sum) [][]byte {
	strs := make([]string, 0, len(sums))
	byStr := make(map[string]hash.Sum, len(sums))
	for _, s := range sums {
		str := s.String()
		strs = append(strs, str)
		byStr[str] = s
	}
	sort.Strings(strs)

	out := make([][]byte, 0, len(strs))
	for _, str := range strs {
		s := byStr[str]
		out = append(out, append([]byte(nil), s[:]...))
	}
	return out
}
