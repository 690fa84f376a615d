// Package buildlog implements the structured build trace: a deterministic,
// canonicalizable record of what the scheduler decided for each rule in a
// build.
//
// It is adapted from the teacher's internal/trace package (ExecutionTrace /
// TraceEvent), generalized from task-execution events to Forge's rule
// outcomes (Invalidated / Cached / Executed / Failed / Cancelled) and extended
// with a monotonic, sortable event ID (github.com/oklog/ulid/v2) so a trace
// can be streamed incrementally instead of only canonicalized after the
// fact.
package buildlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// EventKind is the stable discriminator for a Event. The string values are
// part of the trace's canonical bytes; do not rename.
type EventKind string

const (
	EventRuleInvalidated EventKind = "RuleInvalidated"
	EventRuleCached      EventKind = "RuleCached"
	EventRuleExecuted    EventKind = "RuleExecuted"
	EventRuleFailed      EventKind = "RuleFailed"
	EventRuleCancelled   EventKind = "RuleCancelled"
)

// Event is a single logical decision the scheduler made about one rule.
type Event struct {
	ID     string    `json:"id"`
	Kind   EventKind `json:"kind"`
	Rule   string    `json:"rule"`
	Reason string    `json:"reason,omitempty"`
}

// Log accumulates Events under a single mutex. Each event ID is a ULID: a
// wall-clock millisecond timestamp followed by entropy from a source seeded
// once at construction, so IDs differ between runs even with the same seed.
type Log struct {
	mu      sync.Mutex
	entropy io.Reader
	events  []Event
}

// New returns an empty Log. seed fixes the ULID entropy source only; the
// timestamp part of each ID still comes from the clock, so traces compared
// across runs should use Canonicalize, which drops the IDs.
func New(seed int64) *Log {
	return &Log{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// Record appends one event, assigning it a fresh monotonic ID.
func (l *Log) Record(kind EventKind, rule, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := ulid.MustNew(ulid.Now(), l.entropy)
	l.events = append(l.events, Event{ID: id.String(), Kind: kind, Rule: rule, Reason: reason})
}

// Events returns a snapshot copy of the recorded events in insertion order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Canonical is the deterministic, timing-independent form of a Log: events
// sorted by (rule, kind, reason), IDs dropped since ULIDs embed wall-clock
// timestamps and are therefore not part of the canonical identity.
type Canonical struct {
	Events []CanonicalEvent `json:"events"`
}

// CanonicalEvent is one event stripped of its non-deterministic ID.
type CanonicalEvent struct {
	Kind   EventKind `json:"kind"`
	Rule   string    `json:"rule"`
	Reason string    `json:"reason,omitempty"`
}

// Canonicalize produces the sorted, ID-stripped form of the log, suitable
// for hashing or byte-for-byte comparison across runs.
func (l *Log) Canonicalize() Canonical {
	events := l.Events()
	out := make([]CanonicalEvent, len(events))
	for i, e := range events {
		out[i] = CanonicalEvent{Kind: e.Kind, Rule: e.Rule, Reason: e.Reason}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		return a.Reason < b.Reason
	})
	return Canonical{Events: out}
}

func kindOrder(k EventKind) int {
	switch k {
	case EventRuleInvalidated:
		return 10
	case EventRuleCached:
		return 20
	case EventRuleExecuted:
		return 30
	case EventRuleFailed:
		return 40
	case EventRuleCancelled:
		return 50
	default:
		return 1000
	}
}

// Validate checks that every event carries the fields its kind requires.
func (c Canonical) Validate() error {
	for i, e := range c.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}
		if e.Rule == "" {
			return fmt.Errorf("events[%d]: rule is required", i)
		}
	}
	return nil
}

// MarshalJSON fixes field order for byte-stable output, omitting absent
// optional fields.
func (c Canonical) MarshalJSON() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"events":[`)
	for i, e := range c.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

var errNilLog = errors.New("buildlog: nil log")

// CanonicalJSON returns the canonical JSON encoding of l's current events.
func (l *Log) CanonicalJSON() ([]byte, error) {
	if l == nil {
		return nil, errNilLog
	}
	return json.Marshal(l.Canonicalize())
}
