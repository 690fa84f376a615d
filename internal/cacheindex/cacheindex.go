// Package cacheindex implements Forge's cache index (§4.3): a single
// persistent record mapping each rule fingerprint to the manifest of
// content hashes it produced, loaded once at startup and flushed once at
// shutdown.
//
// The load/flush-at-edges discipline and the temp-file-then-rename commit
// are adapted from the teacher's core.FileCache (internal/core/cache.go),
// collapsed from "one directory per entry" to "one JSON document" — the
// on-disk cache.json schema this package reads and writes is bit-exact
// per-entry ("outputs" + "created_at" keyed by fingerprint hex).
package cacheindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/hash"
)

const schemaVersion = 1

// OutputManifest records the content hash each declared output had the last
// time its owning rule ran, keyed by output path, plus the unix-seconds
// timestamp of that run.
type OutputManifest struct {
	Outputs   map[string]string `json:"outputs"` // output path -> hex content hash
	CreatedAt int64             `json:"created_at"`
	ExitCode  int               `json:"exit_code,omitempty"`
}

type diskSchema struct {
	Version int                       `json:"version"`
	Entries map[string]OutputManifest `json:"entries"`
}

// Index is an in-memory, mutex-guarded view of cache.json. Lookups take a
// read lock only; the scheduler calls Lookup concurrently from many
// worker goroutines, matching §5's "snapshot reads lock-free" intent as
// closely as a single shared map allows without unsafe tricks.
type Index struct {
	mu      sync.RWMutex
	path    string
	entries map[string]OutputManifest // fingerprint hex -> manifest
}

// Load reads path if it exists, discarding (with discarded=true) any file
// whose schema version Forge doesn't recognize or that fails to parse —
// per §6, an unreadable or future-versioned index degrades to an empty one
// with a warning rather than failing the build. The caller logs the
// warning; this package only reports the fact.
func Load(path string) (idx *Index, discarded bool, err error) {
	idx = &Index{path: path, entries: make(map[string]OutputManifest)}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return idx, false, nil
		}
		return nil, false, forgeerr.New(forgeerr.KindIO, "", "reading cache index %q: %v", path, readErr)
	}

	var schema diskSchema
	if unmarshalErr := json.Unmarshal(data, &schema); unmarshalErr != nil {
		return idx, true, nil
	}
	if schema.Version != schemaVersion {
		return idx, true, nil
	}

	for fp, manifest := range schema.Entries {
		idx.entries[fp] = manifest
	}
	return idx, false, nil
}

// Lookup returns the manifest recorded for sum, if any.
func (idx *Index) Lookup(sum hash.Sum) (OutputManifest, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.entries[sum.String()]
	return m, ok
}

// Insert records (or overwrites) the manifest for sum.
func (idx *Index) Insert(sum hash.Sum, manifest OutputManifest) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[sum.String()] = manifest
}

// Invalidate removes any recorded manifest for sum, forcing the next
// lookup to miss. Used when a cache hit fails post-validation (a recorded
// output no longer materializes from the CAS).
func (idx *Index) Invalidate(sum hash.Sum) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, sum.String())
}

// Len reports the number of recorded entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Flush atomically rewrites the index file. encoding/json sorts map keys
// when marshaling, so the on-disk layout is deterministic without extra
// bookkeeping here; the commit itself uses the same temp-then-rename
// discipline as internal/cas.
func (idx *Index) Flush() error {
	idx.mu.RLock()
	schema := diskSchema{Version: schemaVersion, Entries: idx.entries}
	data, err := json.MarshalIndent(schema, "", "  ")
	idx.mu.RUnlock()
	if err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "marshaling cache index: %v", err)
	}

	dir := filepath.Dir(idx.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "creating cache index directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(idx.path)+".tmp-*")
	if err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "creating cache index temp file: %v", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "writing cache index: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "closing cache index temp file: %v", err)
	}
	if err := os.Rename(tmpName, idx.path); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "committing cache index: %v", err)
	}
	committed = true
	return nil
}
