// Package cas implements Forge's content-addressed store (§4.2): immutable
// blobs named by their BLAKE3 digest, sharded by a 2-character prefix
// directory exactly like the teacher's core.FileCache.entryPath, and
// committed with the same temp-file-then-rename discipline so a crash
// mid-write can never leave a corrupt blob at its canonical path.
package cas

import (
	"io"
	"os"
	"path/filepath"

	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/hash"
)

// Store is a content-addressed blob store rooted at Dir (conventionally
// "<project-root>/forge-out/cas").
type Store struct {
	Dir string
}

// Open returns a Store rooted at dir, creating dir if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, forgeerr.New(forgeerr.KindIO, "", "creating cas root %q: %v", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the canonical on-disk path for a digest: a directory named by
// its first two hex characters holding a file named by the remaining 62.
func (s *Store) Path(sum hash.Sum) string {
	h := sum.String()
	return filepath.Join(s.Dir, h[:2], h[2:])
}

// Contains reports whether sum is already stored.
func (s *Store) Contains(sum hash.Sum) (bool, error) {
	_, err := os.Stat(s.Path(sum))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, forgeerr.New(forgeerr.KindIO, "", "checking cas entry %s: %v", sum, err)
}

// InsertFile streams srcPath's content into the store under its own BLAKE3
// digest, writing through a sibling temp file and renaming into place so
// concurrent insertions of the same digest race harmlessly.
func (s *Store) InsertFile(srcPath string) (hash.Sum, error) {
	sum, err := hash.File(srcPath)
	if err != nil {
		return hash.Sum{}, err
	}

	dst := s.Path(sum)
	if _, statErr := os.Stat(dst); statErr == nil {
		return sum, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "creating cas shard dir: %v", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "opening %q for cas insert: %v", srcPath, err)
	}
	defer src.Close()

	if err := writeAtomic(dst, src); err != nil {
		return hash.Sum{}, err
	}
	return sum, nil
}

// InsertBytes stores an in-memory buffer under its BLAKE3 digest.
func (s *Store) InsertBytes(data []byte) (hash.Sum, error) {
	sum := hash.Bytes(data)
	dst := s.Path(sum)
	if _, statErr := os.Stat(dst); statErr == nil {
		return sum, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "creating cas shard dir: %v", err)
	}
	// os.CreateTemp + Write is simpler than the Reader path for a buffer
	// already in memory; still commits via rename like writeAtomic.
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "creating cas temp file: %v", err)
	}
	tmpName := f.Name()
	committed := false
	defer func() {
		f.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "writing cas temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "closing cas temp file: %v", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return hash.Sum{}, forgeerr.New(forgeerr.KindIO, "", "committing cas entry %s: %v", sum, err)
	}
	committed = true
	return sum, nil
}

// writeAtomic copies src into a temp file beside dst, then renames into
// place. Mirrors core.writeFileAtomic.
func writeAtomic(dst string, src io.Reader) error {
	dir := filepath.Dir(dst)
	base := filepath.Base(dst)
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "creating cas temp file: %v", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "writing cas temp file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "closing cas temp file: %v", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "committing cas entry: %v", err)
	}
	committed = true
	return nil
}

// Materialize places the blob for sum at destPath, preferring a hardlink
// (cheap, and keeps the CAS blob immutable-by-convention) and falling back
// to a copy when the link fails — e.g. destPath is on a different
// filesystem than the CAS root.
func (s *Store) Materialize(sum hash.Sum, destPath string) error {
	src := s.Path(sum)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "creating output dir for %q: %v", destPath, err)
	}

	os.Remove(destPath) // Link fails if destPath already exists.
	if err := os.Link(src, destPath); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return forgeerr.New(forgeerr.KindCasCorruption, "", "reading cas blob %s: %v", sum, err)
	}
	defer in.Close()

	return writeAtomic(destPath, in)
}

// Verify re-hashes the stored blob for sum and reports whether its content
// still matches its name, detecting on-disk corruption or tampering.
func (s *Store) Verify(sum hash.Sum) error {
	actual, err := hash.File(s.Path(sum))
	if err != nil {
		return forgeerr.New(forgeerr.KindCasCorruption, "", "cas entry %s unreadable: %v", sum, err)
	}
	if actual != sum {
		return forgeerr.New(forgeerr.KindCasCorruption, "", "cas entry %s has drifted to %s", sum, actual)
	}
	return nil
}

// GarbageCollect removes every stored blob whose digest is not in keep. It
// is never called by ordinary build/run/test operations (§4.2's Open
// Question: Forge does not GC automatically); it exists for an explicit,
// separate maintenance entry point.
func (s *Store) GarbageCollect(keep map[hash.Sum]bool) (removed int, err error) {
	entries, readErr := os.ReadDir(s.Dir)
	if readErr != nil {
		return 0, forgeerr.New(forgeerr.KindIO, "", "listing cas root: %v", readErr)
	}

	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.Dir, shard.Name())
		blobs, readErr := os.ReadDir(shardPath)
		if readErr != nil {
			return removed, forgeerr.New(forgeerr.KindIO, "", "listing cas shard %q: %v", shardPath, readErr)
		}
		for _, blob := range blobs {
			sum, parseErr := hash.ParseSum(shard.Name() + blob.Name())
			if parseErr != nil {
				continue // not a digest-named entry; leave it alone
			}
			if keep[sum] {
				continue
			}
			if err := os.Remove(filepath.Join(shardPath, blob.Name())); err != nil {
				return removed, forgeerr.New(forgeerr.KindIO, "", "removing cas entry %s: %v", sum, err)
			}
			removed++
		}
	}
	return removed, nil
}
