// Package artifact maps source files to derived files on disk.
//
// A derived artifact (a persisted mipmap level, a mip-chain container or a
// glyph distance field) lives under a process-wide cache root. Mipmap
// artifacts are keyed by the BLAKE3 hash of the absolute source path and
// sharded by the first two hex digits:
//
//	<root>/3f/3fa9...c1_level02.gimg
//
// The key depends only on the path. Whether an artifact is still usable
// is decided separately by Fresh, which compares modification times.
package artifact

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// DirName is the directory created under the user cache directory.
const DirName = "texcache"

var defaultRoot = sync.OnceValue(func() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, DirName)
	}
	return filepath.Join(os.TempDir(), DirName)
})

// Root returns override if it is non-empty. Otherwise it returns the
// process-wide default root, resolved once: the user cache directory,
// falling back to the temp directory.
func Root(override string) string {
	if override != "" {
		return filepath.Clean(override)
	}
	return defaultRoot()
}

// Store resolves artifact paths under one root directory.
type Store struct {
	root string
}

// NewStore returns a Store rooted at root. The directory is created
// lazily by WriteFile.
func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Key is the on-disk identity of one source file.
type Key struct {
	// Hash is the lowercase hex BLAKE3-256 of Source.
	Hash string
	// Source is the absolute, cleaned source path.
	Source string

	root string
}

// Key derives the artifact key for sourcePath. Relative paths are made
// absolute first, so the same file always maps to the same key.
func (s *Store) Key(sourcePath string) (Key, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return Key{}, fmt.Errorf("artifact: resolve %q: %w", sourcePath, err)
	}
	sum := blake3.Sum256([]byte(abs))
	return Key{Hash: hex.EncodeToString(sum[:]), Source: abs, root: s.root}, nil
}

// Path returns the artifact path for a mipmap level with the given file
// suffix (without dot).
func (k Key) Path(level int, suffix string) string {
	name := fmt.Sprintf("%s_level%02d.%s", k.Hash, level, suffix)
	return filepath.Join(k.root, k.Hash[:2], name)
}

// Fresh reports whether the artifact exists and is not older than the
// source. A missing source makes every artifact stale.
func Fresh(artifactPath, sourcePath string) bool {
	a, err := os.Stat(artifactPath)
	if err != nil || !a.Mode().IsRegular() {
		return false
	}
	src, err := os.Stat(sourcePath)
	if err != nil {
		return false
	}
	return !a.ModTime().Before(src.ModTime())
}

// Fresh reports whether the artifact for level is usable.
func (k Key) Fresh(level int, suffix string) bool {
	return Fresh(k.Path(level, suffix), k.Source)
}

// WriteFile creates path atomically: write streams into a temporary file
// in the same directory, which is renamed into place only if write and
// close succeed. Parent directories are created as needed.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("artifact: create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("artifact: write %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: rename: %w", err)
	}
	return nil
}
