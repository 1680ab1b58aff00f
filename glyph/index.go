package glyph

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/texcache/artifact"
)

// CacheVersion invalidates every glyph artifact on disk when the distance
// field generator changes.
const CacheVersion = 1

// IndexFile is the name of the glyph index inside the glyph root.
const IndexFile = "index.yaml"

// indexEntry records one generated distance field.
type indexEntry struct {
	// Rect is the glyph box in font units: x, y, width, height.
	Rect []float32 `yaml:"rect,flow"`
	Src  string    `yaml:"src"`
}

func (e indexEntry) valid() bool {
	return len(e.Rect) == 4 && e.Rect[2] > 0 && e.Rect[3] > 0 && e.Src != ""
}

type indexFile struct {
	Version int                                    `yaml:"cache-version"`
	Fonts   map[Identity]map[GlyphIndex]indexEntry `yaml:"fonts"`
}

// index is the glyph settings file shared by every font. It is read once.
// put only changes the copy in memory; flush rewrites the file atomically
// when there is something new. Lookups never wait for a write in progress.
type index struct {
	root string
	path string

	loaded  atomic.Bool
	writeMu sync.Mutex // serializes flush
	writes  atomic.Uint64

	mu    sync.Mutex
	file  indexFile
	dirty bool
}

func newIndex(root string) *index {
	return &index{root: root, path: filepath.Join(root, IndexFile)}
}

// load reads the index on first use. A missing file starts empty. An
// unreadable file or one from another CacheVersion removes the whole glyph
// root so that no stale distance field survives.
func (x *index) load() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.loaded.Load() {
		return
	}
	defer x.loaded.Store(true)
	x.file = indexFile{Version: CacheVersion}

	data, err := os.ReadFile(x.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	var f indexFile
	if err == nil {
		err = yaml.Unmarshal(data, &f)
	}
	if err == nil && f.Version == CacheVersion {
		x.file = f
		slogger().Debug("glyph: index loaded", "path", x.path, "fonts", len(f.Fonts))
		return
	}

	reason := "version"
	if err != nil {
		reason = err.Error()
	}
	slogger().Info("glyph: cache invalidated", "path", x.root, "reason", reason, "version", f.Version)
	if err := os.RemoveAll(x.root); err != nil {
		slogger().Warn("glyph: cache wipe failed", "path", x.root, "err", err)
	}
}

func (x *index) isLoaded() bool { return x.loaded.Load() }

func (x *index) lookup(id Identity, gid GlyphIndex) (indexEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.file.Fonts[id][gid]
	return e, ok
}

// put records e. It is written by the next flush.
func (x *index) put(id Identity, gid GlyphIndex, e indexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file.Fonts == nil {
		x.file.Fonts = make(map[Identity]map[GlyphIndex]indexEntry)
	}
	glyphs := x.file.Fonts[id]
	if glyphs == nil {
		glyphs = make(map[GlyphIndex]indexEntry)
		x.file.Fonts[id] = glyphs
	}
	glyphs[gid] = e
	x.dirty = true
}

// flush rewrites the file if anything was put since the last flush. A
// failed write leaves the index dirty.
func (x *index) flush() error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	x.mu.Lock()
	if !x.dirty {
		x.mu.Unlock()
		return nil
	}
	data, err := yaml.Marshal(&x.file)
	x.dirty = false
	x.mu.Unlock()
	if err == nil {
		err = artifact.WriteFile(x.path, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
	}
	if err != nil {
		x.mu.Lock()
		x.dirty = true
		x.mu.Unlock()
		return fmt.Errorf("glyph: write index: %w", err)
	}
	n := x.writes.Add(1)
	slogger().Debug("glyph: index written", "path", x.path, "writes", n)
	return nil
}
