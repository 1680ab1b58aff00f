package mipmap

import (
	"fmt"
	"image"
	"io"

	"github.com/gogpu/texcache/artifact"
	teximage "github.com/gogpu/texcache/internal/image"
)

const rawExt = teximage.RawExt

var probe = teximage.Probe

// pass is one load pass over a snapshot of the level array. It runs
// without the stack lock; results are published by LevelStack.apply.
type pass struct {
	path      string
	lay       *layout
	chain     *Chain
	key       artifact.Key
	snap      []MipLevel
	needAlpha bool

	// held are payloads of Ready levels, retained so they can feed
	// smaller levels while the lock is not held.
	held    map[int]*Payload
	results map[int]*loadResult
}

type loadResult struct {
	img        *teximage.ImageBuf
	compressed bool
	err        error
	alpha      bool
	alphaKnown bool
}

func (r *loadResult) discard() {
	if r.img != nil {
		teximage.Put(r.img)
		r.img = nil
	}
}

// newPass snapshots the stack. It returns nil when the stack is not
// running.
func (s *LevelStack) newPass() *pass {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.finished {
		return nil
	}
	p := &pass{
		path:      s.path,
		lay:       s.lay,
		chain:     s.chain,
		key:       s.key,
		snap:      s.snapshot(),
		needAlpha: !s.alphaKnown,
		held:      make(map[int]*Payload),
		results:   make(map[int]*loadResult),
	}
	for l, lv := range s.levels {
		if lv.State == Ready {
			p.held[l] = lv.Payload.Retain()
		}
	}
	return p
}

// done releases the held payloads.
func (p *pass) done() {
	for l, pl := range p.held {
		pl.Release()
		delete(p.held, l)
	}
}

// discard drops everything the pass produced.
func (p *pass) discard() {
	for _, r := range p.results {
		r.discard()
	}
	p.done()
}

// recursiveLoad returns the pixels of level, loading the next larger
// level first when it has to be derived from it. Every level loaded on
// the way is recorded in results.
func (p *pass) recursiveLoad(level int) (*teximage.ImageBuf, error) {
	if r, ok := p.results[level]; ok {
		return r.img, r.err
	}
	if pl, ok := p.held[level]; ok {
		return pl.Image(), nil
	}
	if p.snap[level].State == Failed {
		return nil, ErrLevelFailed
	}

	img, compressed, err := p.loadLevel(level)
	r := &loadResult{img: img, compressed: compressed, err: err}
	if err == nil && p.needAlpha {
		r.alpha = img.Format().HasAlpha() && !img.IsOpaque()
		r.alphaKnown = true
		p.needAlpha = false
	}
	p.results[level] = r
	return img, err
}

func (p *pass) loadLevel(level int) (*teximage.ImageBuf, bool, error) {
	want := p.lay.size(level)

	if p.chain != nil {
		img, err := p.chain.Level(level)
		if err != nil {
			return nil, false, err
		}
		if img.Size() != want {
			teximage.Put(img)
			return nil, false, fmt.Errorf("%w: level %d is %v, want %v", ErrCorruptChain, level, img.Size(), want)
		}
		return img, true, nil
	}

	if level == 0 {
		img, err := teximage.Load(p.path)
		if err != nil {
			return nil, false, err
		}
		if img.Size() != want {
			teximage.Put(img)
			return nil, false, fmt.Errorf("mipmap: %s decoded as %v, probed as %v", p.path, img.Size(), want)
		}
		return img, false, nil
	}

	save := p.lay.shouldSave[level]
	if save {
		if img := p.loadArtifact(level, want); img != nil {
			return img, false, nil
		}
	}

	parent, err := p.recursiveLoad(level - 1)
	if err != nil {
		return nil, false, fmt.Errorf("level %d: %w", level-1, err)
	}
	var img *teximage.ImageBuf
	if parent.Size().Div(2) == want && want.Mul(2) == parent.Size() {
		img, err = teximage.Quarter(parent)
	} else {
		img, err = teximage.Resize(parent, want.X, want.Y)
	}
	if err != nil {
		return nil, false, err
	}
	if save {
		p.persist(level, img)
	}
	return img, false, nil
}

// loadArtifact returns the persisted level if it is fresh and has the
// expected size. Anything else is a soft miss.
func (p *pass) loadArtifact(level int, want image.Point) *teximage.ImageBuf {
	if !p.key.Fresh(level, rawExt) {
		return nil
	}
	path := p.key.Path(level, rawExt)
	img, err := teximage.LoadRaw(path)
	if err != nil {
		slogger().Debug("mipmap: artifact unreadable", "path", path, "err", err)
		return nil
	}
	if img.Size() != want {
		slogger().Debug("mipmap: artifact size mismatch", "path", path, "size", img.Size(), "want", want)
		teximage.Put(img)
		return nil
	}
	return img
}

// direct loads level without deriving it from a larger one. It reports
// whether it produced a result.
func (p *pass) direct(level int) bool {
	want := p.lay.size(level)
	var img *teximage.ImageBuf
	compressed := p.chain != nil
	if compressed {
		c, err := p.chain.Level(level)
		if err != nil {
			slogger().Debug("mipmap: chain level unreadable", "path", p.path, "level", level, "err", err)
			return false
		}
		if c.Size() != want {
			teximage.Put(c)
			return false
		}
		img = c
	} else {
		img = p.loadArtifact(level, want)
	}
	if img == nil {
		return false
	}
	r := &loadResult{img: img, compressed: compressed}
	if p.needAlpha {
		r.alpha = img.Format().HasAlpha() && !img.IsOpaque()
		r.alphaKnown = true
		p.needAlpha = false
	}
	p.results[level] = r
	return true
}

func (p *pass) persist(level int, img *teximage.ImageBuf) {
	path := p.key.Path(level, rawExt)
	err := artifact.WriteFile(path, func(w io.Writer) error {
		return teximage.EncodeRaw(w, img)
	})
	if err != nil {
		slogger().Warn("mipmap: persist level", "path", path, "level", level, "err", err)
		return
	}
	slogger().Debug("mipmap: persisted level", "path", path, "level", level)
}
