// Package mipmap keeps decoded mipmap levels of an image resident on the
// CPU and decides which level to hand to the GPU.
//
// A LevelStack owns one source image. Level 0 is the native resolution and
// each further level halves it, down to a pinned level whose larger side
// is at least SmallestImage pixels. Levels load lazily in the background
// when they are asked for and are evicted again once unused for a while:
//
//	Waiting --(load succeeds)--> Ready
//	Waiting --(load fails)-----> Failed (terminal)
//	Ready   --(CPU expiry)-----> Waiting   (never the pinned level)
//	Ready   --(GPU expiry)-----> Ready     (GPU copy dropped)
//
// A small set of levels is persisted under the artifact store so that the
// next run can skip the decode of the full-size image.
package mipmap

import (
	"context"
	"fmt"
	"image"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/internal/sched"
)

// rescheduleSlack is added to the next expiry so that the run after it
// observes the level as expired.
const rescheduleSlack = 10 * time.Millisecond

// LevelStack is the mipmap cache of a single source image. It is a
// sched.Task: the scheduler calls Run whenever levels are due for loading
// or eviction. All methods are safe for concurrent use.
type LevelStack struct {
	path  string
	opts  options
	store *artifact.Store
	sched Scheduler

	// runMu serializes Run, Load and the payload teardown in Finish.
	runMu sync.Mutex

	mu         sync.Mutex
	started    bool
	finished   bool
	key        artifact.Key
	lay        *layout
	levels     []MipLevel
	chain      *Chain
	job        *chainJob
	hasAlpha   bool
	alphaKnown bool
}

// NewStack returns an idle stack for the image at path. Call StartLoading
// before anything else.
func NewStack(path string, opts ...Option) *LevelStack {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &LevelStack{path: path, opts: o, store: o.store, sched: o.scheduler}
	if s.store == nil {
		s.store = defaultStore()
	}
	if s.sched == nil {
		s.sched = defaultScheduler()
	}
	return s
}

// Path returns the source path as given to NewStack.
func (s *LevelStack) Path() string { return s.path }

// StartLoading probes the source, sizes the level array and registers the
// stack with the scheduler. The pinned level is marked used so that it
// loads first; if a fresh artifact for it exists it is decoded before
// StartLoading returns.
//
// With wantCompressed, a raster source is first converted into a derived
// mip-chain container by a one-shot background job unless an up-to-date
// one exists. The stack joins the scheduler when the job completes.
func (s *LevelStack) StartLoading(wantCompressed bool) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var native image.Point
	var source *Chain
	if IsChain(s.path) {
		c, err := OpenChain(s.path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProbe, err)
		}
		source, native = c, c.Size()
	} else {
		info, err := probe(s.path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProbe, err)
		}
		native = image.Pt(info.Width, info.Height)
	}
	if native.X <= 0 || native.Y <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrZeroSize, native.X, native.Y)
	}

	key, err := s.store.Key(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	lay := computeLayout(native, s.opts.smallest, s.opts.thumbnails, source)

	chain := source
	var job *chainJob
	if wantCompressed && source == nil {
		derived := key.Path(0, ChainExt)
		if c := openDerived(derived, key.Source, lay); c != nil {
			chain = c
		} else {
			job = &chainJob{stack: s, source: s.path, out: derived, lay: lay}
		}
	}

	now := s.sched.Now()
	s.mu.Lock()
	switch {
	case s.finished:
		s.mu.Unlock()
		return ErrFinished
	case s.started:
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.key = key
	s.lay = lay
	s.chain = chain
	s.job = job
	s.levels = make([]MipLevel, lay.maxLevel+1)
	s.levels[lay.maxLevel].LastUsed = now
	s.mu.Unlock()

	slogger().Debug("mipmap: start",
		"path", s.path, "native", native, "maxLevel", lay.maxLevel,
		"first", lay.first, "chain", chain != nil, "chainJob", job != nil)

	s.warmStart()

	if job != nil {
		if err := s.sched.Add(job, sched.High, now); err != nil {
			return fmt.Errorf("mipmap: schedule chain job: %w", err)
		}
		return nil
	}
	if err := s.sched.Add(s, sched.High, now); err != nil {
		return fmt.Errorf("mipmap: schedule: %w", err)
	}
	return nil
}

// openDerived returns the derived chain at path if it is fresh and
// matches the layout, nil otherwise.
func openDerived(path, source string, lay *layout) *Chain {
	if !artifact.Fresh(path, source) {
		return nil
	}
	c, err := OpenChain(path)
	if err != nil {
		slogger().Warn("mipmap: derived chain unreadable", "path", path, "err", err)
		return nil
	}
	if c.Len() < lay.maxLevel+1 || c.Size() != lay.native {
		return nil
	}
	for l := range lay.maxLevel + 1 {
		if c.LevelSize(l) != lay.size(l) {
			return nil
		}
	}
	return c
}

// MaxLevel returns the index of the smallest, pinned level.
func (s *LevelStack) MaxLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lay == nil {
		return 0
	}
	return s.lay.maxLevel
}

// NativeSize returns the source dimensions.
func (s *LevelStack) NativeSize() image.Point {
	return s.MipmapSize(0)
}

// FirstLevelSize returns the dimensions of level 1 before clamping.
func (s *LevelStack) FirstLevelSize() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lay == nil {
		return image.Point{}
	}
	return s.lay.first
}

// MipmapSize returns the pixel dimensions of level, or the zero point
// for levels that would have a zero dimension.
func (s *LevelStack) MipmapSize(level int) image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lay == nil {
		return image.Point{}
	}
	return s.lay.size(level)
}

// ShouldSave reports whether level is persisted as an artifact.
func (s *LevelStack) ShouldSave(level int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lay != nil && level >= 0 && level < len(s.lay.shouldSave) && s.lay.shouldSave[level]
}

// Compressed reports whether levels load from a mip-chain container.
func (s *LevelStack) Compressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain != nil
}

// HasAlpha reports whether any loaded level had a non-opaque pixel.
func (s *LevelStack) HasAlpha() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAlpha
}

// Level returns a copy of the state of level. The payload pointer in the
// copy is not retained; use it only for identity comparisons.
func (s *LevelStack) Level(level int) MipLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 || level >= len(s.levels) {
		return MipLevel{}
	}
	return s.levels[level]
}

// Optimal returns the level that best matches an on-screen footprint of
// target pixels, in [0, MaxLevel].
func (s *LevelStack) Optimal(target Vec2) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lay == nil {
		return 0
	}
	return s.lay.optimal(target)
}

// Closest marks the optimal level for target as used and returns it if it
// is Ready. Otherwise it asks the scheduler to load it soon and returns
// the nearest Ready level, preferring sharper levels over coarser ones.
// ok is false only when no level is Ready.
func (s *LevelStack) Closest(target Vec2) (level int, ok bool) {
	now := s.sched.Now()

	s.mu.Lock()
	if !s.started || s.finished {
		s.mu.Unlock()
		return -1, false
	}
	opt := s.lay.optimal(target)
	s.touchLocked(opt, now)
	if s.levels[opt].State == Ready {
		s.mu.Unlock()
		return opt, true
	}
	level, ok = -1, false
	for l := opt - 1; l >= 0 && !ok; l-- {
		if s.levels[l].State == Ready {
			level, ok = l, true
		}
	}
	for l := opt + 1; l <= s.lay.maxLevel && !ok; l++ {
		if s.levels[l].State == Ready {
			level, ok = l, true
		}
	}
	s.mu.Unlock()

	s.kick()
	return level, ok
}

// MarkImage refreshes the last-used time of level. If the level is not
// Ready the stack is moved ahead in the scheduler.
func (s *LevelStack) MarkImage(level int) {
	now := s.sched.Now()
	s.mu.Lock()
	if !s.started || s.finished || level < 0 || level >= len(s.levels) {
		s.mu.Unlock()
		return
	}
	s.touchLocked(level, now)
	ready := s.levels[level].State == Ready
	s.mu.Unlock()

	if !ready {
		s.kick()
	}
}

func (s *LevelStack) touchLocked(level int, now time.Time) {
	lv := &s.levels[level]
	if now.After(lv.LastUsed) {
		lv.LastUsed = now
	}
	lv.gpuDropped = false
}

// kick raises the stack to high priority and asks for a run now.
func (s *LevelStack) kick() {
	s.mu.Lock()
	idle := s.finished || s.job != nil
	s.mu.Unlock()
	if idle {
		return
	}
	s.sched.SetPriority(s, sched.High)
	s.reschedule(0, false)
}

// reschedule moves the next run to now+delay. Without allowLater the run
// only ever moves earlier.
func (s *LevelStack) reschedule(delay time.Duration, allowLater bool) {
	at := s.sched.Now().Add(delay)
	if !s.sched.Reschedule(s, at, allowLater) {
		prio := sched.High
		if allowLater {
			prio = sched.Low
		}
		_ = s.sched.Add(s, prio, at)
	}
}

// Run loads the used levels that are Waiting, evicts expired ones and
// reschedules the stack for the next expiry. It is called by the
// scheduler and never concurrently with itself.
func (s *LevelStack) Run(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	idle := !s.started || s.finished || s.job != nil
	s.mu.Unlock()
	if idle {
		return
	}

	s.sched.SetPriority(s, sched.Low)
	next := s.doTask(ctx)
	if next <= 0 {
		next = s.opts.timeoutCPU
	}
	s.reschedule(next+rescheduleSlack, true)
}

// doTask is one housekeeping pass. It returns the smallest positive
// delay until some level expires, or zero if nothing is pending.
func (s *LevelStack) doTask(ctx context.Context) time.Duration {
	now := s.sched.Now()
	p := s.newPass()
	if p == nil {
		return 0
	}

	var next time.Duration
	fold := func(d time.Duration) {
		if d > 0 && (next == 0 || d < next) {
			next = d
		}
	}
	var evict, gpuDrop []int
	for l, lv := range p.snap {
		since := now.Sub(lv.LastUsed)
		cpuExp := s.opts.timeoutCPU - since
		gpuExp := s.opts.timeoutGPU - since
		switch {
		case cpuExp > 0:
			if lv.State == Waiting && ctx.Err() == nil {
				_, _ = p.recursiveLoad(l)
			}
			fold(cpuExp)
			if gpuExp > 0 {
				fold(gpuExp)
			} else if lv.State == Ready && !lv.gpuDropped {
				gpuDrop = append(gpuDrop, l)
			}
		case lv.State == Ready && l != p.lay.maxLevel:
			evict = append(evict, l)
		}
	}

	s.apply(now, p, evict, gpuDrop)
	return next
}

// apply publishes a pass in one critical section. Evictions and GPU
// drops are re-checked against the current last-used time so that a
// concurrent MarkImage wins.
func (s *LevelStack) apply(now time.Time, p *pass, evict, gpuDrop []int) {
	defer p.done()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		p.discard()
		return
	}

	for l, r := range p.results {
		lv := &s.levels[l]
		if lv.State != Waiting {
			r.discard()
			continue
		}
		if r.err != nil {
			lv.State = Failed
			slogger().Warn("mipmap: level failed", "path", s.path, "level", l, "err", r.err)
			continue
		}
		lv.State = Ready
		lv.Payload = newPayload(r.img, r.compressed)
		lv.gpuDropped = false
		if now.After(lv.LastUsed) {
			lv.LastUsed = now
		}
		if r.alphaKnown && !s.alphaKnown {
			s.hasAlpha, s.alphaKnown = r.alpha, true
		}
		slogger().Debug("mipmap: level ready", "path", s.path, "level", l, "size", r.img.Size(), "compressed", r.compressed)
	}

	for _, l := range evict {
		lv := &s.levels[l]
		if lv.State != Ready || l == s.lay.maxLevel || now.Sub(lv.LastUsed) < s.opts.timeoutCPU {
			continue
		}
		lv.Payload.Release()
		lv.Payload = nil
		lv.State = Waiting
		slogger().Debug("mipmap: level evicted", "path", s.path, "level", l)
	}

	for _, l := range gpuDrop {
		lv := &s.levels[l]
		if lv.State != Ready || lv.gpuDropped || now.Sub(lv.LastUsed) < s.opts.timeoutGPU {
			continue
		}
		lv.GPUGeneration++
		lv.gpuDropped = true
	}
}

// Load synchronously loads level through the same path as Run and
// applies the result. It marks the level used.
func (s *LevelStack) Load(level int) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.sched.Now()
	s.mu.Lock()
	switch {
	case s.finished:
		s.mu.Unlock()
		return ErrFinished
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	case level < 0 || level >= len(s.levels):
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrLevelRange, level)
	}
	s.touchLocked(level, now)
	s.mu.Unlock()

	p := s.newPass()
	if p == nil {
		return ErrFinished
	}
	_, err := p.recursiveLoad(level)
	s.apply(now, p, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: level %d: %v", ErrLevelFailed, level, err)
	}
	return nil
}

// warmStart decodes the pinned level right away when that needs no
// scaling: from a mip chain or from a fresh level artifact.
func (s *LevelStack) warmStart() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	p := s.newPass()
	if p == nil {
		return
	}
	pinned := p.lay.maxLevel
	warm := p.chain != nil || (p.lay.shouldSave[pinned] && p.key.Fresh(pinned, rawExt))
	if !warm || !p.direct(pinned) {
		p.done()
		return
	}
	s.apply(s.sched.Now(), p, nil, nil)
}

// chainDone is called by the chain job with the derived container, or
// with the error that prevented building it.
func (s *LevelStack) chainDone(c *Chain, err error) {
	s.mu.Lock()
	s.job = nil
	if s.finished {
		s.mu.Unlock()
		return
	}
	if err != nil {
		slogger().Warn("mipmap: chain build failed, using raster levels", "path", s.path, "err", err)
	} else {
		s.chain = c
	}
	s.mu.Unlock()

	if err := s.sched.Add(s, sched.High, s.sched.Now()); err != nil {
		slogger().Warn("mipmap: schedule after chain build", "path", s.path, "err", err)
	}
}

// Finish removes the stack from the scheduler, waiting for a run in
// progress, and releases every payload. It must not be called from a
// scheduler task.
func (s *LevelStack) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	job := s.job
	s.mu.Unlock()

	if job != nil {
		s.sched.Remove(job)
	}
	s.sched.Remove(s)

	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.levels {
		lv := &s.levels[i]
		if lv.Payload != nil {
			lv.Payload.Release()
			lv.Payload = nil
		}
		lv.State = Waiting
	}
	slogger().Debug("mipmap: finished", "path", s.path)
}

// acquire retains the payload of a Ready level for a GPU upload.
func (s *LevelStack) acquire(level int) (*Payload, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 || level >= len(s.levels) || s.levels[level].State != Ready {
		return nil, 0, false
	}
	lv := &s.levels[level]
	return lv.Payload.Retain(), lv.GPUGeneration, true
}

// levelBytes returns the pixel size of a Ready level, zero otherwise. With
// rgba set every pixel counts four bytes whatever the stored format.
func (s *LevelStack) levelBytes(level int, rgba bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 || level >= len(s.levels) || s.levels[level].State != Ready {
		return 0
	}
	img := s.levels[level].Payload.Image()
	if rgba {
		return img.Width() * img.Height() * 4
	}
	return img.ByteSize()
}

// readyLevels returns the indices of all Ready levels.
func (s *LevelStack) readyLevels() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for l, lv := range s.levels {
		if lv.State == Ready {
			out = append(out, l)
		}
	}
	return out
}

func (s *LevelStack) snapshot() []MipLevel {
	return slices.Clone(s.levels)
}
