package mipmap

import (
	"sync"
	"time"

	"github.com/gogpu/texcache/artifact"
	"github.com/gogpu/texcache/internal/sched"
)

const (
	// SmallestImage is the default lower bound on the larger dimension of
	// the smallest (pinned) level.
	SmallestImage = 32

	// DefaultTimeoutCPU is how long an unused level stays decoded.
	DefaultTimeoutCPU = 10 * time.Second

	// DefaultTimeoutGPU is how long an unused level stays on the GPU.
	DefaultTimeoutGPU = 5 * time.Second

	// DefaultUploadBudget is the number of bytes a Selector uploads per
	// Bind call.
	DefaultUploadBudget = 1 << 20
)

// DefaultThumbnailSizes are the largest-dimension targets whose closest
// levels are persisted as artifacts.
var DefaultThumbnailSizes = []int{64, 256, 1024}

// Scheduler runs stacks and chain jobs in the background.
// *sched.Scheduler implements it.
type Scheduler interface {
	Add(t sched.Task, prio sched.Priority, at time.Time) error
	Reschedule(t sched.Task, at time.Time, allowLater bool) bool
	SetPriority(t sched.Task, prio sched.Priority)
	Remove(t sched.Task)
	Now() time.Time
}

var _ Scheduler = (*sched.Scheduler)(nil)

var defaultScheduler = sync.OnceValue(func() *sched.Scheduler {
	return sched.New()
})

var defaultStore = sync.OnceValue(func() *artifact.Store {
	return artifact.NewStore(artifact.Root(""))
})

// Option configures a LevelStack.
type Option func(*options)

type options struct {
	store      *artifact.Store
	scheduler  Scheduler
	timeoutCPU time.Duration
	timeoutGPU time.Duration
	smallest   int
	thumbnails []int
}

func defaultOptions() options {
	return options{
		timeoutCPU: DefaultTimeoutCPU,
		timeoutGPU: DefaultTimeoutGPU,
		smallest:   SmallestImage,
		thumbnails: DefaultThumbnailSizes,
	}
}

// WithStore sets where derived artifacts are read and written.
func WithStore(s *artifact.Store) Option {
	return func(o *options) { o.store = s }
}

// WithScheduler sets the background scheduler. Without it stacks share a
// package-level scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithTimeouts sets the CPU and GPU keep-alive windows. Non-positive
// values keep the defaults.
func WithTimeouts(cpu, gpu time.Duration) Option {
	return func(o *options) {
		if cpu > 0 {
			o.timeoutCPU = cpu
		}
		if gpu > 0 {
			o.timeoutGPU = gpu
		}
	}
}

// WithSmallestImage overrides SmallestImage.
func WithSmallestImage(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.smallest = n
		}
	}
}

// WithThumbnailSizes overrides DefaultThumbnailSizes. An empty list
// disables level artifacts.
func WithThumbnailSizes(sizes ...int) Option {
	return func(o *options) { o.thumbnails = sizes }
}
