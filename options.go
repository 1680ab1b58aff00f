package texcache

import (
	"github.com/gogpu/texcache/glyph"
	"github.com/gogpu/texcache/mipmap"
)

// Option configures a Cache during creation.
//
// Example:
//
//	c, err := texcache.New(
//		texcache.WithCacheDir("/var/cache/viewer"),
//		texcache.WithMipmapOptions(mipmap.WithTimeouts(30*time.Second, 10*time.Second)),
//	)
type Option func(*options)

type options struct {
	dir          string
	workers      int
	uploadBudget int
	mipmap       []mipmap.Option
	glyph        []glyph.Option
	atlas        glyph.AtlasConfig
}

func defaultOptions() options {
	return options{
		uploadBudget: mipmap.DefaultUploadBudget,
		atlas:        glyph.DefaultAtlasConfig(),
	}
}

// WithCacheDir sets the artifact root. Empty keeps the platform default
// (see artifact.Root).
func WithCacheDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithWorkers sets the number of background workers. Values below one
// keep the default.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithUploadBudget sets the per-Bind upload budget of selectors made by
// Mipmaps.Selector.
func WithUploadBudget(bytes int) Option {
	return func(o *options) {
		if bytes > 0 {
			o.uploadBudget = bytes
		}
	}
}

// WithMipmapOptions appends options for every level stack. Store and
// scheduler options are overridden by the cache's own.
func WithMipmapOptions(opts ...mipmap.Option) Option {
	return func(o *options) { o.mipmap = append(o.mipmap, opts...) }
}

// WithGlyphOptions appends options for the glyph cache.
func WithGlyphOptions(opts ...glyph.Option) Option {
	return func(o *options) { o.glyph = append(o.glyph, opts...) }
}

// WithAtlasConfig sets the glyph atlas configuration.
func WithAtlasConfig(cfg glyph.AtlasConfig) Option {
	return func(o *options) { o.atlas = cfg }
}

// WithConfig applies a loaded Config. Options given after it override
// its values.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		for _, opt := range cfg.options() {
			opt(o)
		}
	}
}
