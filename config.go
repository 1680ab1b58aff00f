package texcache

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/texcache/glyph"
	"github.com/gogpu/texcache/mipmap"
)

// Config is the file form of the cache options.
//
//	cache-dir: ${HOME}/.cache/texcache
//	workers: 4
//	mipmaps:
//	  timeout-cpu: 10s
//	  timeout-gpu: 5s
//	  smallest-image: 32
//	  thumbnail-sizes: [64, 256, 1024]
//	  upload-budget: 1048576
//	glyphs:
//	  reference-size: 32
//	  oversample: 4
//	  spread: 4
//	  atlas-size: 1024
//	  atlas-pages: 8
type Config struct {
	// CacheDir is the artifact root. Empty means the platform default.
	// ${VAR} references are expanded.
	CacheDir string `yaml:"cache-dir"`

	// Workers is the number of background workers. Zero picks a default.
	Workers int `yaml:"workers"`

	Mipmaps MipmapConfig `yaml:"mipmaps"`
	Glyphs  GlyphConfig  `yaml:"glyphs"`
}

// MipmapConfig configures level stacks and selectors.
type MipmapConfig struct {
	TimeoutCPU     time.Duration `yaml:"timeout-cpu"`
	TimeoutGPU     time.Duration `yaml:"timeout-gpu"`
	SmallestImage  int           `yaml:"smallest-image"`
	ThumbnailSizes []int         `yaml:"thumbnail-sizes,flow"`
	UploadBudget   int           `yaml:"upload-budget"`
}

// GlyphConfig configures the glyph cache and its atlas.
type GlyphConfig struct {
	ReferenceSize int `yaml:"reference-size"`
	Oversample    int `yaml:"oversample"`
	Spread        int `yaml:"spread"`
	AtlasSize     int `yaml:"atlas-size"`
	AtlasPages    int `yaml:"atlas-pages"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	atlas := glyph.DefaultAtlasConfig()
	return &Config{
		Mipmaps: MipmapConfig{
			TimeoutCPU:     mipmap.DefaultTimeoutCPU,
			TimeoutGPU:     mipmap.DefaultTimeoutGPU,
			SmallestImage:  mipmap.SmallestImage,
			ThumbnailSizes: append([]int(nil), mipmap.DefaultThumbnailSizes...),
			UploadBudget:   mipmap.DefaultUploadBudget,
		},
		Glyphs: GlyphConfig{
			ReferenceSize: glyph.DefaultReferenceSize,
			Oversample:    glyph.DefaultOversample,
			Spread:        glyph.DefaultSpread,
			AtlasSize:     atlas.PageSize,
			AtlasPages:    atlas.MaxPages,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("texcache: read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("texcache: parse config %s: %w", path, err)
	}
	cfg.CacheDir = os.ExpandEnv(cfg.CacheDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if c.Workers < 0 {
		bad("workers", "must not be negative")
	}
	m := c.Mipmaps
	if m.TimeoutCPU <= 0 {
		bad("mipmaps.timeout-cpu", "must be positive")
	}
	if m.TimeoutGPU <= 0 {
		bad("mipmaps.timeout-gpu", "must be positive")
	}
	if m.TimeoutGPU > m.TimeoutCPU {
		bad("mipmaps.timeout-gpu", "must not exceed timeout-cpu")
	}
	if m.SmallestImage < 1 {
		bad("mipmaps.smallest-image", "must be at least 1")
	}
	for _, s := range m.ThumbnailSizes {
		if s < 1 {
			bad("mipmaps.thumbnail-sizes", "sizes must be positive")
			break
		}
	}
	if m.UploadBudget < 1 {
		bad("mipmaps.upload-budget", "must be positive")
	}

	g := c.Glyphs
	sdf := glyph.SDFParams{Size: g.ReferenceSize, Oversample: g.Oversample, Spread: g.Spread}
	var cfgErr *glyph.ConfigError
	if err := sdf.Validate(); errors.As(err, &cfgErr) {
		bad("glyphs."+glyphKey[cfgErr.Field], cfgErr.Reason)
	}
	atlas := atlasConfig(g)
	if err := atlas.Validate(); errors.As(err, &cfgErr) {
		bad("glyphs."+glyphKey[cfgErr.Field], cfgErr.Reason)
	}
	return errors.Join(errs...)
}

var glyphKey = map[string]string{
	"Size":       "reference-size",
	"Oversample": "oversample",
	"Spread":     "spread",
	"PageSize":   "atlas-size",
	"MaxPages":   "atlas-pages",
}

// options turns c into the equivalent Options.
func (c *Config) options() []Option {
	m, g := c.Mipmaps, c.Glyphs
	return []Option{
		WithCacheDir(c.CacheDir),
		WithWorkers(c.Workers),
		WithUploadBudget(m.UploadBudget),
		WithMipmapOptions(
			mipmap.WithTimeouts(m.TimeoutCPU, m.TimeoutGPU),
			mipmap.WithSmallestImage(m.SmallestImage),
			mipmap.WithThumbnailSizes(m.ThumbnailSizes...),
		),
		WithGlyphOptions(
			glyph.WithReferenceSize(g.ReferenceSize),
			glyph.WithOversample(g.Oversample),
			glyph.WithSpread(g.Spread),
		),
		WithAtlasConfig(atlasConfig(g)),
	}
}

func atlasConfig(g GlyphConfig) glyph.AtlasConfig {
	cfg := glyph.DefaultAtlasConfig()
	cfg.PageSize, cfg.MaxPages = g.AtlasSize, g.AtlasPages
	return cfg
}
