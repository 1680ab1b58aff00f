// texcache prepares and inspects the on-disk texture cache.
//
// Subcommands:
//
//	warm    decode images and persist every cacheable mip level
//	path    print where the level artifacts of images live
//	glyphs  render and persist the distance fields of a font's glyphs
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/gogpu/texcache"
	"github.com/gogpu/texcache/glyph"
	teximage "github.com/gogpu/texcache/internal/image"
	"github.com/gogpu/texcache/mipmap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// common holds the flags every subcommand accepts.
type common struct {
	config   string
	cacheDir string
	workers  int
	verbose  bool
}

func (c *common) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "YAML config file")
	fs.StringVar(&c.cacheDir, "cache-dir", "", "artifact root (overrides the config file)")
	fs.IntVar(&c.workers, "workers", 0, "background workers (0 = default)")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log progress to stderr")
	fs.BoolP("help", "h", false, "show help")
}

// open builds the cache from the flags. The config file comes first so
// that explicit flags win.
func (c *common) open(stderr io.Writer) (*texcache.Cache, error) {
	if c.verbose {
		texcache.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	var opts []texcache.Option
	if c.config != "" {
		cfg, err := texcache.LoadConfig(c.config)
		if err != nil {
			return nil, err
		}
		opts = append(opts, texcache.WithConfig(cfg))
	}
	if c.cacheDir != "" {
		opts = append(opts, texcache.WithCacheDir(c.cacheDir))
	}
	if c.workers > 0 {
		opts = append(opts, texcache.WithWorkers(c.workers))
	}
	return texcache.New(opts...)
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, args []string, stdout, stderr io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{"warm", "warm [flags] IMAGE...", "decode images and persist their mip levels", runWarm},
		{"path", "path [flags] IMAGE...", "print the artifact path of every level", runPath},
		{"glyphs", "glyphs [flags] --font FILE", "render the distance fields of a font", runGlyphs},
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return nil
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:], stdout, stderr)
		}
	}
	printUsage(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: texcache COMMAND [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(w, "\nRun 'texcache COMMAND --help' for the flags of a command.\n")
}

// parse parses args into fs. It returns done when help was printed.
func parse(fs *pflag.FlagSet, usage string, args []string, stderr io.Writer) (done bool, err error) {
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: texcache %s\n\nFlags:\n", usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if help, _ := fs.GetBool("help"); help {
		fs.Usage()
		return true, nil
	}
	return false, nil
}

func runWarm(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var flags common
	var compressed bool
	fs := pflag.NewFlagSet("warm", pflag.ContinueOnError)
	flags.addFlags(fs)
	fs.BoolVar(&compressed, "compressed", false, "build a compressed mip chain instead of raw levels")
	if done, err := parse(fs, commands[0].usage, args, stderr); done || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("warm: no images given")
	}

	c, err := flags.open(stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	var failed int
	for _, path := range fs.Args() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := warm(c, path, compressed)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(stdout, "%s: %d levels\n", path, n)
	}
	if failed > 0 {
		return fmt.Errorf("warm: %d of %d images failed", failed, fs.NArg())
	}
	return nil
}

// warm loads every level of path that is worth persisting and returns how
// many it loaded.
func warm(c *texcache.Cache, path string, compressed bool) (int, error) {
	m, err := c.Mipmaps(path, compressed)
	if err != nil {
		return 0, err
	}
	defer m.Release()

	n := 0
	for level := 0; level <= m.MaxLevel(); level++ {
		if !m.Compressed() && !m.ShouldSave(level) {
			continue
		}
		if err := m.Load(level); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func runPath(_ context.Context, args []string, stdout, stderr io.Writer) error {
	var flags common
	var all bool
	fs := pflag.NewFlagSet("path", pflag.ContinueOnError)
	flags.addFlags(fs)
	fs.BoolVar(&all, "all", false, "list levels that are never persisted too")
	if done, err := parse(fs, commands[1].usage, args, stderr); done || err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("path: no images given")
	}

	c, err := flags.open(stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, path := range fs.Args() {
		if err := printPaths(c, path, all, stdout); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func printPaths(c *texcache.Cache, path string, all bool, stdout io.Writer) error {
	key, err := c.Store().Key(path)
	if err != nil {
		return err
	}
	if mipmap.IsChain(path) {
		fmt.Fprintf(stdout, "%s\tchain\t%s\n", path, path)
		return nil
	}
	m, err := c.Mipmaps(path, false)
	if err != nil {
		return err
	}
	defer m.Release()

	for level := 0; level <= m.MaxLevel(); level++ {
		if !all && !m.ShouldSave(level) {
			continue
		}
		p := key.Path(level, teximage.RawExt)
		state := "missing"
		if key.Fresh(level, teximage.RawExt) {
			state = "fresh"
		}
		size := m.MipmapSize(level)
		fmt.Fprintf(stdout, "%s\t%d\t%dx%d\t%s\t%s\n", path, level, size.X, size.Y, state, p)
	}
	if chain := key.Path(0, mipmap.ChainExt); key.Fresh(0, mipmap.ChainExt) {
		fmt.Fprintf(stdout, "%s\tchain\t%s\n", path, chain)
	}
	return nil
}

// defaultText covers printable ASCII.
const defaultText = " !\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

func runGlyphs(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var flags common
	var fontPath, text string
	var timeout time.Duration
	fs := pflag.NewFlagSet("glyphs", pflag.ContinueOnError)
	flags.addFlags(fs)
	fs.StringVar(&fontPath, "font", "", "TrueType or OpenType font file")
	fs.StringVar(&text, "text", defaultText, "characters to render")
	fs.DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	if done, err := parse(fs, commands[2].usage, args, stderr); done || err != nil {
		return err
	}
	if fontPath == "" {
		return errors.New("glyphs: --font is required")
	}

	data, err := os.ReadFile(fontPath)
	if err != nil {
		return err
	}
	face, err := glyph.NewSFNTFace(data)
	if err != nil {
		return err
	}

	c, err := flags.open(stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	seen := make(map[glyph.GlyphIndex]bool)
	var gids []glyph.GlyphIndex
	for _, r := range text {
		gid := face.Index(r)
		if gid == 0 || seen[gid] {
			continue
		}
		seen[gid] = true
		gids = append(gids, gid)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	counts, err := settle(ctx, c, c.Glyphs().Font(face), gids)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d ready, %d empty, %d failed, %d atlas pages (%.0f%% used)\n",
		face.Identity(), counts[glyph.Ready], counts[glyph.Empty], counts[glyph.Failed],
		c.Atlas().Pages(), c.Atlas().Utilization()*100)
	if counts[glyph.Failed] > 0 {
		return fmt.Errorf("glyphs: %d glyphs failed", counts[glyph.Failed])
	}
	return nil
}

// settle requests gids until none is absent or pending, draining the atlas
// queue in between the way a render loop would once per frame.
func settle(ctx context.Context, c *texcache.Cache, fc *glyph.FontCache, gids []glyph.GlyphIndex) (map[glyph.Status]int, error) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		counts := make(map[glyph.Status]int)
		for _, gid := range gids {
			if _, st := fc.Lookup(gid); st == glyph.Absent || st == glyph.Pending {
				fc.Glyph(gid)
			}
			_, st := fc.Lookup(gid)
			counts[st]++
		}
		c.Atlas().Queue().Drain()
		if counts[glyph.Absent] == 0 && counts[glyph.Pending] == 0 {
			return counts, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("glyphs: %d still pending: %w", counts[glyph.Absent]+counts[glyph.Pending], ctx.Err())
		case <-tick.C:
		}
	}
}
