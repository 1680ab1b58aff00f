package mipmap

import (
	"context"
	"io"

	"github.com/gogpu/texcache/artifact"
	teximage "github.com/gogpu/texcache/internal/image"
)

// chainJob converts a raster source into a mip-chain container holding
// every level of the stack layout. It runs once and hands the result back
// to its stack.
type chainJob struct {
	stack  *LevelStack
	source string
	out    string
	lay    *layout
}

func (j *chainJob) Run(ctx context.Context) {
	c, err := j.build(ctx)
	j.stack.chainDone(c, err)
}

func (j *chainJob) build(ctx context.Context) (*Chain, error) {
	levels := make([]*teximage.ImageBuf, 0, j.lay.maxLevel+1)
	defer func() {
		for _, b := range levels {
			teximage.Put(b)
		}
	}()

	src, err := teximage.Load(j.source)
	if err != nil {
		return nil, err
	}
	levels = append(levels, src)

	for l := 1; l <= j.lay.maxLevel; l++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := levels[l-1]
		want := j.lay.size(l)
		var next *teximage.ImageBuf
		if want.Mul(2) == prev.Size() {
			next, err = teximage.Quarter(prev)
		} else {
			next, err = teximage.Resize(prev, want.X, want.Y)
		}
		if err != nil {
			return nil, err
		}
		levels = append(levels, next)
	}

	err = artifact.WriteFile(j.out, func(w io.Writer) error {
		return WriteChain(w, levels)
	})
	if err != nil {
		return nil, err
	}
	slogger().Debug("mipmap: wrote chain", "path", j.out, "levels", len(levels))
	return OpenChain(j.out)
}
