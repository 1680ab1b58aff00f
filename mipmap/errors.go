package mipmap

import "errors"

var (
	// ErrNotFound is returned by StartLoading when the source is missing.
	ErrNotFound = errors.New("mipmap: source not found")

	// ErrProbe is returned by StartLoading when the source dimensions
	// cannot be read.
	ErrProbe = errors.New("mipmap: cannot probe source")

	// ErrZeroSize is returned by StartLoading for an image with a zero
	// dimension.
	ErrZeroSize = errors.New("mipmap: zero-sized image")

	// ErrStarted is returned by a second StartLoading call.
	ErrStarted = errors.New("mipmap: already started")

	// ErrNotStarted is returned by operations that need StartLoading.
	ErrNotStarted = errors.New("mipmap: not started")

	// ErrFinished is returned after Finish.
	ErrFinished = errors.New("mipmap: stack finished")

	// ErrLevelRange is returned for a level outside [0, MaxLevel].
	ErrLevelRange = errors.New("mipmap: level out of range")

	// ErrLevelFailed is returned by Load when the level ended up Failed.
	ErrLevelFailed = errors.New("mipmap: level failed to load")

	// ErrNoLevel is returned by Selector.Bind when no level is Ready.
	ErrNoLevel = errors.New("mipmap: no level available")

	// ErrCorruptChain is returned for a malformed mip-chain container.
	ErrCorruptChain = errors.New("mipmap: corrupt mip chain")
)
