package image

import "sync"

// Pool recycles level buffers. Mipmap levels of one stack share a handful
// of sizes, so evicting and reloading a level usually reuses the same
// allocation.
//
// Buffers are bucketed by (width, height, format). Pool is safe for
// concurrent use.
type Pool struct {
	mu        sync.Mutex
	buckets   map[poolKey][]*ImageBuf
	perBucket int
	maxBytes  int
	held      int
}

type poolKey struct {
	width, height int
	format        Format
}

// NewPool returns a pool that keeps at most perBucket buffers per size
// and at most maxBytes in total. Zero disables the respective limit.
func NewPool(perBucket, maxBytes int) *Pool {
	return &Pool{
		buckets:   make(map[poolKey][]*ImageBuf),
		perBucket: perBucket,
		maxBytes:  maxBytes,
	}
}

// Get returns a zeroed buffer, reusing a pooled one when possible.
func (p *Pool) Get(width, height int, format Format) (*ImageBuf, error) {
	key := poolKey{width: width, height: height, format: format}

	p.mu.Lock()
	if bucket := p.buckets[key]; len(bucket) > 0 {
		buf := bucket[len(bucket)-1]
		p.buckets[key] = bucket[:len(bucket)-1]
		p.held -= buf.ByteSize()
		p.mu.Unlock()
		buf.Clear()
		return buf, nil
	}
	p.mu.Unlock()

	return NewImageBuf(width, height, format)
}

// Put hands buf back. Buffers that would exceed a limit are dropped for
// the garbage collector.
func (p *Pool) Put(buf *ImageBuf) {
	if buf.IsEmpty() {
		return
	}
	key := poolKey{width: buf.width, height: buf.height, format: buf.format}

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[key]
	if p.perBucket > 0 && len(bucket) >= p.perBucket {
		return
	}
	if p.maxBytes > 0 && p.held+buf.ByteSize() > p.maxBytes {
		return
	}
	p.buckets[key] = append(bucket, buf)
	p.held += buf.ByteSize()
}

// Held returns the number of bytes currently parked in the pool.
func (p *Pool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

var defaultPool = NewPool(4, 256<<20)

// Get takes a buffer from the shared pool.
func Get(width, height int, format Format) (*ImageBuf, error) {
	return defaultPool.Get(width, height, format)
}

// Put returns a buffer to the shared pool.
func Put(buf *ImageBuf) {
	defaultPool.Put(buf)
}
