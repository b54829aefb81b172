package bufpool

import "sync"

// sizeClasses covers the device link's two buffer shapes: 64 and 640 for
// small CoAP control frames (640 is minProtocolBufferSize, the smallest
// buffer the HELLO handshake ever negotiates), 4096 and 65536 for firmware
// chunk batches and DESCRIBE payloads.
var sizeClasses = [...]int{64, 640, 4096, 65536}

// Pool hands out byte slices from a fixed set of size classes, backed by one
// sync.Pool per class, to keep the channel's per-message encode path off the
// allocator. byClass indexes pools by their exact capacity so Put can return
// a buffer without scanning the class list.
type Pool struct {
	classes []*sync.Pool
	byClass map[int]*sync.Pool
}

var defaultPool = New()

// Get acquires a buffer from the package-level default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}

// New builds a Pool over sizeClasses, one sync.Pool per class.
func New() *Pool {
	p := &Pool{
		classes: make([]*sync.Pool, len(sizeClasses)),
		byClass: make(map[int]*sync.Pool, len(sizeClasses)),
	}
	for i, size := range sizeClasses {
		size := size
		sp := &sync.Pool{New: func() any { return make([]byte, size) }}
		p.classes[i] = sp
		p.byClass[size] = sp
	}
	return p
}

// Get returns a slice of length size, backed by the smallest size class that
// fits. A request larger than every class falls back to a plain allocation;
// Put will then discard it rather than pool it.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}
	for i, class := range sizeClasses {
		if size <= class {
			buf := p.classes[i].Get().([]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to the pool whose class matches its capacity exactly.
// Grown or undersized buffers (e.g. EncodeInto appending past its original
// capacity) don't match any class and are left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}
	if sp, ok := p.byClass[cap(buf)]; ok {
		full := buf[:cap(buf)]
		clear(full)
		sp.Put(full)
	}
}
