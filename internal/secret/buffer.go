// Package secret holds decrypted key material for the short window in which
// it is needed.
//
// On Linux a Buffer lives in an anonymous mmap region outside the Go heap,
// locked against swap and excluded from core dumps. When the kernel refuses
// (RLIMIT_MEMLOCK in containers, seccomp sandboxes) the buffer falls back to
// a heap slice. Either way Close zeroes the bytes, and every later access
// panics.
package secret

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-size region of sensitive bytes. It must not be copied
// after creation.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New allocates a zeroed buffer of size bytes. The caller must Close it.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	data, locked := allocate(size)
	return &Buffer{data: data, locked: locked}, nil
}

// FromBytes moves source into a new buffer and zeroes source in place.
func FromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	buf, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buf.data, source)
	Wipe(source)
	return buf, nil
}

// Bytes returns the live contents. The slice aliases the buffer and must not
// outlive it. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Locked reports whether the bytes are pinned in RAM.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Closed reports whether Close has run.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close zeroes and releases the buffer. It is idempotent and safe to call
// on a nil Buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Wipe(b.data)
	err := release(b.data, b.locked)
	b.data = nil
	return err
}

// String never prints the contents.
func (b *Buffer) String() string {
	return fmt.Sprintf("secret.Buffer(len=%d)", b.Len())
}

// Wipe overwrites p with zeroes.
func Wipe(p []byte) {
	clear(p)
}
