package arena

import (
	"github.com/heapforge/blockheap"
	"github.com/pkg/errors"
)

// RegionProvider is the boundary through which the heap obtains its backing memory.
// Acquire accepts the number of bytes the caller wants and returns a zero-initialized,
// contiguous, writable buffer whose length has been rounded up to a multiple of the
// provider's page size.
//
// Acquire may be called successfully at most once per provider. Any attempt after the
// first, successful or not, fails with blockheap.ErrAlreadyInitialized- the provider
// treats its single shot as permanently consumed even when the underlying reservation
// failed. Release returns the buffer produced by Acquire to the operating system, after
// which the buffer must not be touched.
type RegionProvider interface {
	Acquire(size int) ([]byte, error)
	Release(data []byte) error
	PageSize() int
}

// BufferProvider is a RegionProvider backed by an ordinary Go byte slice. It exists for
// tests and for hosts that want a heap inside memory they already own the lifecycle of.
// The zero value is not usable- create it with NewBufferProvider so the page size is set.
type BufferProvider struct {
	pageSize int
	acquired bool
}

func NewBufferProvider(pageSize int) *BufferProvider {
	if pageSize < 1 {
		panic("buffer providers require a positive page size")
	}
	blockheap.DebugCheckPow2(uint(pageSize), "pageSize")

	return &BufferProvider{pageSize: pageSize}
}

func (p *BufferProvider) PageSize() int { return p.pageSize }

func (p *BufferProvider) Acquire(size int) ([]byte, error) {
	if p.acquired {
		return nil, errors.WithStack(blockheap.ErrAlreadyInitialized)
	}
	p.acquired = true

	if size < 1 {
		return nil, errors.Wrapf(blockheap.ErrInvalidSize, "requested region size %d", size)
	}

	return make([]byte, blockheap.AlignUp(size, uint(p.pageSize))), nil
}

func (p *BufferProvider) Release(data []byte) error {
	if !p.acquired {
		return errors.New("no region has been acquired from this provider")
	}
	return nil
}
