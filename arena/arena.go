// Package arena owns the raw byte region backing a heap. It acquires the region
// exactly once from a RegionProvider, trims it so that the block list has room for
// its end sentinel, and hands out the raw bytes for the metadata engine to thread
// headers and footers through.
package arena

import (
	"github.com/heapforge/blockheap"
	"github.com/pkg/errors"
)

// Arena is a fixed-length byte region. Its length never changes after Bootstrap,
// and all addresses within it are expressed as byte offsets from its start.
type Arena struct {
	provider RegionProvider
	data     []byte
	usable   int
}

// Bootstrap rounds size up to the provider's page size, acquires the backing buffer,
// and reserves the trailing blockheap.HeaderSize bytes for the block list's end
// sentinel. The provider consumes its single Acquire shot even when Bootstrap fails.
func Bootstrap(provider RegionProvider, size int) (*Arena, error) {
	if size < 1 {
		return nil, errors.Wrapf(blockheap.ErrInvalidSize, "requested region size %d", size)
	}

	data, err := provider.Acquire(size)
	if err != nil {
		if errors.Is(err, blockheap.ErrAlreadyInitialized) ||
			errors.Is(err, blockheap.ErrInvalidSize) ||
			errors.Is(err, blockheap.ErrRegionAcquisition) {
			return nil, err
		}
		return nil, errors.Wrapf(blockheap.ErrRegionAcquisition, "%s", err)
	}

	pageSize := provider.PageSize()
	if len(data)%pageSize != 0 {
		panic(errors.Errorf("region provider returned a buffer of %d bytes, which is not a multiple of the %d-byte page size", len(data), pageSize))
	}

	return &Arena{
		provider: provider,
		data:     data,
		usable:   len(data) - blockheap.HeaderSize,
	}, nil
}

// Data is the full backing buffer, sentinel word included.
func (a *Arena) Data() []byte { return a.data }

// Size is the full length of the backing buffer in bytes, always a multiple of the
// provider's page size.
func (a *Arena) Size() int { return len(a.data) }

// Usable is the number of bytes available to the block list- the region length minus
// the reserved end sentinel word.
func (a *Arena) Usable() int { return a.usable }

// Release returns the backing buffer to its provider. The Arena must not be used
// afterward.
func (a *Arena) Release() error {
	if a.data == nil {
		return errors.New("this arena has already been released")
	}

	err := a.provider.Release(a.data)
	a.data = nil
	return err
}
