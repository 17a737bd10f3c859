//go:build unix

package arena

import (
	"github.com/heapforge/blockheap"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapProvider is a RegionProvider that reserves the backing buffer with a single
// anonymous, private mmap. The mapping is zero-filled by the kernel and its length is
// rounded up to a multiple of the platform page size.
type MmapProvider struct {
	acquired bool
}

func (p *MmapProvider) PageSize() int { return unix.Getpagesize() }

func (p *MmapProvider) Acquire(size int) ([]byte, error) {
	if p.acquired {
		return nil, errors.WithStack(blockheap.ErrAlreadyInitialized)
	}
	p.acquired = true

	if size < 1 {
		return nil, errors.Wrapf(blockheap.ErrInvalidSize, "requested region size %d", size)
	}

	mapSize := blockheap.AlignUp(size, uint(unix.Getpagesize()))
	data, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(blockheap.ErrRegionAcquisition, "mmap of %d bytes failed: %s", mapSize, err)
	}

	return data, nil
}

func (p *MmapProvider) Release(data []byte) error {
	if !p.acquired {
		return errors.New("no region has been acquired from this provider")
	}
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}
