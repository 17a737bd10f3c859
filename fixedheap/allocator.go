// Package fixedheap exposes a deterministic heap over a single fixed-size memory
// region. The region is obtained exactly once from an arena.RegionProvider, and all
// allocation bookkeeping lives in the region itself as a chain of block headers and
// free-block footers managed by the metadata package.
//
// Allocators are plain instances- create as many independent heaps as there are
// providers to back them. No operation blocks or retries, and none is safe for
// concurrent use: hosts that share an Allocator between goroutines must serialize
// every call externally.
package fixedheap

import (
	"context"

	"github.com/dolthub/swiss"
	"github.com/heapforge/blockheap"
	"github.com/heapforge/blockheap/arena"
	"github.com/heapforge/blockheap/metadata"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

// Allocator is a heap over one fixed-size region. Freeing a block never merges it
// with free neighbors- call Coalesce to collapse fragmentation, typically before
// retrying a large allocation that failed.
type Allocator struct {
	logger *slog.Logger
	region *arena.Arena
	meta   metadata.BlockList

	// live carries names and user data for diagnostics only. No allocation or free
	// path consults it- the block list in the region is the single source of truth.
	live *swiss.Map[int, *Allocation]
}

// New acquires a backing region of at least size bytes from the provider and
// installs the initial single free block. The provider's one Acquire call is
// consumed even when New fails, matching the at-most-once region contract: a failed
// initialization is not retryable with the same provider.
func New(logger *slog.Logger, provider arena.RegionProvider, size int) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	region, err := arena.Bootstrap(provider, size)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		logger: logger,
		region: region,
		live:   swiss.NewMap[int, *Allocation](37),
	}

	err = a.meta.Init(region.Data())
	if err != nil {
		releaseErr := region.Release()
		if releaseErr != nil {
			logger.Error("error releasing region after failed heap initialization", slog.Any("error", releaseErr))
		}
		return nil, err
	}

	logger.Debug("Allocator::New",
		slog.Int("RegionSize", region.Size()),
		slog.Int("UsableSize", region.Usable()),
	)

	return a, nil
}

// Allocate hands out a block for a payload of the requested size and returns its
// Allocation record. The false return covers both invalid sizes and exhaustion- a
// request no free block can satisfy leaves the heap untouched, and the caller may
// free other blocks or Coalesce and try again.
func (a *Allocator) Allocate(size int) (*Allocation, bool) {
	payloadOffset, ok := a.meta.Allocate(size)
	if !ok {
		a.logger.Debug("Allocator::Allocate failed", slog.Int("Size", size))
		return nil, false
	}

	blockOffset := payloadOffset - blockheap.HeaderSize
	blockSize := metadata.DecodeHeader(a.region.Data(), blockOffset).Size

	if blockheap.DebugMargin > 0 {
		blockheap.WriteMagicValue(a.region.Data(), blockOffset+blockSize-blockheap.DebugMargin)
	}

	alloc := &Allocation{
		offset:      payloadOffset,
		blockSize:   blockSize,
		payloadSize: size,
	}
	a.live.Put(payloadOffset, alloc)

	blockheap.DebugValidate(&a.meta)

	a.logger.Debug("Allocator::Allocate",
		slog.Int("Size", size),
		slog.Int("Offset", payloadOffset),
		slog.Int("BlockSize", blockSize),
	)

	return alloc, true
}

// Free releases the block whose payload begins at the provided offset. Null,
// misaligned, out-of-range, and already-free offsets are rejected with distinct
// errors, and a rejected call performs no mutation. The released block is not merged
// with free neighbors- see Coalesce.
func (a *Allocator) Free(payloadOffset int) error {
	if blockheap.DebugMargin > 0 {
		alloc, ok := a.live.Get(payloadOffset)
		if ok && !blockheap.ValidateMagicValue(a.region.Data(), payloadOffset-blockheap.HeaderSize+alloc.blockSize-blockheap.DebugMargin) {
			panic(errors.Errorf("memory corruption detected behind the allocation at offset %d", payloadOffset))
		}
	}

	err := a.meta.Free(payloadOffset)
	if err != nil {
		return err
	}

	a.live.Delete(payloadOffset)
	blockheap.DebugValidate(&a.meta)

	a.logger.Debug("Allocator::Free", slog.Int("Offset", payloadOffset))
	return nil
}

// FreeAllocation releases the block behind an Allocation record.
func (a *Allocator) FreeAllocation(alloc *Allocation) error {
	if alloc == nil {
		return errors.WithStack(blockheap.ErrNullOffset)
	}
	return a.Free(alloc.offset)
}

// Coalesce merges every run of adjacent free blocks in a single full pass and
// returns the number of merges performed. It is a maintenance operation with no
// failure mode- structural corruption discovered mid-pass panics rather than being
// reported as an ordinary error.
func (a *Allocator) Coalesce() int {
	merges := a.meta.Coalesce()
	blockheap.DebugValidate(&a.meta)

	a.logger.Debug("Allocator::Coalesce", slog.Int("Merges", merges))
	return merges
}

// PayloadBytes is the caller-usable byte window of a live allocation. The slice
// aliases the heap region- it is valid until the allocation is freed and must never
// be appended to.
func (a *Allocator) PayloadBytes(alloc *Allocation) []byte {
	return a.region.Data()[alloc.offset : alloc.offset+alloc.payloadSize]
}

// Validate audits the full block list structure. See metadata.BlockList.Validate.
func (a *Allocator) Validate() error {
	return a.meta.Validate()
}

// CheckCorruption sweeps the anti-corruption markers behind every live payload.
// Markers exist only in builds carrying the debug_block_heap tag.
func (a *Allocator) CheckCorruption() error {
	return a.meta.CheckCorruption()
}

// AllocationCount is the number of live allocations.
func (a *Allocator) AllocationCount() int {
	return a.meta.AllocationCount()
}

// UsableSize is the number of bytes managed by the heap, end sentinel excluded.
func (a *Allocator) UsableSize() int {
	return a.meta.Size()
}

// CalculateStatistics sums the heap's current usage into the provided statistics
// object, which must have been cleared.
func (a *Allocator) CalculateStatistics(stats *blockheap.DetailedStatistics) {
	a.meta.AddDetailedStatistics(stats)
}

// Clear instantly releases every live allocation, restoring the single spanning
// free block.
func (a *Allocator) Clear() {
	a.meta.Clear()
	a.live = swiss.NewMap[int, *Allocation](37)
	a.logger.Debug("Allocator::Clear")
}

// Destroy releases the backing region. Destroying a heap with live allocations is a
// host bug: every unreleased allocation is logged and an error is returned without
// touching the region, so the host can inspect it.
func (a *Allocator) Destroy() error {
	if a.region == nil {
		return errors.New("this allocator has already been destroyed")
	}

	if !a.meta.IsEmpty() {
		a.live.Iter(func(offset int, alloc *Allocation) bool {
			a.logUnreleasedMemory(alloc)
			return false
		})

		return errors.New("some allocations were not freed before the destruction of this heap")
	}

	err := a.region.Release()
	a.region = nil
	return err
}

func (a *Allocator) logUnreleasedMemory(alloc *Allocation) {
	name := alloc.Name()
	if name == "" {
		name = "empty"
	}

	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("offset", alloc.offset),
		slog.Int("size", alloc.payloadSize),
		slog.Any("userData", alloc.userData),
		slog.String("name", name),
	)
}
