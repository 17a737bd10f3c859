package metadata

import (
	"github.com/heapforge/blockheap"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// BlockList manages the block chain threaded through a heap region's raw bytes.
// It implements best-fit allocation with block splitting, boundary-validated
// deallocation, and a separate lazy-coalescing pass. The region bytes are the only
// bookkeeping- the allocation counter kept here is a cross-checked convenience for
// statistics, never consulted by the allocation paths.
//
// BlockList performs no locking. Hosts that share a heap between goroutines must
// serialize every call externally.
type BlockList struct {
	data   []byte
	usable int

	allocCount int
}

// Init installs the initial block structure into the provided region bytes: a single
// free block spanning the entire usable region, its footer, and the end sentinel in
// the final reserved word. The initial block's predecessor bit is set- there is no
// real predecessor, and the convention keeps traversal from ever looking below offset
// zero.
func (l *BlockList) Init(data []byte) error {
	usable := len(data) - blockheap.HeaderSize
	if usable < minBlockSize {
		return errors.Wrapf(blockheap.ErrInvalidSize, "region of %d bytes cannot hold a block and sentinel", len(data))
	}
	if usable%int(blockheap.Alignment) != 0 {
		return errors.Wrapf(blockheap.ErrInvalidSize, "usable region size %d is not a multiple of the heap alignment", usable)
	}

	l.data = data
	l.usable = usable
	l.allocCount = 0

	EncodeHeader(l.data, 0, BlockHeader{Size: usable, PrevAllocated: true})
	WriteFooter(l.data, 0, usable)
	WriteEndSentinel(l.data, usable)

	return nil
}

// Size is the number of usable bytes managed by the block list, sentinel excluded.
func (l *BlockList) Size() int { return l.usable }

// AllocationCount is the number of blocks currently handed out to callers.
func (l *BlockList) AllocationCount() int { return l.allocCount }

// IsEmpty returns true when no allocations are live.
func (l *BlockList) IsEmpty() bool { return l.allocCount == 0 }

// SumFreeSize walks the block list and returns the total number of free bytes,
// header words included.
func (l *BlockList) SumFreeSize() int {
	freeSize := 0
	for offset := 0; offset < l.usable; {
		header := l.headerAt(offset)
		if !header.Allocated {
			freeSize += header.Size
		}
		offset += header.Size
	}
	return freeSize
}

// headerAt decodes the header at the provided offset and panics if the stored size
// cannot be part of a well-formed block list. A bad size here means the engine itself
// corrupted the region, and continuing would risk handing out overlapping memory.
func (l *BlockList) headerAt(offset int) BlockHeader {
	header := DecodeHeader(l.data, offset)
	if header.Size < minBlockSize || header.Size%int(blockheap.Alignment) != 0 || offset+header.Size > l.usable {
		panic(errors.Errorf("heap corruption: block at offset %d has impossible size %d", offset, header.Size))
	}
	return header
}

// Allocate hands out a block large enough for a payload of the requested size,
// returning the 8-byte-aligned payload offset. The chosen block is the smallest free
// block that fits, with ties broken by lowest address. The second return value is
// false when the requested size is not positive, exceeds the usable region, or no
// free block can satisfy it- in every such case the region is left untouched.
func (l *BlockList) Allocate(size int) (int, bool) {
	if size < 1 || size > l.usable {
		return 0, false
	}

	// Total block size: payload plus header, rounded up to the alignment. Debug
	// builds also reserve margin bytes for corruption markers.
	need := blockheap.AlignUp(size+blockheap.HeaderSize+blockheap.DebugMargin, blockheap.Alignment)

	bestOffset := -1
	bestSize := 0
	for offset := 0; offset < l.usable; {
		header := l.headerAt(offset)
		if !header.Allocated && header.Size >= need && (bestOffset < 0 || header.Size < bestSize) {
			bestOffset = offset
			bestSize = header.Size
		}
		offset += header.Size
	}

	if bestOffset < 0 {
		return 0, false
	}

	remainder := bestSize - need
	if remainder < minBlockSize {
		// Exact fit, or a tail too small to stand alone as a free block: hand out
		// the whole candidate.
		header := l.headerAt(bestOffset)
		header.Allocated = true
		EncodeHeader(l.data, bestOffset, header)

		nextOffset := bestOffset + bestSize
		if nextOffset < l.usable {
			next := l.headerAt(nextOffset)
			next.PrevAllocated = true
			EncodeHeader(l.data, nextOffset, next)
		}
	} else {
		// Split: the front of the candidate becomes the allocated block, the tail
		// becomes a new free block with a fresh footer. The block after the tail
		// keeps its cleared predecessor bit- its neighbor is still free.
		header := l.headerAt(bestOffset)
		EncodeHeader(l.data, bestOffset, BlockHeader{
			Size:          need,
			Allocated:     true,
			PrevAllocated: header.PrevAllocated,
		})

		tailOffset := bestOffset + need
		EncodeHeader(l.data, tailOffset, BlockHeader{Size: remainder, PrevAllocated: true})
		WriteFooter(l.data, tailOffset, remainder)
	}

	l.allocCount++
	return bestOffset + blockheap.HeaderSize, true
}

// Free releases the block whose payload begins at the provided offset. The offset is
// validated before any mutation: zero offsets, offsets that are not 8-byte aligned,
// offsets outside the usable region, and offsets whose block is not currently
// allocated are all rejected with distinct errors. Valid payload offsets satisfy
// blockheap.HeaderSize <= offset < Size()- the upper bound is exclusive at the end
// sentinel.
//
// Free never merges the released block with free neighbors. Merging is deferred to
// Coalesce, trading temporary fragmentation for a short, simple free path.
func (l *BlockList) Free(payloadOffset int) error {
	if payloadOffset == 0 {
		return errors.WithStack(blockheap.ErrNullOffset)
	}
	if blockheap.AlignDown(payloadOffset, blockheap.Alignment) != payloadOffset {
		return errors.Wrapf(blockheap.ErrMisalignedOffset, "payload offset %d", payloadOffset)
	}
	if payloadOffset < blockheap.HeaderSize || payloadOffset >= l.usable {
		return errors.Wrapf(blockheap.ErrOutOfRange, "payload offset %d, usable region [%d, %d)", payloadOffset, blockheap.HeaderSize, l.usable)
	}

	blockOffset := payloadOffset - blockheap.HeaderSize
	header := DecodeHeader(l.data, blockOffset)
	if header.Size < minBlockSize || header.Size%int(blockheap.Alignment) != 0 || blockOffset+header.Size > l.usable {
		// The offset is inside the region but does not address a block header.
		return errors.Wrapf(blockheap.ErrOutOfRange, "payload offset %d does not address a block", payloadOffset)
	}
	if !header.Allocated {
		return errors.Wrapf(blockheap.ErrAlreadyFree, "payload offset %d", payloadOffset)
	}

	header.Allocated = false
	EncodeHeader(l.data, blockOffset, header)
	WriteFooter(l.data, blockOffset, header.Size)

	nextOffset := blockOffset + header.Size
	if nextOffset < l.usable {
		next := l.headerAt(nextOffset)
		next.PrevAllocated = false
		EncodeHeader(l.data, nextOffset, next)
	}

	l.allocCount--
	return nil
}

// Coalesce performs a full left-to-right pass over the block list, merging every run
// of adjacent free blocks into a single free block. Merges cascade: after absorbing
// its successor a free block is re-examined in place, so arbitrarily long runs
// collapse in one pass. The number of merges performed is returned. When Coalesce
// returns, no two adjacent blocks are free.
func (l *BlockList) Coalesce() int {
	merges := 0
	for offset := 0; offset < l.usable; {
		header := l.headerAt(offset)
		if header.Allocated {
			offset += header.Size
			continue
		}

		nextOffset := offset + header.Size
		if nextOffset >= l.usable {
			break
		}

		next := l.headerAt(nextOffset)
		if next.Allocated {
			offset = nextOffset
			continue
		}

		header.Size += next.Size
		EncodeHeader(l.data, offset, header)
		WriteFooter(l.data, offset, header.Size)
		merges++
		// Stay on this block- the new successor may be free as well.
	}

	return merges
}

// Clear instantly releases every allocation, restoring the single spanning free
// block installed by Init.
func (l *BlockList) Clear() {
	EncodeHeader(l.data, 0, BlockHeader{Size: l.usable, PrevAllocated: true})
	WriteFooter(l.data, 0, l.usable)
	WriteEndSentinel(l.data, l.usable)
	l.allocCount = 0
}

// VisitAllRegions calls the provided callback once per block in address order,
// passing the block's index in the list, its start offset, its full size, and its
// status bits. The sentinel is not visited. Traversal is read-only and safe to run
// between any two operations.
func (l *BlockList) VisitAllRegions(handleBlock func(index, offset, size int, allocated, prevAllocated bool) error) error {
	index := 0
	for offset := 0; offset < l.usable; {
		header := l.headerAt(offset)
		err := handleBlock(index, offset, header.Size, header.Allocated, header.PrevAllocated)
		if err != nil {
			return err
		}
		index++
		offset += header.Size
	}

	return nil
}

// Validate audits the structural invariants of the block list: exact tiling of the
// region, aligned positive sizes, predecessor-bit consistency, footer/header
// agreement on free blocks, the end sentinel, and the cross-checked allocation
// counter. It should not be able to fail; a returned error means the engine has a
// bug.
func (l *BlockList) Validate() error {
	offset := 0
	prevAllocated := true
	allocCount := 0

	for offset < l.usable {
		header := DecodeHeader(l.data, offset)
		if header.Size < minBlockSize || header.Size%int(blockheap.Alignment) != 0 {
			return errors.Errorf("block at offset %d has invalid size %d", offset, header.Size)
		}
		if offset+header.Size > l.usable {
			return errors.Errorf("block at offset %d with size %d overruns the usable region of %d bytes", offset, header.Size, l.usable)
		}
		if header.PrevAllocated != prevAllocated {
			return errors.Errorf("block at offset %d records its predecessor as allocated=%t, but the predecessor is allocated=%t", offset, header.PrevAllocated, prevAllocated)
		}

		if header.Allocated {
			allocCount++
		} else if footerSize := ReadFooter(l.data, offset, header.Size); footerSize != header.Size {
			return errors.Errorf("free block at offset %d has header size %d but footer size %d", offset, header.Size, footerSize)
		}

		prevAllocated = header.Allocated
		offset += header.Size
	}

	if offset != l.usable {
		return errors.Errorf("blocks tile %d bytes but the usable region is %d bytes", offset, l.usable)
	}

	sentinel := DecodeHeader(l.data, l.usable)
	if !sentinel.IsEndSentinel() {
		return errors.Errorf("the end sentinel word is missing at offset %d", l.usable)
	}

	if allocCount != l.allocCount {
		return errors.Errorf("the allocation count of the list is %d, but the allocated blocks only added up to %d", l.allocCount, allocCount)
	}

	return nil
}

// CheckCorruption verifies the anti-corruption markers trailing every allocated
// payload. Markers are only written when the module is built with the
// debug_block_heap build tag; without it this method cheaply no-ops per block.
func (l *BlockList) CheckCorruption() error {
	for offset := 0; offset < l.usable; {
		header := l.headerAt(offset)
		if header.Allocated {
			if !blockheap.ValidateMagicValue(l.data, offset+header.Size-blockheap.DebugMargin) {
				return errors.Errorf("memory corruption detected after the allocation at offset %d", offset)
			}
		}
		offset += header.Size
	}

	return nil
}

// AddStatistics sums this block list's usage numbers into the provided statistics.
func (l *BlockList) AddStatistics(stats *blockheap.Statistics) {
	stats.RegionCount++
	stats.AllocationCount += l.allocCount
	stats.RegionBytes += l.usable
	stats.AllocationBytes += l.usable - l.SumFreeSize()
}

// AddDetailedStatistics sums this block list's per-range numbers into the provided
// statistics. The statistics object must have been cleared or previously summed into.
func (l *BlockList) AddDetailedStatistics(stats *blockheap.DetailedStatistics) {
	stats.RegionCount++
	stats.RegionBytes += l.usable

	_ = l.VisitAllRegions(func(index, offset, size int, allocated, prevAllocated bool) error {
		if allocated {
			stats.AddAllocation(size)
		} else {
			stats.AddUnusedRange(size)
		}
		return nil
	})
}

// BlockJsonData populates a json object with summary information about this block
// list. The object state is passed by pointer- ObjectState tracks its own
// written-property state, and writing through a copy loses the separator
// bookkeeping of the caller's object.
func (l *BlockList) BlockJsonData(json *jwriter.ObjectState) {
	var stats blockheap.DetailedStatistics
	stats.Clear()
	l.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(l.usable)
	json.Name("UnusedBytes").Int(stats.FreeBytes())
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)
}
