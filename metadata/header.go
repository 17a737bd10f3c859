// Package metadata implements the block-management engine for a fixed-size heap
// region. Every block in the region begins with a packed 8-byte header word, free
// blocks additionally end with an 8-byte footer word recording their size, and the
// list is terminated by a zero-size sentinel word marked allocated. The engine keeps
// no bookkeeping outside the region itself- the header/footer chain threaded through
// the raw bytes is the single source of truth.
package metadata

import (
	"encoding/binary"

	"github.com/heapforge/blockheap"
)

const (
	// allocatedBit marks the block itself as handed out to a caller
	allocatedBit uint64 = 0x1
	// prevAllocatedBit marks the block's predecessor in address order as handed out
	prevAllocatedBit uint64 = 0x2

	sizeMask = ^uint64(blockheap.Alignment - 1)

	// endSentinelWord is the header word terminating the block list: size zero,
	// marked allocated so traversal never walks past it
	endSentinelWord = allocatedBit

	// minBlockSize is the smallest legal block: enough room for a header word and,
	// should the block ever be freed, a footer word that does not overlap it.
	minBlockSize = 2 * blockheap.HeaderSize
)

// BlockHeader is the decoded form of a block's packed header word. Size counts the
// whole block- header included- and is always a positive multiple of the heap
// alignment for real blocks, zero only for the end sentinel.
type BlockHeader struct {
	Size          int
	Allocated     bool
	PrevAllocated bool
}

// IsEndSentinel reports whether this header terminates the block list.
func (h BlockHeader) IsEndSentinel() bool {
	return h.Size == 0 && h.Allocated
}

// DecodeHeader unpacks the header word at the provided block offset.
func DecodeHeader(data []byte, offset int) BlockHeader {
	word := binary.LittleEndian.Uint64(data[offset:])
	return BlockHeader{
		Size:          int(word & sizeMask),
		Allocated:     word&allocatedBit != 0,
		PrevAllocated: word&prevAllocatedBit != 0,
	}
}

// EncodeHeader packs the header and writes its word at the provided block offset.
// The size must already be a multiple of the heap alignment- low bits of the size
// would otherwise collide with the status bits.
func EncodeHeader(data []byte, offset int, header BlockHeader) {
	word := uint64(header.Size) & sizeMask
	if header.Allocated {
		word |= allocatedBit
	}
	if header.PrevAllocated {
		word |= prevAllocatedBit
	}
	binary.LittleEndian.PutUint64(data[offset:], word)
}

// WriteFooter records a free block's size in the last word of the block, enabling
// backward traversal. Footers carry no status bits.
func WriteFooter(data []byte, blockOffset, size int) {
	binary.LittleEndian.PutUint64(data[blockOffset+size-blockheap.HeaderSize:], uint64(size))
}

// ReadFooter retrieves the size recorded in a free block's footer word.
func ReadFooter(data []byte, blockOffset, size int) int {
	return int(binary.LittleEndian.Uint64(data[blockOffset+size-blockheap.HeaderSize:]))
}

// WriteEndSentinel installs the terminating sentinel word at the provided offset.
func WriteEndSentinel(data []byte, offset int) {
	binary.LittleEndian.PutUint64(data[offset:], endSentinelWord)
}
