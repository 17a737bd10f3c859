package fixedheap_test

import (
	"io"
	"testing"

	"github.com/heapforge/blockheap"
	"github.com/heapforge/blockheap/arena"
	"github.com/heapforge/blockheap/fixedheap"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newTestAllocator(t *testing.T, size int) *fixedheap.Allocator {
	logger := slog.New(slog.NewJSONHandler(io.Discard))

	allocator, err := fixedheap.New(logger, arena.NewBufferProvider(4096), size)
	require.NoError(t, err)
	return allocator
}

// blockSizeFor is the footprint a payload of the given size occupies in the
// region: header plus any build-dependent margin, rounded up to the block
// alignment.
func blockSizeFor(payload int) int {
	return blockheap.AlignUp(payload+blockheap.HeaderSize+blockheap.DebugMargin, blockheap.Alignment)
}

func TestAllocateFreeLifecycle(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	require.Equal(t, 4088, allocator.UsableSize())

	alloc, ok := allocator.Allocate(100)
	require.True(t, ok)
	require.NotNil(t, alloc)
	require.Zero(t, alloc.Offset()%8)
	require.Greater(t, alloc.Offset(), 0)
	require.Less(t, alloc.Offset(), allocator.UsableSize())
	require.Equal(t, 100, alloc.Size())

	// A request for the full original region cannot fit alongside the first
	// allocation.
	_, ok = allocator.Allocate(4096)
	require.False(t, ok)

	require.NoError(t, allocator.Free(alloc.Offset()))
	require.ErrorIs(t, allocator.Free(alloc.Offset()), blockheap.ErrAlreadyFree)

	require.NoError(t, allocator.Destroy())
}

func TestPayloadBytesAliasRegion(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	alloc, ok := allocator.Allocate(64)
	require.True(t, ok)

	payload := allocator.PayloadBytes(alloc)
	require.Len(t, payload, 64)

	for i := range payload {
		payload[i] = 0xAB
	}

	// Caller writes stay inside the payload- the block structure must survive.
	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.CheckCorruption())

	require.NoError(t, allocator.FreeAllocation(alloc))
	require.NoError(t, allocator.Destroy())
}

func TestCoalesceEnablesLargeAllocation(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	var allocs []*fixedheap.Allocation
	for {
		alloc, ok := allocator.Allocate(120)
		if !ok {
			break
		}
		allocs = append(allocs, alloc)
	}
	require.NotEmpty(t, allocs)

	for _, alloc := range allocs {
		require.NoError(t, allocator.FreeAllocation(alloc))
	}

	// The heap is fully free but fragmented into one hole per former allocation
	// plus the leftover tail; a spanning request only fits after the maintenance
	// pass merges them.
	spanning := allocator.UsableSize() - blockheap.HeaderSize - blockheap.DebugMargin
	_, ok := allocator.Allocate(spanning)
	require.False(t, ok)

	require.Equal(t, len(allocs), allocator.Coalesce())

	alloc, ok := allocator.Allocate(spanning)
	require.True(t, ok)

	require.NoError(t, allocator.FreeAllocation(alloc))
	require.NoError(t, allocator.Destroy())
}

func TestFreeRejectsForeignOffsets(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	require.ErrorIs(t, allocator.Free(0), blockheap.ErrNullOffset)
	require.ErrorIs(t, allocator.Free(33), blockheap.ErrMisalignedOffset)
	require.ErrorIs(t, allocator.Free(1<<20), blockheap.ErrOutOfRange)
	require.ErrorIs(t, allocator.FreeAllocation(nil), blockheap.ErrNullOffset)

	require.NoError(t, allocator.Destroy())
}

func TestDestroyReportsUnreleasedAllocations(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	alloc, ok := allocator.Allocate(100)
	require.True(t, ok)
	alloc.SetName("leaked block")
	alloc.SetUserData(42)

	require.Error(t, allocator.Destroy())

	// The heap survives a refused Destroy and can release and retry.
	require.NoError(t, allocator.FreeAllocation(alloc))
	require.NoError(t, allocator.Destroy())
	require.Error(t, allocator.Destroy())
}

func TestClearReleasesEverything(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	_, ok := allocator.Allocate(100)
	require.True(t, ok)
	_, ok = allocator.Allocate(200)
	require.True(t, ok)
	require.Equal(t, 2, allocator.AllocationCount())

	allocator.Clear()
	require.Zero(t, allocator.AllocationCount())

	var stats blockheap.DetailedStatistics
	stats.Clear()
	allocator.CalculateStatistics(&stats)
	require.Equal(t, stats.RegionBytes, stats.FreeBytes())

	require.NoError(t, allocator.Destroy())
}

func TestStatisticsTrackAllocations(t *testing.T) {
	allocator := newTestAllocator(t, 4096)

	a, ok := allocator.Allocate(24)
	require.True(t, ok)
	_, ok = allocator.Allocate(56)
	require.True(t, ok)

	var stats blockheap.DetailedStatistics
	stats.Clear()
	allocator.CalculateStatistics(&stats)

	require.Equal(t, 1, stats.RegionCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 4088, stats.RegionBytes)
	require.Equal(t, blockSizeFor(24)+blockSizeFor(56), stats.AllocationBytes)
	require.Equal(t, blockSizeFor(24), stats.AllocationSizeMin)
	require.Equal(t, blockSizeFor(56), stats.AllocationSizeMax)
	require.Equal(t, 1, stats.UnusedRangeCount)

	require.NoError(t, allocator.Free(a.Offset()))

	stats.Clear()
	allocator.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, 2, stats.UnusedRangeCount)

	allocator.Clear()
	require.NoError(t, allocator.Destroy())
}

func TestStatisticsMergeAcrossHeaps(t *testing.T) {
	small := newTestAllocator(t, 4096)
	large := newTestAllocator(t, 8192)

	_, ok := small.Allocate(24)
	require.True(t, ok)
	_, ok = large.Allocate(56)
	require.True(t, ok)
	_, ok = large.Allocate(100)
	require.True(t, ok)

	var smallStats, largeStats blockheap.DetailedStatistics
	smallStats.Clear()
	largeStats.Clear()
	small.CalculateStatistics(&smallStats)
	large.CalculateStatistics(&largeStats)

	var combined blockheap.DetailedStatistics
	combined.Clear()
	combined.AddDetailedStatistics(&smallStats)
	combined.AddDetailedStatistics(&largeStats)

	require.Equal(t, 2, combined.RegionCount)
	require.Equal(t, 3, combined.AllocationCount)
	require.Equal(t, smallStats.RegionBytes+largeStats.RegionBytes, combined.RegionBytes)
	require.Equal(t, blockSizeFor(24), combined.AllocationSizeMin)
	require.Equal(t, blockSizeFor(100), combined.AllocationSizeMax)
	require.Equal(t, 2, combined.UnusedRangeCount)

	// Summing the flat portions directly must agree with the detailed merge.
	flat := smallStats.Statistics
	flat.AddStatistics(&largeStats.Statistics)
	require.Equal(t, combined.Statistics, flat)

	small.Clear()
	large.Clear()
	require.NoError(t, small.Destroy())
	require.NoError(t, large.Destroy())
}
