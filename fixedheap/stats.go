package fixedheap

import (
	"fmt"
	"io"

	"github.com/heapforge/blockheap"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString renders the heap's totals and full block list as a JSON
// document. The output is purely observational- nothing in the allocator depends
// on it, and its shape may change between versions.
func (a *Allocator) BuildStatsString() string {
	writer := jwriter.NewWriter()

	obj := writer.Object()

	var stats blockheap.DetailedStatistics
	stats.Clear()
	a.meta.AddDetailedStatistics(&stats)

	totalObj := obj.Name("Total").Object()
	totalObj.Name("UsableBytes").Int(stats.RegionBytes)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.Name("FreeBytes").Int(stats.FreeBytes())
	totalObj.Name("Allocations").Int(stats.AllocationCount)
	totalObj.Name("UnusedRanges").Int(stats.UnusedRangeCount)
	totalObj.End()

	regionObj := obj.Name("Region").Object()
	a.meta.BlockJsonData(&regionObj)
	a.printDetailedMapBlocks(&regionObj)
	regionObj.End()

	obj.End()

	return string(writer.Bytes())
}

func (a *Allocator) printDetailedMapBlocks(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = a.meta.VisitAllRegions(
		func(index, offset, size int, allocated, prevAllocated bool) error {
			blockObj := arrayState.Object()
			defer blockObj.End()

			blockObj.Name("Offset").Int(offset)
			blockObj.Name("Size").Int(size)

			if !allocated {
				blockObj.Name("Type").String("FREE")
				return nil
			}

			blockObj.Name("Type").String("ALLOCATED")
			alloc, ok := a.live.Get(offset + blockheap.HeaderSize)
			if ok {
				alloc.printParameters(&blockObj)
			}
			return nil
		})
}

// DumpBlocks writes a human-readable table of the block list to w: one row per
// block in address order with its status, its predecessor's status, and its
// boundaries, followed by used/free/total byte counts. Like BuildStatsString this
// is a diagnostic aid, not an interface.
func (a *Allocator) DumpBlocks(w io.Writer) {
	fmt.Fprintln(w, "*********************************** Block List **********************************")
	fmt.Fprintln(w, "No.\tStatus\tPrev\tBegin\t\tEnd\t\tSize")
	fmt.Fprintln(w, "---------------------------------------------------------------------------------")

	usedSize := 0
	freeSize := 0

	_ = a.meta.VisitAllRegions(
		func(index, offset, size int, allocated, prevAllocated bool) error {
			status := "FREE "
			if allocated {
				status = "alloc"
				usedSize += size
			} else {
				freeSize += size
			}

			prevStatus := "FREE "
			if prevAllocated {
				prevStatus = "alloc"
			}

			fmt.Fprintf(w, "%d\t%s\t%s\t0x%08x\t0x%08x\t%4d\n",
				index+1, status, prevStatus, offset, offset+size-1, size)
			return nil
		})

	fmt.Fprintln(w, "---------------------------------------------------------------------------------")
	fmt.Fprintf(w, "Total used size = %4d\n", usedSize)
	fmt.Fprintf(w, "Total free size = %4d\n", freeSize)
	fmt.Fprintf(w, "Total size      = %4d\n", usedSize+freeSize)
	fmt.Fprintln(w, "*********************************************************************************")
}
