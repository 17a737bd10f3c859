package fixedheap

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Allocation describes one live block handed out by an Allocator. The payload
// offset is the durable identity of the allocation- the Allocation value itself is
// a diagnostic convenience carrying the optional name and user data that appear in
// dumps and in the unreleased-memory report at Destroy.
type Allocation struct {
	offset      int
	blockSize   int
	payloadSize int

	name     string
	userData any
}

// Offset is the 8-byte-aligned payload offset within the heap region. Pass it to
// Allocator.Free to release the block.
func (a *Allocation) Offset() int { return a.offset }

// Size is the payload size requested by the caller.
func (a *Allocation) Size() int { return a.payloadSize }

// BlockSize is the full size of the underlying block: payload, header word, and
// rounding padding.
func (a *Allocation) BlockSize() int { return a.blockSize }

func (a *Allocation) Name() string { return a.name }

func (a *Allocation) SetName(name string) { a.name = name }

func (a *Allocation) UserData() any { return a.userData }

func (a *Allocation) SetUserData(userData any) { a.userData = userData }

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("PayloadOffset").Int(a.offset)
	json.Name("PayloadSize").Int(a.payloadSize)

	if a.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", a.userData))
	}

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}
