package blockheap

import (
	cerrors "github.com/cockroachdb/errors"
)

// HeaderSize is the number of bytes occupied by a block header word. Free block
// footers occupy the same number of bytes at the tail of their block.
const HeaderSize = 8

// Alignment is the required alignment, in bytes, of every block size and every
// payload offset handed out by the heap.
const Alignment uint = 8

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}
