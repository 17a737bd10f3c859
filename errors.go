package blockheap

import cerrors "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = cerrors.New("number must be a power of two")

// ErrInvalidSize is returned when a requested heap or allocation size is not positive,
// or when an allocation request exceeds the usable size of the heap region.
var ErrInvalidSize = cerrors.New("requested size is not valid")

// ErrAlreadyInitialized is returned when a RegionProvider's single Acquire call is
// attempted more than once in a process lifetime.
var ErrAlreadyInitialized = cerrors.New("the backing region has already been acquired")

// ErrRegionAcquisition is returned when the RegionProvider fails to produce a backing buffer.
var ErrRegionAcquisition = cerrors.New("failed to acquire the backing region")

// ErrNullOffset is returned from Free when the zero (null) payload offset is passed.
var ErrNullOffset = cerrors.New("payload offset is null")

// ErrMisalignedOffset is returned from Free when the payload offset is not a multiple
// of the heap alignment.
var ErrMisalignedOffset = cerrors.New("payload offset is not 8-byte aligned")

// ErrOutOfRange is returned from Free when the payload offset lies outside the usable
// heap region.
var ErrOutOfRange = cerrors.New("payload offset is outside the heap region")

// ErrAlreadyFree is returned from Free when the block addressed by the payload offset
// is not currently allocated. This is the double-free guard.
var ErrAlreadyFree = cerrors.New("block is already free")
