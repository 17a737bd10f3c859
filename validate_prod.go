//go:build !debug_block_heap

package blockheap

const (
	// DebugMargin is the number of bytes of debug data that should be placed between the
	// payload of each allocated block and the header of the block that follows it
	DebugMargin int = 0
)

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present.
// It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_block_heap build tag is present.
func ValidateMagicValue(data []byte, offset int) bool {
	return true
}

// WriteMagicValue writes an easy-to-identify marker across DebugMargin bytes of the
// provided arena, starting at the provided offset.
// This method no-ops unless the debug_block_heap build tag is present.
func WriteMagicValue(data []byte, offset int) {
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_block_heap build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_block_heap build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}
