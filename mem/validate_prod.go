//go:build !debug_mem_map

package mem

// DebugValidate calls Validate on the provided object and panics on any
// error. This method no-ops unless the debug_mem_map build tag is present.
func DebugValidate(validatable Validatable) {
}
