package store

import "reflect"

// identical is the default change detector. It follows reference semantics
// for reference types and value semantics for everything comparable:
//
//   - pointers, maps, channels: same referent means unchanged, so mutating
//     through a held pointer and calling Set with it again is invisible.
//     Build a fresh value to signal a change.
//   - slices: unchanged only when header (data pointer, length, capacity)
//     matches. Append may or may not move the backing array, so treat
//     slices you intend to observe as immutable and copy before changing.
//   - functions: unchanged only when both are nil. Distinct closures built
//     from one literal share a code pointer, so referent comparison cannot
//     tell them apart; non-nil funcs always count as changed.
//   - comparable values (numbers, strings, structs of comparable fields):
//     compared by ==.
//   - everything else cannot be compared and always counts as changed.
func identical[T any](prev, next T) bool {
	a := reflect.ValueOf(prev)
	b := reflect.ValueOf(next)

	// Nil interfaces have no reflect value at all.
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return false
	}

	switch a.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Slice:
		return a.Pointer() == b.Pointer() && a.Len() == b.Len() && a.Cap() == b.Cap()
	case reflect.Func:
		// Pointer() is a code pointer shared by every closure of a literal,
		// useless for identity. Only nil matches nil.
		return a.IsNil() && b.IsNil()
	}

	if a.Comparable() {
		return a.Equal(b)
	}
	return false
}
