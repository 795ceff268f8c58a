// Package util holds small generic slice helpers.
package util

// Map applies a transformation function to each element of a slice and returns a new slice
// with the transformed values.
//
// Type Parameters:
//   - A: The type of elements in the input slice
//   - B: The type of elements in the output slice
//
// Parameters:
//   - coll: The input slice to transform
//   - mapper: Function that transforms each element and receives the element's index
//
// Returns:
//   - []B: A new slice containing the transformed elements
func Map[A any, B any](coll []A, mapper func(item A, index int) B) []B {
	out := make([]B, len(coll))
	for i, item := range coll {
		out[i] = mapper(item, i)
	}
	return out
}

// Find returns the first element in a slice that satisfies the provided criteria function.
// The second return value is false when no element matches.
func Find[A any](coll []A, criteria func(item A) bool) (A, bool) {
	for _, item := range coll {
		if criteria(item) {
			return item, true
		}
	}
	var zero A
	return zero, false
}
