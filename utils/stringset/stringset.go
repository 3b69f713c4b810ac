// Package stringset implements a string set as a bare map, so make, range
// and len keep working on it.
package stringset

// Set holds unique strings.
type Set map[string]struct{}

// FromSlice builds a Set from xs.
func FromSlice(xs []string) Set {
	s := make(Set, len(xs))
	for _, x := range xs {
		s.Add(x)
	}
	return s
}

// Add adds x to s.
func (s Set) Add(x string) {
	s[x] = struct{}{}
}

// Has returns whether x is in s.
func (s Set) Has(x string) bool {
	_, ok := s[x]
	return ok
}
