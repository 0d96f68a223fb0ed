// Package load provides the synthetic CPU-bound work unit.
package load

// sink receives every observed value so the compiler cannot prove the
// work loop has no effect.
var sink uint64

// Observe passes v through an opaque boundary. It must stay out of line:
// an inlined call would let the compiler fold the loop in Spin away.
//
//go:noinline
func Observe(v uint64) {
	sink ^= v
}

// Func performs n iterations of work.
type Func func(n uint64)

// Spin performs n iterations, each one observed.
func Spin(n uint64) {
	for i := uint64(0); i < n; i++ {
		Observe(i)
	}
}
