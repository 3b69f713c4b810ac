package randutil

import (
	"math/rand"
	"time"
)

var _r = rand.New(rand.NewSource(time.Now().UnixNano()))

const hexChars = "0123456789abcdef"

// Hex returns a random hex string of length n.
func Hex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexChars[_r.Intn(len(hexChars))]
	}
	return string(b)
}

// Text returns a random lowercase alphabetic string of length n.
func Text(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + _r.Intn(26))
	}
	return string(b)
}

// Range returns a random integer in [start, stop).
func Range(start, stop int) int {
	return start + _r.Intn(stop-start)
}

// Duration returns a random duration in [0, d).
func Duration(d time.Duration) time.Duration {
	return time.Duration(_r.Int63n(int64(d)))
}
