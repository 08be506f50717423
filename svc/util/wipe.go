package util

import "runtime"

// Wipe zeroes secret material in place once it is no longer needed.
// The KeepAlive stops the compiler from eliding the writes when b is
// about to become unreachable.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
