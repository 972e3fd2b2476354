package common

import "fmt"

// Assert panics with the formatted message when cond is false. It is used for invariants whose violation means
// in-memory state can no longer be trusted.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Clone returns a copy of src that does not share memory with it.
func Clone[T any](src []T) []T {
	if src == nil {
		return nil
	}

	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
