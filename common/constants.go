package common

import "time"

const (
	// LogTimeout is the duration between each log flush operation. It is probably better to align this with disk's iops
	// rate as much as possible.
	LogTimeout = time.Millisecond * 3

	// LogBufferSize is the size of each of the two log buffers that are swapped by the log flusher.
	LogBufferSize = 1024 * 64

	// DefaultPoolSize is the number of frames in the buffer pool when nothing else is configured.
	DefaultPoolSize = 128
)
