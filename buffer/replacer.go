package buffer

import (
	"github.com/pkg/errors"
)

var ErrNoVictim = errors.New("nothing is unpinned")

// IReplacer decides which frame is reused when the pool is full. Frames are identified by their index in the pool.
// Only frames that are unpinned can be chosen as victims.
type IReplacer interface {
	Pin(frameId int)
	Unpin(frameId int)
	ChooseVictim() (frameId int, err error)
	GetSize() int
	NumPinnedPages() int
}

const (
	ReplacerClock  = "clock"
	ReplacerLRU    = "lru"
	ReplacerRandom = "random"
)

// NewReplacer creates a replacer by its name.
func NewReplacer(kind string, size int) (IReplacer, error) {
	switch kind {
	case ReplacerClock, "":
		return NewClockReplacer(size), nil
	case ReplacerLRU:
		return NewLruReplacer(size), nil
	case ReplacerRandom:
		return NewRandomReplacer(size), nil
	default:
		return nil, errors.Errorf("unknown replacer %q", kind)
	}
}
