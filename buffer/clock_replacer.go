package buffer

import (
	"sync"

	"flstore/common"
)

const (
	PinnedBit       uint8 = 1 << 7
	SecondChanceBit uint8 = 1 << 6
)

type counter struct {
	bits uint8
}

var _ IReplacer = &ClockReplacer{}

// ClockReplacer approximates lru with a single reference bit per frame. A frame that is accessed gets a second
// chance and is skipped once by the clock hand.
type ClockReplacer struct {
	frames         []counter
	victimIterator int
	lock           sync.Mutex
}

func NewClockReplacer(size int) *ClockReplacer {
	return &ClockReplacer{
		frames: make([]counter, size),
	}
}

func (c *ClockReplacer) Pin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.frames[frameId].bits |= PinnedBit | SecondChanceBit
}

func (c *ClockReplacer) Unpin(frameId int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	common.Assert(c.frames[frameId].bits&PinnedBit != 0, "unpinning frame %d which is not pinned", frameId)
	c.frames[frameId].bits &^= PinnedBit
}

func (c *ClockReplacer) ChooseVictim() (frameId int, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	size := len(c.frames)

	// two full turns are enough: first one clears reference bits, second one must find a victim if there is any.
	for i := 0; i < 2*size; i++ {
		curr := c.victimIterator
		c.victimIterator = (c.victimIterator + 1) % size

		f := &c.frames[curr]
		if f.bits&PinnedBit != 0 {
			continue
		}
		if f.bits&SecondChanceBit != 0 {
			f.bits &^= SecondChanceBit
			continue
		}

		return curr, nil
	}

	return 0, ErrNoVictim
}

func (c *ClockReplacer) GetSize() int {
	return len(c.frames)
}

func (c *ClockReplacer) NumPinnedPages() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	i := 0
	for _, frame := range c.frames {
		if frame.bits&PinnedBit > 0 {
			i++
		}
	}

	return i
}
