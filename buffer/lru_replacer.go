package buffer

import (
	"sync"

	"github.com/samber/lo"

	"flstore/common"
)

var _ IReplacer = &LruReplacer{}

// LruReplacer keeps unpinned frames in the order they are unpinned and evicts the oldest one.
type LruReplacer struct {
	unpinned []int
	pinned   map[int]struct{}
	size     int
	lock     sync.Mutex
}

func NewLruReplacer(poolSize int) *LruReplacer {
	return &LruReplacer{
		unpinned: make([]int, 0, poolSize),
		pinned:   make(map[int]struct{}),
		size:     poolSize,
	}
}

func (l *LruReplacer) Pin(frameId int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if idx := lo.IndexOf(l.unpinned, frameId); idx >= 0 {
		l.unpinned = append(l.unpinned[:idx], l.unpinned[idx+1:]...)
	}
	l.pinned[frameId] = struct{}{}
}

func (l *LruReplacer) Unpin(frameId int) {
	l.lock.Lock()
	defer l.lock.Unlock()

	_, ok := l.pinned[frameId]
	common.Assert(ok, "unpinning frame %d which is not pinned", frameId)

	delete(l.pinned, frameId)
	l.unpinned = append(l.unpinned, frameId)
}

func (l *LruReplacer) ChooseVictim() (frameId int, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if len(l.unpinned) == 0 {
		return 0, ErrNoVictim
	}

	victim := l.unpinned[0]
	l.unpinned = l.unpinned[1:]
	return victim, nil
}

func (l *LruReplacer) GetSize() int {
	return l.size
}

func (l *LruReplacer) NumPinnedPages() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return len(l.pinned)
}
