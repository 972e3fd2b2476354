package buffer

import (
	"math/rand"
	"sync"
	"time"
)

var _ IReplacer = &RandomReplacer{}

type RandomReplacer struct {
	pinned map[int]struct{}
	size   int
	rnd    *rand.Rand
	lock   sync.Mutex
}

func NewRandomReplacer(poolSize int) *RandomReplacer {
	return &RandomReplacer{
		pinned: make(map[int]struct{}),
		size:   poolSize,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RandomReplacer) Pin(frameId int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.pinned[frameId] = struct{}{}
}

func (r *RandomReplacer) Unpin(frameId int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.pinned, frameId)
}

func (r *RandomReplacer) ChooseVictim() (frameId int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, frameIdx := range r.rnd.Perm(r.size) {
		if _, ok := r.pinned[frameIdx]; ok {
			continue
		}
		return frameIdx, nil
	}

	return 0, ErrNoVictim
}

func (r *RandomReplacer) GetSize() int {
	return r.size
}

func (r *RandomReplacer) NumPinnedPages() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.pinned)
}
