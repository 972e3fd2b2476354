package buffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"flstore/disk"
	"flstore/disk/pages"
	"flstore/disk/wal"
)

var ErrPageNotFoundInPageMap = errors.New("page cannot be found in the page map")
var ErrRLockFailed = errors.New("RLock cannot be acquired on page")

const flushRetries = 1000

type Pool interface {
	// GetPage returns the page pinned. Every GetPage must be followed by an Unpin.
	GetPage(pageId uint32) (*pages.RawPage, error)
	Unpin(pageId uint32, isDirty bool) bool

	// NewPage extends the data file by one page and returns it pinned with zeroed content.
	NewPage() (*pages.RawPage, error)

	// FlushPage writes the page to disk if it is dirty. It honours the write ahead rule.
	FlushPage(pageId uint32) error
	FlushAll() error

	// EmptyFrameSize returns the number empty frames which does not hold data of any physical page
	EmptyFrameSize() int
}

type frame struct {
	page *pages.RawPage
}

var _ Pool = &BufferPool{}

// BufferPool caches pages of the data file in a fixed number of frames. It has one lock for its whole state and
// does io while holding it.
type BufferPool struct {
	poolSize    int
	frames      []*frame
	pageMap     map[uint32]int // physical page_id => frame index which keeps that page
	emptyFrames []int          // list of indexes that points to empty frames in the pool
	Replacer    IReplacer
	DiskManager disk.IDiskManager
	lock        sync.Mutex
	logManager  wal.LogManager

	logger  *zap.Logger
	metrics *metrics
}

type Option func(*BufferPool)

func WithReplacer(r IReplacer) Option {
	return func(b *BufferPool) { b.Replacer = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *BufferPool) { b.logger = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *BufferPool) { b.metrics = newMetrics(reg) }
}

func NewBufferPoolWithDM(poolSize int, dm disk.IDiskManager, logManager wal.LogManager, opts ...Option) *BufferPool {
	emptyFrames := make([]int, poolSize)
	for i := 0; i < poolSize; i++ {
		emptyFrames[i] = i
	}

	if logManager == nil {
		logManager = wal.NoopLM
	}

	bp := &BufferPool{
		poolSize:    poolSize,
		frames:      make([]*frame, poolSize),
		pageMap:     map[uint32]int{},
		emptyFrames: emptyFrames,
		DiskManager: dm,
		logManager:  logManager,
	}
	for _, opt := range opts {
		opt(bp)
	}

	if bp.Replacer == nil {
		bp.Replacer = NewClockReplacer(poolSize)
	}
	if bp.logger == nil {
		bp.logger = zap.NewNop()
	}
	if bp.metrics == nil {
		bp.metrics = newMetrics(nil)
	}

	return bp
}

func (b *BufferPool) GetPage(pageId uint32) (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if frameIdx, ok := b.pageMap[pageId]; ok {
		b.metrics.hits.Inc()
		b.pin(frameIdx)
		return b.frames[frameIdx].page, nil
	}

	b.metrics.misses.Inc()
	frameIdx, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	p := b.frames[frameIdx].page
	p.PageId = pageId
	if err := b.DiskManager.ReadPage(pageId, p.GetData()); err != nil {
		b.releaseFrame(frameIdx)
		return nil, errors.Wrapf(err, "reading page %d", pageId)
	}
	p.SetClean()

	b.pageMap[pageId] = frameIdx
	b.pin(frameIdx)
	return p, nil
}

func (b *BufferPool) NewPage() (*pages.RawPage, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, err := b.acquireFrame()
	if err != nil {
		return nil, err
	}

	newPageId := b.DiskManager.NewPage()

	p := b.frames[frameIdx].page
	p.Clear()
	p.PageId = newPageId
	p.SetDirty()

	b.pageMap[newPageId] = frameIdx
	b.pin(frameIdx)
	return p, nil
}

// pin increments page's pin count and pins the frame that keeps the page to avoid it being chosen as victim
func (b *BufferPool) pin(frameIdx int) {
	b.frames[frameIdx].page.IncrPinCount()
	b.Replacer.Pin(frameIdx)
}

func (b *BufferPool) Unpin(pageId uint32, isDirty bool) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		panic(fmt.Sprintf("unpinned a page which does not exist: %v", pageId))
	}

	frame := b.frames[frameIdx]
	if isDirty {
		frame.page.SetDirty()
	}

	if frame.page.GetPinCount() <= 0 {
		panic(fmt.Sprintf("buffer.Unpin is called while pin count is lte zero. PageId: %v, pin count %v", pageId, frame.page.GetPinCount()))
	}

	// decrease pin count and if it is 0 unpin frame in the replacer so that new pages can be read
	frame.page.DecrPinCount()
	if frame.page.GetPinCount() == 0 {
		b.Replacer.Unpin(frameIdx)
		return true
	}

	return false
}

// FlushPage tries to take a read latch on page and syncs its content to disk. If it fails to latch the page it
// returns ErrRLockFailed. If page is not dirty directly returns.
func (b *BufferPool) FlushPage(pageId uint32) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	frameIdx, ok := b.pageMap[pageId]
	if !ok {
		return ErrPageNotFoundInPageMap
	}

	p := b.frames[frameIdx].page
	if !p.TryRLatch() {
		return ErrRLockFailed
	}
	defer p.RUnLatch()

	return b.writeBack(p)
}

// FlushAll determines all dirty pages at the time of call and syncs all of them to disk. It blocks until all
// determined dirty pages are synced.
func (b *BufferPool) FlushAll() error {
	if err := b.logManager.Flush(); err != nil {
		return err
	}

	// take a list of all pages in the page map at the time of calling.
	b.lock.Lock()
	pooledPages := make([]uint32, 0, len(b.pageMap))
	for pid := range b.pageMap {
		pooledPages = append(pooledPages, pid)
	}
	b.lock.Unlock()

	for _, pid := range pooledPages {
		if err := b.flushWithRetry(pid); err != nil {
			return err
		}
	}

	return errors.Wrap(b.DiskManager.Sync(), "syncing data file")
}

func (b *BufferPool) flushWithRetry(pid uint32) error {
	for i := 0; i < flushRetries; i++ {
		err := b.FlushPage(pid)
		switch {
		case err == nil, errors.Is(err, ErrPageNotFoundInPageMap):
			// if it is not in page map, it is already evicted and synced hence we can continue.
			return nil
		case errors.Is(err, ErrRLockFailed):
			time.Sleep(time.Microsecond * 50)
		default:
			return err
		}
	}

	return errors.Wrapf(ErrRLockFailed, "page %d stayed latched", pid)
}

func (b *BufferPool) EmptyFrameSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.emptyFrames)
}

// acquireFrame returns an empty frame, evicting a victim when there is none. Must be called with lock held.
func (b *BufferPool) acquireFrame() (int, error) {
	if len(b.emptyFrames) > 0 {
		idx := b.emptyFrames[0]
		b.emptyFrames = b.emptyFrames[1:]
		if b.frames[idx] == nil {
			b.frames[idx] = &frame{pages.NewRawPage(0)}
		}
		return idx, nil
	}

	victimIdx, err := b.Replacer.ChooseVictim()
	if err != nil {
		return 0, errors.Wrap(err, "buffer pool is full")
	}

	victim := b.frames[victimIdx].page
	if victim.GetPinCount() != 0 {
		panic(fmt.Sprintf("a page is chosen as victim while it's pin count is not zero. pin count: %v, page_id: %v", victim.GetPinCount(), victim.GetPageId()))
	}

	// keep the frame away from the replacer until the caller pins it
	b.Replacer.Pin(victimIdx)
	if err := b.writeBack(victim); err != nil {
		b.Replacer.Unpin(victimIdx)
		return 0, err
	}

	b.logger.Debug("evicted page", zap.Uint32("page", victim.GetPageId()), zap.Int("frame", victimIdx))
	b.metrics.evictions.Inc()
	delete(b.pageMap, victim.GetPageId())
	return victimIdx, nil
}

// releaseFrame gives back a frame taken by acquireFrame that could not be filled.
func (b *BufferPool) releaseFrame(idx int) {
	b.Replacer.Pin(idx)
	b.emptyFrames = append(b.emptyFrames, idx)
}

// writeBack writes a dirty page to disk after making sure its log records are persisted.
func (b *BufferPool) writeBack(p *pages.RawPage) error {
	if !p.IsDirty() {
		return nil
	}

	// if log records for the page are not flushed, force flush log manager.
	if p.GetPageLSN() > b.logManager.GetFlushedLSN() {
		b.metrics.logForces.Inc()
		if err := b.logManager.Flush(); err != nil {
			return errors.Wrap(err, "forcing log before page write")
		}
	}

	if err := b.DiskManager.WritePage(p.GetData(), p.GetPageId()); err != nil {
		return errors.Wrapf(err, "writing page %d", p.GetPageId())
	}

	b.metrics.flushes.Inc()
	p.SetClean()
	return nil
}
