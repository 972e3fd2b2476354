// Package mtr implements mini-transactions. A mini-transaction pins and latches the pages it touches, applies
// writes to them in place and turns the writes into one atomic group of redo records when it commits.
//
// A mini-transaction is used by a single goroutine. It holds every latch it acquires until it finishes, so pages
// are released in reverse acquisition order at commit or rollback. Peek is the exception: a page it brings in is
// given back as soon as the caller is done reading it. Typical usage is:
//
//	m := mtr.Start(pool, lm)
//	defer m.Rollback()
//	... m.Get / m.Write ...
//	return m.Commit()
package mtr

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"flstore/buffer"
	"flstore/common"
	"flstore/disk/pages"
	"flstore/disk/wal"
	"flstore/fil"
)

var ErrNotActive = errors.New("mini-transaction is not active")
var ErrOutOfPage = errors.New("location is outside of the page body")
var ErrNotLatched = errors.New("page is not latched by the mini-transaction")
var ErrNotXLatched = errors.New("page is not exclusively latched by the mini-transaction")
var ErrNullAddress = errors.New("null address cannot be resolved")

type latchMode uint8

const (
	latchShared latchMode = iota
	latchExclusive
)

type state uint8

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

// memoSlot is a page held by the mini-transaction.
type memoSlot struct {
	page     *pages.RawPage
	mode     latchMode
	modified bool
}

type undoEntry struct {
	page   *pages.RawPage
	offset uint16
	before []byte
}

var idCounter atomic.Uint64

type Mtr struct {
	id    uint64
	pool  buffer.Pool
	lm    wal.LogManager
	state state

	memo   []*memoSlot
	byPage map[uint32]*memoSlot

	records []*wal.LogRecord
	undo    []undoEntry
}

func Start(pool buffer.Pool, lm wal.LogManager) *Mtr {
	if lm == nil {
		lm = wal.NoopLM
	}

	return &Mtr{
		id:     idCounter.Add(1),
		pool:   pool,
		lm:     lm,
		byPage: make(map[uint32]*memoSlot),
	}
}

func (m *Mtr) ID() uint64 {
	return m.id
}

// NumRecords returns the number of writes buffered so far.
func (m *Mtr) NumRecords() int {
	return len(m.records)
}

// Get resolves addr to a location in its page, pinning and exclusively latching the page the first time it is
// requested.
func (m *Mtr) Get(addr fil.Addr) (fil.Ptr, error) {
	return m.get(addr, latchExclusive)
}

// GetShared is like Get but takes a shared latch. Pages obtained this way cannot be written.
func (m *Mtr) GetShared(addr fil.Addr) (fil.Ptr, error) {
	return m.get(addr, latchShared)
}

func (m *Mtr) get(addr fil.Addr, mode latchMode) (fil.Ptr, error) {
	if m.state != stateActive {
		return fil.Ptr{}, ErrNotActive
	}
	if addr.IsNull() {
		return fil.Ptr{}, ErrNullAddress
	}
	if addr.Offset < pages.PageHeaderSize || int(addr.Offset) >= pages.PageSize {
		return fil.Ptr{}, errors.Wrapf(ErrOutOfPage, "address %v", addr)
	}

	p, err := m.GetPage(addr.Page, mode == latchExclusive)
	if err != nil {
		return fil.Ptr{}, err
	}

	return fil.Ptr{Page: p, Offset: addr.Offset}, nil
}

// Peek returns addr for reading. When the page is already held, the held page is returned and release does nothing.
// Otherwise the page is share latched and release unlatches and unpins it, so a traversal holds one page at a time
// however many pages it visits. ptr must not be used after release.
func (m *Mtr) Peek(addr fil.Addr) (ptr fil.Ptr, release func(), err error) {
	if m.state != stateActive {
		return fil.Ptr{}, nil, ErrNotActive
	}

	if slot, ok := m.byPage[addr.Page]; ok {
		ptr, err := m.get(addr, slot.mode)
		return ptr, func() {}, err
	}

	ptr, err = m.get(addr, latchShared)
	if err != nil {
		return fil.Ptr{}, nil, err
	}

	slot := m.byPage[addr.Page]
	return ptr, func() { m.drop(slot) }, nil
}

// drop releases a single page read through Peek.
func (m *Mtr) drop(slot *memoSlot) {
	if m.state != stateActive || m.byPage[slot.page.GetPageId()] != slot {
		return
	}
	common.Assert(slot.mode == latchShared && !slot.modified, "peeked page %d is written", slot.page.GetPageId())

	pageID := slot.page.GetPageId()
	slot.page.RUnLatch()
	m.pool.Unpin(pageID, false)

	delete(m.byPage, pageID)
	m.memo = lo.Without(m.memo, slot)
}

// GetPage returns the whole page, latched exclusively when exclusive is set and shared otherwise.
func (m *Mtr) GetPage(pageID uint32, exclusive bool) (*pages.RawPage, error) {
	if m.state != stateActive {
		return nil, ErrNotActive
	}

	mode := lo.Ternary(exclusive, latchExclusive, latchShared)
	if slot, ok := m.byPage[pageID]; ok {
		// upgrading would deadlock against our own shared latch
		if mode == latchExclusive && slot.mode == latchShared {
			return nil, errors.Wrapf(ErrNotXLatched, "page %d is already share latched", pageID)
		}

		return slot.page, nil
	}

	p, err := m.pool.GetPage(pageID)
	if err != nil {
		return nil, errors.Wrapf(err, "mtr %d", m.id)
	}

	if mode == latchExclusive {
		p.WLatch()
	} else {
		p.RLatch()
	}

	m.push(&memoSlot{page: p, mode: mode})
	return p, nil
}

// NewPage extends the data file and returns the new page exclusively latched. Its content is zeroes.
func (m *Mtr) NewPage() (*pages.RawPage, error) {
	if m.state != stateActive {
		return nil, ErrNotActive
	}

	p, err := m.pool.NewPage()
	if err != nil {
		return nil, errors.Wrapf(err, "mtr %d", m.id)
	}

	p.WLatch()
	m.push(&memoSlot{page: p, mode: latchExclusive})
	return p, nil
}

func (m *Mtr) push(slot *memoSlot) {
	m.memo = append(m.memo, slot)
	m.byPage[slot.page.GetPageId()] = slot
}

// Write copies data to dst and buffers a redo record for it.
func (m *Mtr) Write(dst fil.Ptr, data []byte) error {
	if m.state != stateActive {
		return ErrNotActive
	}
	if dst.Page == nil {
		return ErrNotLatched
	}

	pageID := dst.Page.GetPageId()
	slot, ok := m.byPage[pageID]
	if !ok || slot.page != dst.Page {
		return errors.Wrapf(ErrNotLatched, "page %d", pageID)
	}
	if slot.mode != latchExclusive {
		return errors.Wrapf(ErrNotXLatched, "page %d", pageID)
	}
	if dst.Offset < pages.PageHeaderSize || int(dst.Offset)+len(data) > pages.PageSize {
		return errors.Wrapf(ErrOutOfPage, "writing %d bytes at %v", len(data), dst.Addr())
	}

	m.undo = append(m.undo, undoEntry{
		page:   dst.Page,
		offset: dst.Offset,
		before: common.Clone(dst.Page.ReadAt(dst.Offset, len(data))),
	})
	dst.Page.CopyAt(dst.Offset, data)
	m.records = append(m.records, wal.NewWriteLogRecord(pageID, dst.Offset, common.Clone(data)))
	slot.modified = true

	return nil
}

// Commit appends buffered writes to the log as one group, stamps modified pages with the lsn of the group and
// releases all pages. If the log rejects the group the mini-transaction is rolled back and the error is returned.
func (m *Mtr) Commit() error {
	if m.state != stateActive {
		return ErrNotActive
	}

	if len(m.records) > 0 {
		lsn, err := m.lm.AppendMtr(m.id, m.records)
		if err != nil {
			m.Rollback()
			return errors.Wrapf(err, "committing mtr %d", m.id)
		}

		for _, slot := range m.memo {
			if slot.modified {
				slot.page.SetPageLSN(lsn)
			}
		}
	}

	m.release()
	m.state = stateCommitted
	return nil
}

// Rollback restores before images of every write and releases all pages. Nothing reaches the log. Calling it on a
// finished mini-transaction does nothing.
func (m *Mtr) Rollback() {
	if m.state != stateActive {
		return
	}

	for _, u := range lo.Reverse(m.undo) {
		u.page.CopyAt(u.offset, u.before)
	}
	for _, slot := range m.memo {
		slot.modified = false
	}

	m.release()
	m.state = stateRolledBack
}

func (m *Mtr) release() {
	for i := len(m.memo) - 1; i >= 0; i-- {
		slot := m.memo[i]
		pageID := slot.page.GetPageId()
		if slot.mode == latchExclusive {
			slot.page.WUnlatch()
		} else {
			slot.page.RUnLatch()
		}
		m.pool.Unpin(pageID, slot.modified)
	}

	m.memo = nil
	m.byPage = nil
	m.records = nil
	m.undo = nil
}
