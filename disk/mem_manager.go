package disk

import (
	"sync"

	"github.com/pkg/errors"

	"flstore/common"
	"flstore/disk/pages"
)

var _ IDiskManager = &MemManager{}

// MemManager keeps pages in memory. It behaves like Manager including checksums and is used in tests and for
// simulating crashes, since whatever is written to it survives dropping the buffer pool on top of it.
type MemManager struct {
	pages  map[uint32][]byte
	num    uint32
	closed bool
	mu     sync.Mutex
}

func NewMemManager() *MemManager {
	return &MemManager{pages: make(map[uint32][]byte)}
}

func (m *MemManager) ReadPage(pageId uint32, dest []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pages[pageId]
	if !ok {
		clear(dest[:pages.PageSize])
		return nil
	}

	copy(dest, p)
	return VerifyChecksum(pageId, dest)
}

func (m *MemManager) WritePage(data []byte, pageId uint32) error {
	if len(data) != pages.PageSize {
		return errors.Errorf("written bytes are not equal to page size: %d", len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("disk manager is closed")
	}

	data = common.Clone(data)
	StampChecksum(data)
	m.pages[pageId] = data
	if pageId >= m.num {
		m.num = pageId + 1
	}

	return nil
}

func (m *MemManager) NewPage() (pageId uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageId = m.num
	m.num++
	return pageId
}

func (m *MemManager) NumPages() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.num
}

func (m *MemManager) Sync() error {
	return nil
}

func (m *MemManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Corrupt flips a byte of the stored image of a page. It is only meant for tests.
func (m *MemManager) Corrupt(pageId uint32, offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pages[pageId]; ok {
		p[offset] ^= 0xFF
	}
}
