package pages

import (
	"sync"

	"flstore/common"
)

// PageSize is the size of every physical page in the data file.
const PageSize = 4096

/*
	Every page starts with a fixed header followed by the area structures like list base nodes and list nodes are
	placed in:

	------------------------------------------------------
	| PageLSN (8) | Checksum (8) | ... page body ...     |
	------------------------------------------------------

	PageLSN is the end lsn of the last mini-transaction that modified the page. Checksum is maintained by the disk
	manager and is only meaningful for the on-disk image.
*/
const (
	PageLSNOffset      = 0
	PageChecksumOffset = 8
	PageHeaderSize     = 16
)

// IPage is a wrapper for actual physical pages in the file system. It can provide the actual content of the
// physical page as a byte array. It also keeps some useful information about the page for buffer pool.
type IPage interface {
	GetData() []byte

	// GetPageId returns the page_id of the physical page.
	GetPageId() uint32
	GetPinCount() int
	GetPageLSN() LSN
	SetPageLSN(LSN)
	IsDirty() bool
	SetDirty()
	SetClean()
	WLatch()
	WUnlatch()
	RLatch()
	RUnLatch()
	TryRLatch() bool
	IncrPinCount()
	DecrPinCount()
}

var _ IPage = &RawPage{}

type RawPage struct {
	PageId   uint32
	isDirty  bool
	rwLatch  sync.RWMutex
	PinCount int
	Data     []byte
}

func NewRawPage(pageId uint32) *RawPage {
	return &RawPage{
		PageId:   pageId,
		isDirty:  false,
		rwLatch:  sync.RWMutex{},
		PinCount: 0,
		Data:     make([]byte, PageSize),
	}
}

func (p *RawPage) IncrPinCount() {
	p.PinCount++
}

func (p *RawPage) DecrPinCount() {
	p.PinCount--
}

// GetData returns the whole page including its header.
func (p *RawPage) GetData() []byte {
	return p.Data
}

// GetBody returns the part of the page after its header.
func (p *RawPage) GetBody() []byte {
	return p.Data[PageHeaderSize:]
}

func (p *RawPage) GetPageId() uint32 {
	return p.PageId
}

func (p *RawPage) GetPinCount() int {
	return p.PinCount
}

func (p *RawPage) GetPageLSN() LSN {
	return ReadLSN(p.Data[PageLSNOffset:])
}

func (p *RawPage) SetPageLSN(lsn LSN) {
	PutLSN(p.Data[PageLSNOffset:], lsn)
}

func (p *RawPage) IsDirty() bool {
	return p.isDirty
}

func (p *RawPage) SetDirty() {
	p.isDirty = true
}

func (p *RawPage) SetClean() {
	p.isDirty = false
}

// Clear zeroes page content and resets its dirty flag. It is used when a frame is reused for a brand-new page.
func (p *RawPage) Clear() {
	common.ZeroBytes(p.Data)
	p.isDirty = false
}

func (p *RawPage) WLatch() {
	p.rwLatch.Lock()
}

func (p *RawPage) WUnlatch() {
	p.rwLatch.Unlock()
}

func (p *RawPage) RLatch() {
	p.rwLatch.RLock()
}

func (p *RawPage) RUnLatch() {
	p.rwLatch.RUnlock()
}

func (p *RawPage) TryRLatch() bool {
	return p.rwLatch.TryRLock()
}

// CopyAt copies data into the page starting at offset.
func (p *RawPage) CopyAt(offset uint16, data []byte) {
	copy(p.Data[offset:], data)
}

// ReadAt returns a view of n bytes of the page starting at offset. Returned slice shares memory with the page.
func (p *RawPage) ReadAt(offset uint16, n int) []byte {
	return p.Data[offset : int(offset)+n]
}
