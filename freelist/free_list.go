package freelist

import (
	"github.com/pkg/errors"

	"flstore/common"
	"flstore/disk/pages"
	"flstore/fil"
	"flstore/flst"
)

const (
	HeaderPageID = uint32(0)
)

/*
	Free pages are threaded through a file based list. The base node of the list lives in the header page and every
	free page carries its list node right after its page header:

	header page: | page header | base node (16) | ...
	free page:   | page header | list node (12) | stale content ...

	Every operation runs inside the caller's mini-transaction, so taking a page from the list and writing to it
	commit together or not at all. The header page is latched exclusively by the first operation of a
	mini-transaction, which serializes free list operations.
*/

// BaseAddr is the location of the free list base node.
var BaseAddr = fil.Addr{Page: HeaderPageID, Offset: pages.PageHeaderSize}

// Mtr is what free list operations need from a mini-transaction. Peek keeps traversals of a long free list from
// pinning every page in it.
type Mtr interface {
	flst.Mtr
	NewPage() (*pages.RawPage, error)
	Peek(addr fil.Addr) (fil.Ptr, func(), error)
}

type FreeList interface {
	Init(m Mtr) error
	Add(m Mtr, pageId uint32) error
	Pop(m Mtr) (pageId uint32, ok bool, err error)
	Alloc(m Mtr) (*pages.RawPage, error)
	Len(m Mtr) (uint32, error)
	IsIn(m Mtr, pageId uint32) (bool, error)
	Trim(m Mtr, n uint32) ([]uint32, error)
}

var _ FreeList = &List{}

type List struct {
	base fil.Addr
}

func NewFreeList() *List {
	return &List{base: BaseAddr}
}

func nodeAddr(pageId uint32) fil.Addr {
	return fil.Addr{Page: pageId, Offset: pages.PageHeaderSize}
}

func (f *List) getBase(m Mtr) (fil.Ptr, error) {
	base, err := m.Get(f.base)
	if err != nil {
		return fil.Ptr{}, errors.Wrap(err, "free list header")
	}

	return base, nil
}

// Init creates an empty free list. It is called once when the data file is created.
func (f *List) Init(m Mtr) error {
	base, err := f.getBase(m)
	if err != nil {
		return err
	}

	return flst.Init(m, base)
}

// Add appends page to the free list. Content of the page other than its list node is left as it is.
func (f *List) Add(m Mtr, pageId uint32) error {
	common.Assert(pageId != f.base.Page, "free list header page is freed")

	base, err := f.getBase(m)
	if err != nil {
		return err
	}

	node, err := m.Get(nodeAddr(pageId))
	if err != nil {
		return err
	}

	return flst.AddLast(m, base, node)
}

// Pop removes the page freed earliest from the list. ok is false when the list is empty.
func (f *List) Pop(m Mtr) (pageId uint32, ok bool, err error) {
	base, err := f.getBase(m)
	if err != nil {
		return 0, false, err
	}

	if flst.GetLen(base) == 0 {
		return 0, false, nil
	}

	node, err := m.Get(flst.GetFirst(base))
	if err != nil {
		return 0, false, err
	}

	if err := flst.Remove(m, base, node); err != nil {
		return 0, false, err
	}

	return node.Addr().Page, true, nil
}

// Alloc returns a page for reuse, popping it from the free list or extending the data file when the list is empty.
// Returned page is exclusively latched by m.
func (f *List) Alloc(m Mtr) (*pages.RawPage, error) {
	pageId, ok, err := f.Pop(m)
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.NewPage()
	}

	p, err := m.Get(nodeAddr(pageId))
	if err != nil {
		return nil, err
	}

	return p.Page, nil
}

func (f *List) Len(m Mtr) (uint32, error) {
	base, err := f.getBase(m)
	if err != nil {
		return 0, err
	}

	return flst.GetLen(base), nil
}

func (f *List) IsIn(m Mtr, pageId uint32) (bool, error) {
	base, err := f.getBase(m)
	if err != nil {
		return false, err
	}

	found := errors.New("found")
	err = flst.Walk(m, base, func(node fil.Ptr) error {
		if node.Addr().Page == pageId {
			return found
		}
		return nil
	})
	if err == found {
		return true, nil
	}

	return false, err
}

// Trim removes the n most recently freed pages from the list and returns their ids, so that they can be given back
// to the file system. Trimming more pages than the list has trims all of it.
func (f *List) Trim(m Mtr, n uint32) ([]uint32, error) {
	base, err := f.getBase(m)
	if err != nil {
		return nil, err
	}

	length := flst.GetLen(base)
	n = min(n, length)
	if n == 0 {
		return nil, nil
	}

	// walk back from the last node to the first node to be cut, holding one page at a time
	trimmed := make([]uint32, 0, n)
	addr := flst.GetLast(base)
	for {
		trimmed = append(trimmed, addr.Page)
		if uint32(len(trimmed)) == n {
			break
		}

		node, release, err := m.Peek(addr)
		if err != nil {
			return nil, err
		}
		addr = flst.GetPrevAddr(node)
		release()
	}

	node, err := m.Get(addr)
	if err != nil {
		return nil, err
	}

	if err := flst.CutEnd(m, base, node, n); err != nil {
		return nil, err
	}

	return trimmed, nil
}

// Validate checks the structure of the free list.
func (f *List) Validate(m Mtr) (bool, error) {
	base, err := f.getBase(m)
	if err != nil {
		return false, err
	}

	return flst.Validate(m, base)
}
