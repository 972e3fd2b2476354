package fil

import (
	"flstore/disk/pages"
)

// Ptr is a resolved location inside a page that is pinned by the enclosing mini-transaction. It is only valid until
// that mini-transaction commits or rolls back.
type Ptr struct {
	Page   *pages.RawPage
	Offset uint16
}

// Addr resolves the location back to its file address.
func (p Ptr) Addr() Addr {
	return Addr{Page: p.Page.GetPageId(), Offset: p.Offset}
}

// Add returns the location n bytes after p in the same page.
func (p Ptr) Add(n uint16) Ptr {
	return Ptr{Page: p.Page, Offset: p.Offset + n}
}

// Bytes returns a view of n bytes starting at p. Modifications through the returned slice are not logged, so it
// must only be used for reading.
func (p Ptr) Bytes(n int) []byte {
	return p.Page.ReadAt(p.Offset, n)
}

// At returns the location of addr if it lives in the same page as p. It is used to avoid going through the buffer
// pool for neighbours that share a page.
func (p Ptr) At(addr Addr) (Ptr, bool) {
	if addr.IsNull() || addr.Page != p.Page.GetPageId() {
		return Ptr{}, false
	}

	return Ptr{Page: p.Page, Offset: addr.Offset}, true
}
