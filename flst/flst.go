// Package flst implements file-based doubly linked lists. Nodes of a list are 12 byte slots embedded in records
// that live in pages of the data file, and they reference each other by file address instead of memory pointers.
// A list is anchored by a 16 byte base node which keeps its length and both ends.
//
// Every function operates on locations already resolved by the caller's mini-transaction and writes only through
// it, so a mutation becomes durable as part of that mini-transaction or not at all. Preconditions, like a node not
// being in another list or a correct count passed to CutEnd, are not checked; Validate is there to find out when
// they were violated.
package flst

import (
	"github.com/pkg/errors"

	"flstore/disk/pages"
	"flstore/fil"
)

// ErrCorrupted is returned when the list structure contradicts itself in a way a mutation depends on, or when
// Check finds a broken relation. A mini-transaction that got this error must be rolled back.
var ErrCorrupted = errors.New("file list is corrupted")

// Mtr is the part of a mini-transaction lists use. Get resolves an address on a page pinned and exclusively
// latched by the mini-transaction. Write is a logged write. Traversals additionally use Peek when the
// mini-transaction has it, see Walk.
type Mtr interface {
	Get(addr fil.Addr) (fil.Ptr, error)
	Write(dst fil.Ptr, data []byte) error
}

// resolve returns the node at addr, reusing near when it lives on the same page.
func resolve(m Mtr, near fil.Ptr, addr fil.Addr) (fil.Ptr, error) {
	if !isNodeAddr(addr) {
		return fil.Ptr{}, errors.Wrapf(ErrCorrupted, "node address %v is outside of a page body", addr)
	}

	if p, ok := near.At(addr); ok {
		return p, nil
	}

	p, err := m.Get(addr)
	if err != nil {
		return fil.Ptr{}, errors.WithStack(err)
	}

	return p, nil
}

// peeker is implemented by mini-transactions that can read a page and give it back before they finish.
type peeker interface {
	Peek(addr fil.Addr) (fil.Ptr, func(), error)
}

// look resolves addr for reading only. release must be called once node is no longer used. When m is a peeker,
// pages that m did not hold before are given back on release, so traversals do not accumulate pages.
func look(m Mtr, near fil.Ptr, addr fil.Addr) (node fil.Ptr, release func(), err error) {
	pk, ok := m.(peeker)
	if !ok {
		node, err := resolve(m, near, addr)
		return node, func() {}, err
	}

	if !isNodeAddr(addr) {
		return fil.Ptr{}, nil, errors.Wrapf(ErrCorrupted, "node address %v is outside of a page body", addr)
	}
	if p, ok := near.At(addr); ok {
		return p, func() {}, nil
	}

	node, release, err = pk.Peek(addr)
	if err != nil {
		return fil.Ptr{}, nil, errors.WithStack(err)
	}

	return node, release, nil
}

func isNodeAddr(a fil.Addr) bool {
	return !a.IsNull() && a.Offset >= pages.PageHeaderSize && int(a.Offset)+NodeSize <= pages.PageSize
}

// AddLast adds node as the last node of the list.
func AddLast(m Mtr, base, node fil.Ptr) error {
	if GetLen(base) == 0 {
		return addToEmpty(m, base, node)
	}

	lastAddr := GetLast(base)
	if lastAddr.IsNull() {
		return errors.Wrapf(ErrCorrupted, "list at %v has length %d but no last node", base.Addr(), GetLen(base))
	}

	last, err := resolve(m, node, lastAddr)
	if err != nil {
		return err
	}

	return InsertAfter(m, base, last, node)
}

// AddFirst adds node as the first node of the list.
func AddFirst(m Mtr, base, node fil.Ptr) error {
	if GetLen(base) == 0 {
		return addToEmpty(m, base, node)
	}

	firstAddr := GetFirst(base)
	if firstAddr.IsNull() {
		return errors.Wrapf(ErrCorrupted, "list at %v has length %d but no first node", base.Addr(), GetLen(base))
	}

	first, err := resolve(m, node, firstAddr)
	if err != nil {
		return err
	}

	return InsertBefore(m, base, node, first)
}

func addToEmpty(m Mtr, base, node fil.Ptr) error {
	nodeAddr := node.Addr()

	if err := WriteAddr(m, base.Add(baseFirst), nodeAddr); err != nil {
		return err
	}
	if err := WriteAddr(m, base.Add(baseLast), nodeAddr); err != nil {
		return err
	}
	if err := WriteAddr(m, node.Add(nodePrev), fil.Null); err != nil {
		return err
	}
	if err := WriteAddr(m, node.Add(nodeNext), fil.Null); err != nil {
		return err
	}

	return writeLen(m, base, 1)
}

// InsertAfter inserts node2 right after node1, which must be in the list.
func InsertAfter(m Mtr, base, node1, node2 fil.Ptr) error {
	node1Addr := node1.Addr()
	node2Addr := node2.Addr()
	next0 := GetNextAddr(node1)

	if err := WriteAddr(m, node2.Add(nodePrev), node1Addr); err != nil {
		return err
	}
	if err := WriteAddr(m, node2.Add(nodeNext), next0); err != nil {
		return err
	}

	if next0.IsNull() {
		if err := WriteAddr(m, base.Add(baseLast), node2Addr); err != nil {
			return err
		}
	} else {
		node3, err := resolve(m, node2, next0)
		if err != nil {
			return err
		}
		if err := WriteAddr(m, node3.Add(nodePrev), node2Addr); err != nil {
			return err
		}
	}

	if err := WriteAddr(m, node1.Add(nodeNext), node2Addr); err != nil {
		return err
	}

	return writeLen(m, base, GetLen(base)+1)
}

// InsertBefore inserts node2 right before node3, which must be in the list.
func InsertBefore(m Mtr, base, node2, node3 fil.Ptr) error {
	node2Addr := node2.Addr()
	node3Addr := node3.Addr()
	prev0 := GetPrevAddr(node3)

	if err := WriteAddr(m, node2.Add(nodePrev), prev0); err != nil {
		return err
	}
	if err := WriteAddr(m, node2.Add(nodeNext), node3Addr); err != nil {
		return err
	}

	if prev0.IsNull() {
		if err := WriteAddr(m, base.Add(baseFirst), node2Addr); err != nil {
			return err
		}
	} else {
		node1, err := resolve(m, node2, prev0)
		if err != nil {
			return err
		}
		if err := WriteAddr(m, node1.Add(nodeNext), node2Addr); err != nil {
			return err
		}
	}

	if err := WriteAddr(m, node3.Add(nodePrev), node2Addr); err != nil {
		return err
	}

	return writeLen(m, base, GetLen(base)+1)
}

// Remove unlinks node2 from the list. Fields of node2 are left as they are.
func Remove(m Mtr, base, node2 fil.Ptr) error {
	length := GetLen(base)
	if length == 0 {
		return errors.Wrapf(ErrCorrupted, "removing %v from empty list at %v", node2.Addr(), base.Addr())
	}

	prev0 := GetPrevAddr(node2)
	next0 := GetNextAddr(node2)

	if prev0.IsNull() {
		if err := WriteAddr(m, base.Add(baseFirst), next0); err != nil {
			return err
		}
	} else {
		node1, err := resolve(m, node2, prev0)
		if err != nil {
			return err
		}
		if err := WriteAddr(m, node1.Add(nodeNext), next0); err != nil {
			return err
		}
	}

	if next0.IsNull() {
		if err := WriteAddr(m, base.Add(baseLast), prev0); err != nil {
			return err
		}
	} else {
		node3, err := resolve(m, node2, next0)
		if err != nil {
			return err
		}
		if err := WriteAddr(m, node3.Add(nodePrev), prev0); err != nil {
			return err
		}
	}

	return writeLen(m, base, length-1)
}

// CutEnd cuts off the tail of the list starting with node2. n is the number of nodes removed, node2 included. It
// must be at least 1 and is trusted; it is not verified by walking the tail. Fields of removed nodes are left as
// they are.
func CutEnd(m Mtr, base, node2 fil.Ptr, n uint32) error {
	length := GetLen(base)
	if n > length {
		return errors.Wrapf(ErrCorrupted, "cutting %d nodes from list at %v of length %d", n, base.Addr(), length)
	}

	newLast := GetPrevAddr(node2)
	if newLast.IsNull() {
		if err := WriteAddr(m, base.Add(baseFirst), fil.Null); err != nil {
			return err
		}
	} else {
		node1, err := resolve(m, node2, newLast)
		if err != nil {
			return err
		}
		if err := WriteAddr(m, node1.Add(nodeNext), fil.Null); err != nil {
			return err
		}
	}

	if err := WriteAddr(m, base.Add(baseLast), newLast); err != nil {
		return err
	}

	return writeLen(m, base, length-n)
}

// TruncateEnd cuts off the tail of the list after node2, which becomes the last node. n is the number of nodes
// removed and is trusted like in CutEnd. Truncating zero nodes does nothing.
func TruncateEnd(m Mtr, base, node2 fil.Ptr, n uint32) error {
	if n == 0 {
		return nil
	}

	length := GetLen(base)
	if n >= length {
		return errors.Wrapf(ErrCorrupted, "truncating %d nodes from list at %v of length %d", n, base.Addr(), length)
	}

	if err := WriteAddr(m, node2.Add(nodeNext), fil.Null); err != nil {
		return err
	}
	if err := WriteAddr(m, base.Add(baseLast), node2.Addr()); err != nil {
		return err
	}

	return writeLen(m, base, length-n)
}
