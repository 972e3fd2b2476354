package flst

import (
	"encoding/binary"

	"flstore/fil"
)

/*
	Base node layout:

	-----------------------------------------------
	| length (4) | first addr (6) | last addr (6) |
	-----------------------------------------------

	List node layout:

	-----------------------------------
	| prev addr (6) | next addr (6) |
	-----------------------------------
*/
const (
	BaseNodeSize = 4 + 2*fil.AddrSize
	NodeSize     = 2 * fil.AddrSize

	baseLen   = 0
	baseFirst = 4
	baseLast  = baseFirst + fil.AddrSize

	nodePrev = 0
	nodeNext = fil.AddrSize
)

// WriteAddr writes addr at loc through the mini-transaction.
func WriteAddr(m Mtr, loc fil.Ptr, addr fil.Addr) error {
	return m.Write(loc, fil.AddrBytes(addr))
}

// ReadAddr reads the address stored at loc.
func ReadAddr(loc fil.Ptr) fil.Addr {
	return fil.DecodeAddr(loc.Bytes(fil.AddrSize))
}

// Init initializes an empty list at base.
func Init(m Mtr, base fil.Ptr) error {
	b := make([]byte, BaseNodeSize)
	fil.EncodeAddr(b[baseFirst:], fil.Null)
	fil.EncodeAddr(b[baseLast:], fil.Null)

	return m.Write(base, b)
}

func GetLen(base fil.Ptr) uint32 {
	return binary.BigEndian.Uint32(base.Bytes(4))
}

func GetFirst(base fil.Ptr) fil.Addr {
	return ReadAddr(base.Add(baseFirst))
}

func GetLast(base fil.Ptr) fil.Addr {
	return ReadAddr(base.Add(baseLast))
}

func GetPrevAddr(node fil.Ptr) fil.Addr {
	return ReadAddr(node.Add(nodePrev))
}

func GetNextAddr(node fil.Ptr) fil.Addr {
	return ReadAddr(node.Add(nodeNext))
}

func writeLen(m Mtr, base fil.Ptr, length uint32) error {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, length)

	return m.Write(base.Add(baseLen), b)
}
