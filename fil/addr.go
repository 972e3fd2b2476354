// Package fil defines file addresses, the on-disk analogue of pointers. A file address names a byte position inside
// a page of the data file and is the only way structures living in different pages reference each other.
package fil

import (
	"encoding/binary"
	"fmt"
)

const (
	// AddrSize is the size of an encoded address: 4 bytes page number followed by 2 bytes offset.
	AddrSize = 6

	// NullPage is the page number reserved for the null address.
	NullPage = uint32(0xFFFFFFFF)
)

// Null is the null address. Offset of a null address is meaningless.
var Null = Addr{Page: NullPage, Offset: 0}

// Addr is a (page, offset) pair identifying a byte position in the data file.
type Addr struct {
	Page   uint32
	Offset uint16
}

func (a Addr) IsNull() bool {
	return a.Page == NullPage
}

// Equal reports whether a and b point to the same place. All null addresses are equal regardless of their offsets.
func (a Addr) Equal(b Addr) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}

	return a == b
}

func (a Addr) String() string {
	if a.IsNull() {
		return "null"
	}

	return fmt.Sprintf("%d:%d", a.Page, a.Offset)
}

// EncodeAddr writes a into the first AddrSize bytes of dst.
func EncodeAddr(dst []byte, a Addr) {
	binary.BigEndian.PutUint32(dst, a.Page)
	binary.BigEndian.PutUint16(dst[4:], a.Offset)
}

// DecodeAddr reads an address from the first AddrSize bytes of src.
func DecodeAddr(src []byte) Addr {
	return Addr{
		Page:   binary.BigEndian.Uint32(src),
		Offset: binary.BigEndian.Uint16(src[4:]),
	}
}

// AddrBytes returns encoded form of a.
func AddrBytes(a Addr) []byte {
	b := make([]byte, AddrSize)
	EncodeAddr(b, a)
	return b
}
