package pages

import "encoding/binary"

// LSN is the log sequence number of a log record. It is monotonically increasing and the lsn of a mini-transaction's
// commit record is stamped on every page it modified.
type LSN uint64

const ZeroLSN LSN = 0

func PutLSN(dest []byte, r LSN) {
	binary.BigEndian.PutUint64(dest, uint64(r))
}

func ReadLSN(src []byte) LSN {
	return LSN(binary.BigEndian.Uint64(src))
}
