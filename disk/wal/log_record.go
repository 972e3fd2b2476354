package wal

import (
	"flstore/disk/pages"
)

type LogRecordType uint8

const (
	TypeInvalid LogRecordType = iota

	// TypeWrite is a physical redo record: Payload is written to PageID at Offset.
	TypeWrite

	// TypeMtrCommit terminates the records of a mini-transaction. Only groups ending with a commit record are
	// replayed during recovery.
	TypeMtrCommit
)

func (t LogRecordType) String() string {
	switch t {
	case TypeWrite:
		return "write"
	case TypeMtrCommit:
		return "mtr_commit"
	default:
		return "invalid"
	}
}

type LogRecord struct {
	T     LogRecordType
	Lsn   pages.LSN
	MtrID uint64

	// for write
	PageID  uint32
	Offset  uint16
	Payload []byte

	// for commit, number of write records in the group
	NumRecords uint32
}

func (l *LogRecord) Type() LogRecordType {
	return l.T
}

func NewWriteLogRecord(pageID uint32, offset uint16, payload []byte) *LogRecord {
	return &LogRecord{T: TypeWrite, PageID: pageID, Offset: offset, Payload: payload}
}

func NewMtrCommitLogRecord(mtrID uint64, numRecords int) *LogRecord {
	return &LogRecord{T: TypeMtrCommit, MtrID: mtrID, NumRecords: uint32(numRecords)}
}
