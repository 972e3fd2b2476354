package wal

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"flstore/disk/pages"
)

var ErrShortRead = errors.New("short read")
var ErrCorruptRecord = errors.New("corrupt log record")

/*
	Every record is written as a frame:

	-------------------------------------------------
	| body len (4) | xxhash64 of body (8) | body ... |
	-------------------------------------------------

	body is the snappy compressed uvarint encoding of the record.
*/
const (
	frameHeaderSize = 4 + 8
	maxFrameBody    = 1 << 20
)

type LogRecordSerDe interface {
	Serialize(lr *LogRecord) []byte

	// Deserialize reads one frame from src. It returns io.EOF if src is exhausted at a frame boundary,
	// ErrShortRead if a frame is cut and ErrCorruptRecord if a frame fails its checksum. Returned int is the
	// number of bytes consumed from src.
	Deserialize(src io.Reader) (*LogRecord, int, error)
}

type BinarySerDe struct{}

var _ LogRecordSerDe = &BinarySerDe{}

func NewBinarySerDe() *BinarySerDe {
	return &BinarySerDe{}
}

func (b *BinarySerDe) Serialize(lr *LogRecord) []byte {
	res := make([]byte, 0, 32+len(lr.Payload))
	res = append(res, byte(lr.T))
	res = binary.AppendUvarint(res, uint64(lr.Lsn))
	res = binary.AppendUvarint(res, lr.MtrID)
	res = binary.AppendUvarint(res, uint64(lr.PageID))
	res = binary.AppendUvarint(res, uint64(lr.Offset))
	res = binary.AppendUvarint(res, uint64(lr.NumRecords))
	res = binary.AppendUvarint(res, uint64(len(lr.Payload)))
	res = append(res, lr.Payload...)

	body := snappy.Encode(nil, res)

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	binary.BigEndian.PutUint64(frame[4:], xxhash.Sum64(body))
	return append(frame, body...)
}

func (b *BinarySerDe) Deserialize(src io.Reader) (*LogRecord, int, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(src, header)
	if err == io.EOF {
		return nil, 0, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		return nil, n, ErrShortRead
	}
	if err != nil {
		return nil, n, errors.WithStack(err)
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > maxFrameBody {
		return nil, n, ErrCorruptRecord
	}

	body := make([]byte, size)
	m, err := io.ReadFull(src, body)
	n += m
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, n, ErrShortRead
	}
	if err != nil {
		return nil, n, errors.WithStack(err)
	}

	if xxhash.Sum64(body) != binary.BigEndian.Uint64(header[4:]) {
		return nil, n, ErrCorruptRecord
	}

	lr, err := decodeBody(body)
	if err != nil {
		return nil, n, err
	}

	return lr, n, nil
}

func decodeBody(body []byte) (*LogRecord, error) {
	data, err := snappy.Decode(nil, body)
	if err != nil || len(data) == 0 {
		return nil, ErrCorruptRecord
	}

	offset := 1
	var bad bool
	uvarint := func() uint64 {
		if bad {
			return 0
		}
		res, n := binary.Uvarint(data[offset:])
		if n <= 0 {
			bad = true
			return 0
		}
		offset += n

		return res
	}

	lr := &LogRecord{T: LogRecordType(data[0])}
	lr.Lsn = pages.LSN(uvarint())
	lr.MtrID = uvarint()
	lr.PageID = uint32(uvarint())
	lr.Offset = uint16(uvarint())
	lr.NumRecords = uint32(uvarint())

	payloadLen := uvarint()
	if bad || uint64(len(data)-offset) != payloadLen {
		return nil, ErrCorruptRecord
	}
	if lr.T != TypeWrite && lr.T != TypeMtrCommit {
		return nil, ErrCorruptRecord
	}

	if payloadLen > 0 {
		lr.Payload = data[offset : offset+int(payloadLen)]
	}

	return lr, nil
}
