package wal

import (
	"io"

	"github.com/pkg/errors"
)

var ErrIteratorAtLast = errors.New("iterator is at the last record")

// LogIterator is used to move around a log file.
type LogIterator interface {
	// Next returns the next record. ErrIteratorAtLast is returned when log ends at a frame boundary,
	// ErrShortRead or ErrCorruptRecord when it ends with a torn frame.
	Next() (*LogRecord, error)

	// Offset returns length of the log prefix that consists of complete frames read so far.
	Offset() int64
}

// logIter is a LogIterator implementation that iterates on each log in wal without any magic.
type logIter struct {
	reader     io.Reader
	serializer LogRecordSerDe
	offset     int64
	err        error
}

var _ LogIterator = &logIter{}

func NewLogIter(reader io.Reader, serializer LogRecordSerDe) LogIterator {
	return &logIter{reader: reader, serializer: serializer}
}

func (l *logIter) Next() (*LogRecord, error) {
	if l.err != nil {
		return nil, l.err
	}

	rec, n, err := l.serializer.Deserialize(l.reader)
	if err != nil {
		if err == io.EOF {
			err = ErrIteratorAtLast
		}

		// nothing after a torn frame is trusted
		l.err = err
		return nil, err
	}

	l.offset += int64(n)
	return rec, nil
}

func (l *logIter) Offset() int64 {
	return l.offset
}

func NextToType(it LogIterator, t LogRecordType) (*LogRecord, error) {
	for {
		lr, err := it.Next()
		if err != nil {
			return nil, err
		}

		if lr.T == t {
			return lr, nil
		}
	}
}
