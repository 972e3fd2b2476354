package wal

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"flstore/common"
	"flstore/disk/pages"
)

// LogManager is the redo log as seen by mini-transactions and the buffer pool.
type LogManager interface {
	// AppendMtr appends records of a mini-transaction followed by its commit marker as one contiguous group. Lsn
	// of each record is assigned here. Returned lsn is the lsn of the commit marker, which is the end lsn of the
	// group and the lsn modified pages are stamped with. AppendMtr does not wait for the group to be persisted.
	AppendMtr(mtrID uint64, records []*LogRecord) (pages.LSN, error)

	// Flush persists everything appended so far.
	Flush() error

	// GetFlushedLSN returns latest lsn persisted to disk.
	GetFlushedLSN() pages.LSN

	// GetCurrentLSN returns latest lsn assigned to a record.
	GetCurrentLSN() pages.LSN
}

type Manager struct {
	serializer LogRecordSerDe

	currLsn pages.LSN

	// bufM serializes appends so that records of a group are never interleaved with another group.
	bufM sync.Mutex

	gw      *GroupWriter
	logger  *zap.Logger
	metrics *metrics
}

var _ LogManager = &Manager{}

// NewLogManager creates a log manager appending to w. startLSN is the last lsn already present in the log, lsn
// assignment continues after it.
func NewLogManager(w io.Writer, startLSN pages.LSN, logger *zap.Logger, reg prometheus.Registerer) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := newMetrics(reg)
	return &Manager{
		serializer: NewBinarySerDe(),
		currLsn:    startLSN,
		gw:         NewGroupWriter(common.LogBufferSize, w, logger, m),
		logger:     logger,
		metrics:    m,
	}
}

func (l *Manager) AppendMtr(mtrID uint64, records []*LogRecord) (pages.LSN, error) {
	l.bufM.Lock()
	defer l.bufM.Unlock()

	if err := l.gw.Err(); err != nil {
		return pages.ZeroLSN, err
	}

	commit := NewMtrCommitLogRecord(mtrID, len(records))
	group := make([]*LogRecord, 0, len(records)+1)
	group = append(append(group, records...), commit)
	for _, lr := range group {
		l.currLsn++
		lr.Lsn = l.currLsn
		lr.MtrID = mtrID

		frame := l.serializer.Serialize(lr)
		n, err := l.gw.Write(frame, lr.Lsn)
		if err != nil {
			return pages.ZeroLSN, errors.Wrapf(err, "appending mtr %d", mtrID)
		}
		l.metrics.bytes.Add(float64(n))
	}

	l.metrics.records.Add(float64(len(records) + 1))
	l.metrics.mtrs.Inc()
	return commit.Lsn, nil
}

func (l *Manager) RunFlusher() {
	l.gw.RunFlusher()
}

func (l *Manager) StopFlusher() error {
	return l.gw.StopFlusher()
}

// Flush is an atomic operation that swaps logBuf and flushBuf followed by a flush of flushBuf.
func (l *Manager) Flush() error {
	l.bufM.Lock()
	defer l.bufM.Unlock()

	return l.gw.SwapAndWaitFlush()
}

func (l *Manager) GetFlushedLSN() pages.LSN {
	return l.gw.LatestFlushed()
}

func (l *Manager) GetCurrentLSN() pages.LSN {
	l.bufM.Lock()
	defer l.bufM.Unlock()

	return l.currLsn
}
