package concurrency

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"flstore/buffer"
	"flstore/disk/pages"
	"flstore/disk/wal"
)

var ErrCorruptLog = errors.New("log is corrupted")

// Result summarizes a redo pass.
type Result struct {
	// Applied is the number of mini-transactions that changed at least one page.
	Applied int
	// Skipped is the number of complete mini-transactions whose pages were already up-to-date.
	Skipped int
	// Discarded is the number of mini-transactions without a commit marker.
	Discarded int
	// LastLSN is the lsn of the last complete mini-transaction. New records continue after it.
	LastLSN pages.LSN
	// ValidLength is the length of the log prefix ending with the last complete mini-transaction. Anything after
	// it must be truncated before the log is appended to again.
	ValidLength int64
	// TornTail is set when the log ends with a frame that is cut or fails its checksum.
	TornTail bool
}

// Recovery replays the redo log onto the pages of the data file.
type Recovery struct {
	pool   buffer.Pool
	logger *zap.Logger
}

func NewRecovery(pool buffer.Pool, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Recovery{pool: pool, logger: logger}
}

// Recover replays it onto pool. Only mini-transactions that are terminated by their commit marker are applied and
// they are applied in log order. A page is changed by a mini-transaction only if its lsn is older than the commit
// lsn of that mini-transaction, so running recovery more than once has the same effect as running it once.
func Recover(it wal.LogIterator, pool buffer.Pool, logger *zap.Logger) (Result, error) {
	return NewRecovery(pool, logger).Recover(it)
}

func (r *Recovery) Recover(it wal.LogIterator) (Result, error) {
	res := Result{}
	pending := make([]*wal.LogRecord, 0)

	discard := func(reason string) {
		if len(pending) == 0 {
			return
		}

		r.logger.Warn("discarding incomplete mini-transaction",
			zap.Uint64("mtr", pending[0].MtrID),
			zap.Int("records", len(pending)),
			zap.String("reason", reason))
		res.Discarded++
		pending = pending[:0]
	}

	for {
		lr, err := it.Next()
		if errors.Is(err, wal.ErrIteratorAtLast) {
			break
		}
		if errors.Is(err, wal.ErrShortRead) || errors.Is(err, wal.ErrCorruptRecord) {
			r.logger.Warn("log ends with a torn record", zap.Int64("offset", it.Offset()), zap.Error(err))
			res.TornTail = true
			break
		}
		if err != nil {
			return res, errors.Wrap(err, "reading log")
		}

		switch lr.T {
		case wal.TypeWrite:
			if len(pending) > 0 && pending[0].MtrID != lr.MtrID {
				discard("interleaved by another mini-transaction")
			}
			pending = append(pending, lr)

		case wal.TypeMtrCommit:
			if (len(pending) > 0 && pending[0].MtrID != lr.MtrID) || int(lr.NumRecords) != len(pending) {
				discard("commit marker does not match its records")
				continue
			}

			applied, err := r.redo(pending, lr.Lsn)
			if err != nil {
				return res, err
			}
			if applied {
				res.Applied++
			} else {
				res.Skipped++
			}

			res.LastLSN = lr.Lsn
			res.ValidLength = it.Offset()
			pending = pending[:0]

		default:
			return res, errors.Wrapf(ErrCorruptLog, "unknown record type %v at lsn %d", lr.T, lr.Lsn)
		}
	}

	discard("log ended before its commit marker")

	r.logger.Info("recovery finished",
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("discarded", res.Discarded),
		zap.Uint64("last_lsn", uint64(res.LastLSN)),
		zap.Bool("torn_tail", res.TornTail))

	return res, nil
}

// redo applies writes of one mini-transaction. Every page it touches is pinned until the whole group is applied so
// that the lsn comparison is made once per page against its state before the group.
func (r *Recovery) redo(records []*wal.LogRecord, commitLSN pages.LSN) (bool, error) {
	type target struct {
		page  *pages.RawPage
		apply bool
	}

	held := make(map[uint32]*target)
	order := make([]uint32, 0)
	release := func() {
		for _, pid := range order {
			t := held[pid]
			if t.apply {
				t.page.SetPageLSN(commitLSN)
			}
			r.pool.Unpin(pid, t.apply)
		}
	}

	for _, lr := range records {
		if int(lr.Offset) < pages.PageHeaderSize || int(lr.Offset)+len(lr.Payload) > pages.PageSize {
			release()
			return false, errors.Wrapf(ErrCorruptLog, "write of %d bytes at %d:%d", len(lr.Payload), lr.PageID, lr.Offset)
		}

		t, ok := held[lr.PageID]
		if !ok {
			p, err := r.pool.GetPage(lr.PageID)
			if err != nil {
				release()
				return false, errors.Wrapf(err, "redo lsn %d", lr.Lsn)
			}

			t = &target{page: p, apply: p.GetPageLSN() < commitLSN}
			held[lr.PageID] = t
			order = append(order, lr.PageID)
		}

		if t.apply {
			t.page.CopyAt(lr.Offset, lr.Payload)
		}
	}

	applied := false
	for _, t := range held {
		applied = applied || t.apply
	}

	release()
	return applied, nil
}
