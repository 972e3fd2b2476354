package wal

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"flstore/common"
	"flstore/disk/pages"
)

var ErrShortWrite = errors.New("short write")

type LogWriter interface {
	Write(d []byte, lsn pages.LSN) (int, error)
}

type syncer interface {
	Sync() error
}

// GroupWriter buffers log frames in memory and writes them to the underlying writer in groups. It uses two buffers,
// while one of them is being flushed the other one keeps accepting writes.
type GroupWriter struct {
	buf         []byte
	offset      int
	latestInBuf pages.LSN

	flushBuf         []byte
	flushOffset      int
	latestInFlushBuf pages.LSN

	latestFlushed atomic.Uint64

	// mut is held from a swap until the swapped buffer is flushed, so there is at most one flush in flight.
	mut    sync.Mutex
	bufMut sync.Mutex
	w      io.Writer

	flusherDone chan bool
	errChan     chan error
	lastErr     atomic.Pointer[error]

	logger  *zap.Logger
	metrics *metrics
}

func NewGroupWriter(size int, w io.Writer, logger *zap.Logger, m *metrics) *GroupWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = newMetrics(nil)
	}

	return &GroupWriter{
		buf:      make([]byte, size),
		flushBuf: make([]byte, size),
		errChan:  make(chan error),
		w:        w,
		logger:   logger,
		metrics:  m,
	}
}

func (w *GroupWriter) Write(d []byte, lsn pages.LSN) (int, error) {
	if err := w.Err(); err != nil {
		return 0, err
	}

	w.bufMut.Lock()
	size := len(d)
	if size <= w.Available() {
		copy(w.buf[w.offset:], d)
		w.offset += size
		w.latestInBuf = lsn
		w.bufMut.Unlock()
		return size, nil
	}

	acc := 0
	for {
		n := copy(w.buf[w.offset:], d[acc:])
		w.offset += n
		acc += n

		if size <= acc {
			w.latestInBuf = lsn
			break
		}
		w.bufMut.Unlock()
		w.swap()
		w.bufMut.Lock()
	}

	w.bufMut.Unlock()
	return size, nil
}

// Available returns size of available space in current buffer in bytes.
func (w *GroupWriter) Available() int {
	return len(w.buf) - w.offset
}

// LatestFlushed returns the lsn of the last record known to be persisted.
func (w *GroupWriter) LatestFlushed() pages.LSN {
	return pages.LSN(w.latestFlushed.Load())
}

// Err returns the first flush error. Once a flush fails nothing more is written.
func (w *GroupWriter) Err() error {
	if p := w.lastErr.Load(); p != nil {
		return *p
	}

	return nil
}

func (w *GroupWriter) RunFlusher() {
	w.mut.Lock()
	defer w.mut.Unlock()

	common.Assert(w.flusherDone == nil, "flusher was already running")

	w.flusherDone = make(chan bool)
	done := w.flusherDone

	go func() {
		ticker := time.NewTicker(common.LogTimeout)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				w.logger.Debug("log flusher stopping")
				w.errChan <- w.SwapAndWaitFlush()
				return
			case <-ticker.C:
				w.swap()
			}
		}
	}()
}

func (w *GroupWriter) StopFlusher() error {
	w.mut.Lock()
	common.Assert(w.flusherDone != nil, "flusher is already stopped")
	done := w.flusherDone
	w.flusherDone = nil
	w.mut.Unlock()

	done <- true
	return <-w.errChan
}

func (w *GroupWriter) swap() {
	w.mut.Lock()
	w.bufMut.Lock()

	if w.offset == 0 {
		w.bufMut.Unlock()
		w.mut.Unlock()
		return
	}

	w.swapBuffers()
	w.bufMut.Unlock()

	go func() {
		defer w.mut.Unlock()
		if err := w.flush(); err != nil {
			w.logger.Error("wal group writer flush failed", zap.Error(err))
		}
	}()
}

// swapBuffers must be called while holding both mut and bufMut.
func (w *GroupWriter) swapBuffers() {
	w.buf, w.flushBuf = w.flushBuf, w.buf
	w.flushOffset = w.offset
	w.latestInFlushBuf = w.latestInBuf
	w.offset = 0
}

func (w *GroupWriter) flush() error {
	if err := w.Err(); err != nil {
		return err
	}
	if w.flushOffset == 0 {
		return nil
	}

	w.metrics.flushSize.Observe(float64(w.flushOffset))
	n, err := w.w.Write(w.flushBuf[:w.flushOffset])
	if err == nil && n != w.flushOffset {
		err = ErrShortWrite
	}
	if err == nil {
		if s, ok := w.w.(syncer); ok {
			err = s.Sync()
		}
	}
	if err != nil {
		err = errors.Wrap(err, "log flush failed")
		w.lastErr.CompareAndSwap(nil, &err)
		w.metrics.flushErrs.Inc()
		return err
	}

	w.latestFlushed.Store(uint64(w.latestInFlushBuf))
	w.flushOffset = 0
	return nil
}

// SwapAndWaitFlush flushes everything written so far and returns after it is persisted.
func (w *GroupWriter) SwapAndWaitFlush() error {
	w.mut.Lock()
	defer w.mut.Unlock()

	w.bufMut.Lock()
	w.swapBuffers()
	w.bufMut.Unlock()

	return w.flush()
}
