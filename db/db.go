package db

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"flstore/buffer"
	"flstore/common"
	"flstore/concurrency"
	"flstore/config"
	"flstore/disk"
	"flstore/disk/wal"
	"flstore/freelist"
	"flstore/logging"
	"flstore/mtr"
)

const (
	defaultCheckpointInterval = time.Second * 10
)

var ErrClosed = errors.New("db is closed")

type DB struct {
	cfg     config.Config
	dm      *disk.Manager
	logFile *os.File
	lm      *wal.Manager
	pool    *buffer.BufferPool
	cm      concurrency.CheckpointManager
	fl      *freelist.List
	logger  *zap.Logger

	// mu guards closed
	mu     sync.RWMutex
	closed bool

	checkPointDone     chan bool
	checkPointStopped  chan bool
	checkpointInterval time.Duration
	recovered          concurrency.Result
}

type options struct {
	logger             *zap.Logger
	reg                prometheus.Registerer
	checkpointInterval time.Duration
}

type Option func(o *options)

// WithLogger overrides the logger built from the logging section of the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithCheckpointInterval sets the period of background checkpoints. Zero disables them.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *options) { o.checkpointInterval = d }
}

// Open opens the data file and the log of cfg, creating them when they do not exist. Log is replayed onto the data
// file before anything else happens, and whatever follows the last complete mini-transaction in the log is cut off.
func Open(cfg config.Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{checkpointInterval: defaultCheckpointInterval}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		l, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	dm, err := disk.NewDiskManager(cfg.DataFile, cfg.Fsync, logger)
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		_ = dm.Close()
		return nil, errors.Wrapf(err, "failed to open log file %s", cfg.LogFile)
	}

	d := &DB{
		cfg:                cfg,
		dm:                 dm,
		logFile:            logFile,
		fl:                 freelist.NewFreeList(),
		logger:             logger,
		checkpointInterval: o.checkpointInterval,
	}

	if err := d.open(o); err != nil {
		_ = logFile.Close()
		_ = dm.Close()
		return nil, err
	}

	if d.checkpointInterval > 0 {
		d.StartCheckpointRoutine()
	}

	return d, nil
}

func (d *DB) open(o options) error {
	res, err := d.recoverDB()
	if err != nil {
		return errors.Wrap(err, "failed to recover db")
	}
	d.recovered = res

	// appending resumes right after the last complete mini-transaction
	if err := d.logFile.Truncate(res.ValidLength); err != nil {
		return errors.WithStack(err)
	}
	if _, err := d.logFile.Seek(res.ValidLength, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}

	d.lm = wal.NewLogManager(d.logFile, res.LastLSN, d.logger, o.reg)
	d.lm.RunFlusher()

	replacer, err := buffer.NewReplacer(d.cfg.Replacer, d.cfg.PoolSize)
	if err != nil {
		_ = d.lm.StopFlusher()
		return err
	}

	d.pool = buffer.NewBufferPoolWithDM(d.cfg.PoolSize, d.dm, d.lm,
		buffer.WithReplacer(replacer),
		buffer.WithLogger(d.logger),
		buffer.WithRegisterer(o.reg))
	d.cm = concurrency.NewCheckpointManager(d.pool, d.lm, d.logger)

	if d.dm.NumPages() == 0 {
		if err := d.create(); err != nil {
			_ = d.lm.StopFlusher()
			return err
		}
	}

	return nil
}

// recoverDB replays the log through a pool of its own. Pages are written back before returning, so the page count
// of the data file covers every page the log has touched before anything is allocated.
func (d *DB) recoverDB() (concurrency.Result, error) {
	pool := buffer.NewBufferPoolWithDM(d.cfg.PoolSize, d.dm, wal.NoopLM, buffer.WithLogger(d.logger))

	it := wal.NewLogIter(bufio.NewReader(d.logFile), wal.NewBinarySerDe())
	res, err := concurrency.Recover(it, pool, d.logger)
	if err != nil {
		return res, err
	}

	if err := pool.FlushAll(); err != nil {
		return res, err
	}

	return res, nil
}

// create formats an empty data file with the header page holding an empty free list.
func (d *DB) create() error {
	m := mtr.Start(d.pool, d.lm)
	defer m.Rollback()

	header, err := m.NewPage()
	if err != nil {
		return err
	}
	common.Assert(header.GetPageId() == freelist.HeaderPageID, "header page is allocated as %d", header.GetPageId())

	if err := d.fl.Init(m); err != nil {
		return err
	}
	if err := m.Commit(); err != nil {
		return err
	}

	d.logger.Info("data file is formatted", zap.String("file", d.cfg.DataFile))
	return d.cm.TakeCheckpoint()
}

func (d *DB) StartCheckpointRoutine() {
	d.checkPointDone = make(chan bool)
	d.checkPointStopped = make(chan bool)

	go func() {
		for {
			tick := time.After(d.checkpointInterval)
			select {
			case <-tick:
				if err := d.cm.TakeCheckpoint(); err != nil {
					d.logger.Error("background checkpoint failed", zap.Error(err))
				}
			case <-d.checkPointDone:
				d.logger.Debug("stopped checkpoint routine")
				d.checkPointStopped <- true
				return
			}
		}
	}()
}

// Begin starts a mini-transaction on the store. It must be ended by Commit or Rollback before Close is called.
func (d *DB) Begin() (*mtr.Mtr, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}

	return mtr.Start(d.pool, d.lm), nil
}

// FreeList returns the list of free pages of the data file. Its operations take a mini-transaction started by Begin.
func (d *DB) FreeList() *freelist.List {
	return d.fl
}

func (d *DB) Pool() buffer.Pool {
	return d.pool
}

// Recovered returns the summary of the redo pass run by Open.
func (d *DB) Recovered() concurrency.Result {
	return d.recovered
}

// Checkpoint persists the log and every dirty page.
func (d *DB) Checkpoint() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	return d.cm.TakeCheckpoint()
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.closed = true

	if d.checkPointDone != nil {
		close(d.checkPointDone)
		<-d.checkPointStopped
	}

	// take one last checkpoint to flush all buffers
	if err := d.cm.TakeCheckpoint(); err != nil {
		return err
	}

	if err := d.lm.StopFlusher(); err != nil {
		return errors.Wrap(err, "failed to flush log")
	}

	if err := d.logFile.Sync(); err != nil {
		return errors.WithStack(err)
	}
	if err := d.logFile.Close(); err != nil {
		return errors.WithStack(err)
	}
	if err := d.dm.Close(); err != nil {
		return err
	}

	_ = d.logger.Sync()
	return nil
}
