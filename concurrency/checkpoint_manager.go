package concurrency

import (
	"sync"

	"go.uber.org/zap"

	"flstore/buffer"
	"flstore/disk/wal"
)

type CheckpointManager interface {
	// TakeCheckpoint flushes the log and all dirty pages without blocking mini-transactions.
	TakeCheckpoint() error
}

type CheckpointManagerImpl struct {
	pool       buffer.Pool
	logManager wal.LogManager
	logger     *zap.Logger
	lock       sync.Mutex
}

var _ CheckpointManager = &CheckpointManagerImpl{}

func NewCheckpointManager(pool buffer.Pool, logManager wal.LogManager, logger *zap.Logger) *CheckpointManagerImpl {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CheckpointManagerImpl{pool: pool, logManager: logManager, logger: logger}
}

func (c *CheckpointManagerImpl) TakeCheckpoint() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	lsn := c.logManager.GetCurrentLSN()

	// pool flushes the log before writing any page
	if err := c.pool.FlushAll(); err != nil {
		c.logger.Error("checkpoint failed", zap.Error(err))
		return err
	}

	c.logger.Info("checkpoint taken", zap.Uint64("lsn", uint64(lsn)))
	return nil
}
