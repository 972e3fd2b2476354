package wal

import (
	"sync/atomic"

	"flstore/disk/pages"
)

// NoopLM assigns lsns but does not persist anything. Every lsn it hands out counts as flushed.
var NoopLM = &noopLM{}

type noopLM struct {
	lsn atomic.Uint64
}

func (n *noopLM) AppendMtr(_ uint64, records []*LogRecord) (pages.LSN, error) {
	for _, lr := range records {
		lr.Lsn = pages.LSN(n.lsn.Add(1))
	}

	return pages.LSN(n.lsn.Add(1)), nil
}

func (n *noopLM) Flush() error {
	return nil
}

func (n *noopLM) GetFlushedLSN() pages.LSN {
	return pages.LSN(n.lsn.Load())
}

func (n *noopLM) GetCurrentLSN() pages.LSN {
	return pages.LSN(n.lsn.Load())
}

var _ LogManager = &noopLM{}
