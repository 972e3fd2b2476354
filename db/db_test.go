package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flstore/config"
	"flstore/disk/pages"
	"flstore/fil"
	"flstore/flst"
	"flstore/mtr"
)

var payloadOffset = uint16(pages.PageHeaderSize + flst.NodeSize)

func tempConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	name := uuid.New().String()

	cfg := config.Default()
	cfg.DataFile = filepath.Join(dir, name+".db")
	cfg.LogFile = filepath.Join(dir, name+".log")
	cfg.PoolSize = 16

	return cfg
}

func open(t *testing.T, cfg config.Config) *DB {
	d, err := Open(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()),
		WithCheckpointInterval(0))
	require.NoError(t, err)

	return d
}

// crash drops the db without writing back dirty pages. Log is persisted as a group commit would have done it.
func crash(t *testing.T, d *DB) {
	if d.checkPointDone != nil {
		close(d.checkPointDone)
		<-d.checkPointStopped
	}

	require.NoError(t, d.lm.StopFlusher())
	require.NoError(t, d.logFile.Close())
	require.NoError(t, d.dm.Close())
}

func run(t *testing.T, d *DB, fn func(m *mtr.Mtr) error) {
	t.Helper()

	m, err := d.Begin()
	require.NoError(t, err)
	defer m.Rollback()

	require.NoError(t, fn(m))
	require.NoError(t, m.Commit())
}

// allocN allocates n pages, writing a payload into each of them.
func allocN(t *testing.T, d *DB, n int) []uint32 {
	ids := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		run(t, d, func(m *mtr.Mtr) error {
			p, err := d.FreeList().Alloc(m)
			if err != nil {
				return err
			}

			ptr, err := m.Get(fil.Addr{Page: p.GetPageId(), Offset: payloadOffset})
			if err != nil {
				return err
			}

			ids = append(ids, p.GetPageId())
			return m.Write(ptr, []byte(fmt.Sprintf("page-%04d", p.GetPageId())))
		})
	}

	return ids
}

func free(t *testing.T, d *DB, ids ...uint32) {
	for _, id := range ids {
		run(t, d, func(m *mtr.Mtr) error {
			return d.FreeList().Add(m, id)
		})
	}
}

func freePages(t *testing.T, d *DB) []uint32 {
	res := make([]uint32, 0)
	run(t, d, func(m *mtr.Mtr) error {
		base, err := m.Get(fil.Addr{Page: 0, Offset: pages.PageHeaderSize})
		if err != nil {
			return err
		}

		ok, err := flst.Validate(m, base)
		require.True(t, ok)
		if err != nil {
			return err
		}

		return flst.Walk(m, base, func(node fil.Ptr) error {
			res = append(res, node.Addr().Page)
			return nil
		})
	})

	return res
}

func payload(t *testing.T, d *DB, pageId uint32) string {
	var res string
	run(t, d, func(m *mtr.Mtr) error {
		ptr, err := m.GetShared(fil.Addr{Page: pageId, Offset: payloadOffset})
		if err != nil {
			return err
		}
		res = string(ptr.Bytes(9))
		return nil
	})

	return res
}

func TestOpen_Should_Format_New_Data_File(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	assert.Empty(t, freePages(t, d))
	assert.Equal(t, uint32(1), d.dm.NumPages())
	assert.Zero(t, d.Recovered().Applied)
	require.NoError(t, d.Close())

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.Empty(t, freePages(t, d))
	assert.Equal(t, uint32(1), d.dm.NumPages())
}

func TestOpen_Should_Reject_Invalid_Config(t *testing.T) {
	cfg := tempConfig(t)
	cfg.PoolSize = 0

	_, err := Open(cfg)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestDB_Should_Persist_Free_List_After_Close(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	ids := allocN(t, d, 8)
	free(t, d, ids[1], ids[3], ids[5])
	require.NoError(t, d.Close())

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.Equal(t, []uint32{ids[1], ids[3], ids[5]}, freePages(t, d))
	assert.Equal(t, fmt.Sprintf("page-%04d", ids[7]), payload(t, d, ids[7]))

	// freed pages are reused before the file grows
	again := allocN(t, d, 4)
	assert.Equal(t, []uint32{ids[1], ids[3], ids[5], ids[7] + 1}, again)
}

func TestDB_Should_Recover_Committed_Mtrs_After_Crash(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	ids := allocN(t, d, 20)
	free(t, d, ids[2], ids[10], ids[19])
	crash(t, d)

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.NotZero(t, d.Recovered().Applied)
	assert.Zero(t, d.Recovered().Discarded)
	assert.Equal(t, []uint32{ids[2], ids[10], ids[19]}, freePages(t, d))
	for _, id := range ids {
		assert.Equal(t, fmt.Sprintf("page-%04d", id), payload(t, d, id))
	}
}

func TestDB_Should_Discard_Rolled_Back_Mtrs(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	ids := allocN(t, d, 3)

	m, err := d.Begin()
	require.NoError(t, err)
	require.NoError(t, d.FreeList().Add(m, ids[0]))
	m.Rollback()

	crash(t, d)

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.Empty(t, freePages(t, d))
}

func TestDB_Should_Truncate_Torn_Log_Tail(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	ids := allocN(t, d, 5)
	free(t, d, ids[0])
	crash(t, d)

	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 40, 1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	d = open(t, cfg)
	assert.True(t, d.Recovered().TornTail)

	stat, err := os.Stat(cfg.LogFile)
	require.NoError(t, err)
	assert.Equal(t, d.Recovered().ValidLength, stat.Size())
	assert.Equal(t, []uint32{ids[0]}, freePages(t, d))

	// log is appendable after truncation
	free(t, d, ids[1])
	crash(t, d)

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.False(t, d.Recovered().TornTail)
	assert.Equal(t, []uint32{ids[0], ids[1]}, freePages(t, d))
}

func TestDB_Recovery_Should_Be_Idempotent(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)

	ids := allocN(t, d, 6)
	free(t, d, ids...)
	crash(t, d)

	d = open(t, cfg)
	assert.NotZero(t, d.Recovered().Applied)
	crash(t, d)

	// pages are written back by first recovery so nothing is applied again
	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.Zero(t, d.Recovered().Applied)
	assert.NotZero(t, d.Recovered().Skipped)
	assert.Equal(t, ids, freePages(t, d))
}

func TestDB_Closed(t *testing.T) {
	d := open(t, tempConfig(t))
	require.NoError(t, d.Close())

	_, err := d.Begin()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, d.Checkpoint(), ErrClosed)
	assert.ErrorIs(t, d.Close(), ErrClosed)
}

func TestDB_Concurrent_Alloc_And_Free(t *testing.T) {
	cfg := tempConfig(t)
	d, err := Open(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()),
		WithCheckpointInterval(time.Millisecond*5))
	require.NoError(t, err)

	const workers, rounds = 4, 50

	wg := &sync.WaitGroup{}
	mu := sync.Mutex{}
	kept := make(map[uint32]bool)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				ids := allocN(t, d, 2)
				free(t, d, ids[0])

				mu.Lock()
				kept[ids[1]] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NoError(t, d.Checkpoint())
	pending := freePages(t, d)
	require.NoError(t, d.Close())

	d = open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	assert.Equal(t, pending, freePages(t, d))
	for _, id := range pending {
		assert.False(t, kept[id], "page %d is both free and in use", id)
	}
	for id := range kept {
		assert.Equal(t, fmt.Sprintf("page-%04d", id), payload(t, d, id))
	}
}

func TestDB_Free_List_Longer_Than_Pool(t *testing.T) {
	cfg := tempConfig(t)
	d := open(t, cfg)
	defer func() { require.NoError(t, d.Close()) }()

	ids := allocN(t, d, 2*cfg.PoolSize)
	free(t, d, ids...)
	assert.Equal(t, ids, freePages(t, d))

	run(t, d, func(m *mtr.Mtr) error {
		ok, err := d.FreeList().Validate(m)
		require.NoError(t, err)
		assert.True(t, ok)

		in, err := d.FreeList().IsIn(m, ids[0])
		require.NoError(t, err)
		assert.True(t, in)

		trimmed, err := d.FreeList().Trim(m, uint32(len(ids)-2))
		require.NoError(t, err)
		assert.Len(t, trimmed, len(ids)-2)
		return nil
	})

	assert.Equal(t, ids[:2], freePages(t, d))
}
