package concurrency

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flstore/buffer"
	"flstore/disk"
	"flstore/disk/pages"
	"flstore/disk/wal"
	"flstore/fil"
	"flstore/flst"
	"flstore/mtr"
)

var baseAddr = fil.Addr{Page: 0, Offset: pages.PageHeaderSize}

func nodeAddr(i int) fil.Addr {
	return fil.Addr{Page: uint32(1 + i%4), Offset: uint16(pages.PageHeaderSize + (i/4)*flst.NodeSize)}
}

// buildLog runs list operations against a throw-away pool and returns the produced log.
func buildLog(t *testing.T, numNodes int) []byte {
	buf := bytes.Buffer{}
	lm := wal.NewLogManager(&buf, 0, nil, nil)
	pool := buffer.NewBufferPoolWithDM(16, disk.NewMemManager(), lm)

	run := func(fn func(m *mtr.Mtr, base fil.Ptr) error) {
		m := mtr.Start(pool, lm)
		defer m.Rollback()

		base, err := m.Get(baseAddr)
		require.NoError(t, err)
		require.NoError(t, fn(m, base))
		require.NoError(t, m.Commit())
	}

	run(func(m *mtr.Mtr, base fil.Ptr) error { return flst.Init(m, base) })
	for i := 0; i < numNodes; i++ {
		run(func(m *mtr.Mtr, base fil.Ptr) error {
			node, err := m.Get(nodeAddr(i))
			require.NoError(t, err)
			return flst.AddLast(m, base, node)
		})
	}

	require.NoError(t, lm.Flush())
	return buf.Bytes()
}

func listOf(t *testing.T, pool buffer.Pool) []fil.Addr {
	m := mtr.Start(pool, nil)
	defer m.Rollback()

	base, err := m.Get(baseAddr)
	require.NoError(t, err)
	require.NoError(t, flst.Check(m, base))

	res := make([]fil.Addr, 0)
	require.NoError(t, flst.Walk(m, base, func(node fil.Ptr) error {
		res = append(res, node.Addr())
		return nil
	}))

	return res
}

func TestRecover_Should_Rebuild_Pages_From_Log(t *testing.T) {
	log := buildLog(t, 10)
	pool := buffer.NewBufferPoolWithDM(16, disk.NewMemManager(), nil)

	res, err := Recover(wal.NewLogIter(bytes.NewReader(log), wal.NewBinarySerDe()), pool, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 11, res.Applied)
	assert.Equal(t, 0, res.Discarded)
	assert.False(t, res.TornTail)
	assert.Equal(t, int64(len(log)), res.ValidLength)

	expected := make([]fil.Addr, 0)
	for i := 0; i < 10; i++ {
		expected = append(expected, nodeAddr(i))
	}
	assert.Equal(t, expected, listOf(t, pool))

	// pages carry the lsn of the last mini-transaction that changed them
	p, err := pool.GetPage(0)
	require.NoError(t, err)
	assert.Equal(t, res.LastLSN, p.GetPageLSN())
	pool.Unpin(0, false)
}

func TestRecover_Should_Be_Idempotent(t *testing.T) {
	log := buildLog(t, 6)
	dm := disk.NewMemManager()
	pool := buffer.NewBufferPoolWithDM(16, dm, nil)

	first, err := Recover(wal.NewLogIter(bytes.NewReader(log), wal.NewBinarySerDe()), pool, nil)
	require.NoError(t, err)
	require.NoError(t, pool.FlushAll())

	fresh := buffer.NewBufferPoolWithDM(16, dm, nil)
	second, err := Recover(wal.NewLogIter(bytes.NewReader(log), wal.NewBinarySerDe()), fresh, nil)
	require.NoError(t, err)

	assert.Equal(t, 7, first.Applied)
	assert.Equal(t, 0, second.Applied)
	assert.Equal(t, 7, second.Skipped)
	assert.Equal(t, first.LastLSN, second.LastLSN)
	assert.Equal(t, listOf(t, pool), listOf(t, fresh))
}

func TestRecover_Should_Discard_Torn_Tail(t *testing.T) {
	log := buildLog(t, 4)
	full, err := Recover(wal.NewLogIter(bytes.NewReader(log), wal.NewBinarySerDe()),
		buffer.NewBufferPoolWithDM(16, disk.NewMemManager(), nil), nil)
	require.NoError(t, err)

	// cut into the commit marker of the last mini-transaction
	torn := log[:len(log)-3]
	pool := buffer.NewBufferPoolWithDM(16, disk.NewMemManager(), nil)
	res, err := Recover(wal.NewLogIter(bytes.NewReader(torn), wal.NewBinarySerDe()), pool, nil)
	require.NoError(t, err)

	assert.True(t, res.TornTail)
	assert.Equal(t, full.Applied-1, res.Applied)
	assert.Equal(t, 1, res.Discarded)
	assert.Less(t, res.LastLSN, full.LastLSN)
	assert.Less(t, res.ValidLength, int64(len(torn)))
	assert.Equal(t, []fil.Addr{nodeAddr(0), nodeAddr(1), nodeAddr(2)}, listOf(t, pool))
}

func TestRecover_Should_Ignore_Group_Without_Commit(t *testing.T) {
	serde := wal.NewBinarySerDe()
	buf := bytes.Buffer{}
	write := func(lr *wal.LogRecord) { buf.Write(serde.Serialize(lr)) }

	write(&wal.LogRecord{T: wal.TypeWrite, Lsn: 1, MtrID: 1, PageID: 2, Offset: 100, Payload: []byte("one")})
	write(&wal.LogRecord{T: wal.TypeMtrCommit, Lsn: 2, MtrID: 1, NumRecords: 1})
	// mtr 2 never committed, mtr 3 follows it
	write(&wal.LogRecord{T: wal.TypeWrite, Lsn: 3, MtrID: 2, PageID: 2, Offset: 200, Payload: []byte("two")})
	write(&wal.LogRecord{T: wal.TypeWrite, Lsn: 4, MtrID: 3, PageID: 2, Offset: 300, Payload: []byte("three")})
	write(&wal.LogRecord{T: wal.TypeMtrCommit, Lsn: 5, MtrID: 3, NumRecords: 1})
	// commit marker with a wrong record count
	write(&wal.LogRecord{T: wal.TypeWrite, Lsn: 6, MtrID: 4, PageID: 2, Offset: 400, Payload: []byte("four")})
	write(&wal.LogRecord{T: wal.TypeMtrCommit, Lsn: 7, MtrID: 4, NumRecords: 2})

	pool := buffer.NewBufferPoolWithDM(4, disk.NewMemManager(), nil)
	res, err := Recover(wal.NewLogIter(&buf, serde), pool, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 2, res.Discarded)
	assert.Equal(t, pages.LSN(5), res.LastLSN)

	p, err := pool.GetPage(2)
	require.NoError(t, err)
	defer pool.Unpin(2, false)

	assert.Equal(t, []byte("one"), p.ReadAt(100, 3))
	assert.Equal(t, make([]byte, 3), p.ReadAt(200, 3))
	assert.Equal(t, []byte("three"), p.ReadAt(300, 5))
	assert.Equal(t, make([]byte, 4), p.ReadAt(400, 4))
	assert.Equal(t, pages.LSN(5), p.GetPageLSN())
}

func TestRecover_Should_Reject_Writes_Into_Header(t *testing.T) {
	serde := wal.NewBinarySerDe()
	buf := bytes.Buffer{}
	buf.Write(serde.Serialize(&wal.LogRecord{T: wal.TypeWrite, Lsn: 1, MtrID: 1, PageID: 2, Offset: 4, Payload: []byte("x")}))
	buf.Write(serde.Serialize(&wal.LogRecord{T: wal.TypeMtrCommit, Lsn: 2, MtrID: 1, NumRecords: 1}))

	pool := buffer.NewBufferPoolWithDM(4, disk.NewMemManager(), nil)
	_, err := Recover(wal.NewLogIter(&buf, serde), pool, nil)
	assert.ErrorIs(t, err, ErrCorruptLog)
	assert.Equal(t, 4, pool.EmptyFrameSize())
}

func TestCheckpoint_Should_Persist_Pages(t *testing.T) {
	buf := bytes.Buffer{}
	lm := wal.NewLogManager(&buf, 0, nil, nil)
	dm := disk.NewMemManager()
	pool := buffer.NewBufferPoolWithDM(8, dm, lm)

	m := mtr.Start(pool, lm)
	base, err := m.Get(baseAddr)
	require.NoError(t, err)
	require.NoError(t, flst.Init(m, base))
	require.NoError(t, m.Commit())

	require.NoError(t, NewCheckpointManager(pool, lm, nil).TakeCheckpoint())
	assert.Equal(t, lm.GetCurrentLSN(), lm.GetFlushedLSN())

	data := make([]byte, pages.PageSize)
	require.NoError(t, dm.ReadPage(0, data))
	assert.Equal(t, lm.GetCurrentLSN(), pages.ReadLSN(data))
}
