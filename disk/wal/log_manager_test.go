package wal

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flstore/disk/pages"
)

func TestLogManager_AppendMtr_Should_Write_Contiguous_Group(t *testing.T) {
	buf := bytes.Buffer{}
	reg := prometheus.NewRegistry()
	lm := NewLogManager(&buf, 10, nil, reg)

	recs := []*LogRecord{
		NewWriteLogRecord(1, 16, []byte{0, 0, 0, 1}),
		NewWriteLogRecord(2, 32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0}),
	}
	lsn, err := lm.AppendMtr(42, recs)
	require.NoError(t, err)
	assert.Equal(t, pages.LSN(13), lsn)
	assert.Equal(t, pages.LSN(13), lm.GetCurrentLSN())
	assert.Equal(t, pages.LSN(11), recs[0].Lsn)
	assert.Equal(t, pages.LSN(12), recs[1].Lsn)

	require.NoError(t, lm.Flush())
	assert.Equal(t, pages.LSN(13), lm.GetFlushedLSN())

	it := NewLogIter(&buf, NewBinarySerDe())
	for i, expected := range []pages.LSN{11, 12, 13} {
		lr, err := it.Next()
		require.NoError(t, err)
		assert.Equal(t, expected, lr.Lsn)
		assert.Equal(t, uint64(42), lr.MtrID)
		if i == 2 {
			assert.Equal(t, TypeMtrCommit, lr.T)
			assert.Equal(t, uint32(2), lr.NumRecords)
		}
	}
	_, err = it.Next()
	assert.ErrorIs(t, err, ErrIteratorAtLast)

	assert.Equal(t, float64(1), testutil.ToFloat64(lm.metrics.mtrs))
	assert.Equal(t, float64(3), testutil.ToFloat64(lm.metrics.records))
}

func TestLogManager_Flusher_Should_Persist_On_Stop(t *testing.T) {
	buf := lockedBuffer{}
	lm := NewLogManager(&buf, 0, nil, nil)
	lm.RunFlusher()

	for i := 0; i < 50; i++ {
		_, err := lm.AppendMtr(uint64(i), []*LogRecord{NewWriteLogRecord(1, 16, []byte("x"))})
		require.NoError(t, err)
	}

	require.NoError(t, lm.StopFlusher())
	assert.Equal(t, pages.LSN(100), lm.GetFlushedLSN())

	it := NewLogIter(bytes.NewReader([]byte(buf.String())), NewBinarySerDe())
	count := 0
	for {
		if _, err := it.Next(); err != nil {
			assert.ErrorIs(t, err, ErrIteratorAtLast)
			break
		}
		count++
	}
	assert.Equal(t, 100, count)
}

func TestLogManager_Should_Fail_After_Flush_Error(t *testing.T) {
	lm := NewLogManager(failingWriter{}, 0, nil, nil)

	_, err := lm.AppendMtr(1, []*LogRecord{NewWriteLogRecord(1, 16, []byte("x"))})
	require.NoError(t, err)
	require.Error(t, lm.Flush())

	_, err = lm.AppendMtr(2, []*LogRecord{NewWriteLogRecord(1, 16, []byte("y"))})
	require.Error(t, err)
}

func TestNoopLM_Should_Assign_Increasing_Lsns(t *testing.T) {
	before := NoopLM.GetCurrentLSN()
	rec := NewWriteLogRecord(1, 16, []byte("x"))
	lsn, err := NoopLM.AppendMtr(1, []*LogRecord{rec})
	require.NoError(t, err)
	assert.Greater(t, lsn, rec.Lsn)
	assert.Greater(t, rec.Lsn, before)
	assert.Equal(t, lsn, NoopLM.GetFlushedLSN())
}
