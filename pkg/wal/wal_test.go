package wal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func TestWALReplayAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := NewWAL(path)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.Write(entry{Seq: i, Note: "n"}))
	}
	require.NoError(t, w.Close())

	w, err = NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	var got []entry
	err = w.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Seq)
	assert.Equal(t, 3, got[2].Seq)

	// 讀完之後繼續寫入不會覆蓋既有資料
	require.NoError(t, w.Write(entry{Seq: 4}))
	count := 0
	require.NoError(t, w.ReadAll(func([]byte) error { count++; return nil }))
	assert.Equal(t, 4, count)
}

func TestWALEmptyFile(t *testing.T) {
	w, err := NewWAL(filepath.Join(t.TempDir(), "empty.log"))
	require.NoError(t, err)
	defer w.Close()

	called := false
	require.NoError(t, w.ReadAll(func([]byte) error { called = true; return nil }))
	assert.False(t, called)
}

func readSeqs(t *testing.T, w *WAL) []int {
	t.Helper()
	var seqs []int
	err := w.ReadAll(func(raw []byte) error {
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		seqs = append(seqs, e.Seq)
		return nil
	})
	require.NoError(t, err)
	return seqs
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestWALFailedSyncIsRolledBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	errDisk := errors.New("fsync: input/output error")

	var failNext atomic.Bool
	w, err := NewWAL(path, WithSyncFunc(func(f *os.File) error {
		if failNext.CompareAndSwap(true, false) {
			return errDisk
		}
		return f.Sync()
	}))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(entry{Seq: 1}))
	sizeBefore := fileSize(t, path)

	failNext.Store(true)
	err = w.Write(entry{Seq: 2, Note: "lost"})
	require.ErrorIs(t, err, errDisk)
	assert.NotErrorIs(t, err, ErrBroken)
	assert.Equal(t, sizeBefore, fileSize(t, path))
	assert.NoError(t, w.Err())

	require.NoError(t, w.Write(entry{Seq: 3}))
	assert.Equal(t, []int{1, 3}, readSeqs(t, w))
}

func TestWALBrokenAfterFailedRollback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	var failNext atomic.Bool
	w, err := NewWAL(path, WithSyncFunc(func(f *os.File) error {
		if failNext.Load() {
			// 關掉檔案讓後續的 Truncate 也失敗
			_ = f.Close()
			return errors.New("fsync failed")
		}
		return f.Sync()
	}))
	require.NoError(t, err)

	require.NoError(t, w.Write(entry{Seq: 1}))
	failNext.Store(true)
	require.ErrorIs(t, w.Write(entry{Seq: 2}), ErrBroken)
	require.Error(t, w.Err())

	// broken 之後不再寫入
	failNext.Store(false)
	require.ErrorIs(t, w.Write(entry{Seq: 3}), ErrBroken)
}

func TestWALTruncatesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := NewWAL(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(entry{Seq: 1}))
	require.NoError(t, w.Write(entry{Seq: 2}))
	require.NoError(t, w.Close())
	complete := fileSize(t, path)

	// 模擬寫到一半就當機
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, FileModePrivate)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":3,"no`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []int{1, 2}, readSeqs(t, w))
	assert.Equal(t, complete, fileSize(t, path))

	require.NoError(t, w.Write(entry{Seq: 4}))
	assert.Equal(t, []int{1, 2, 4}, readSeqs(t, w))
}

func TestWALCorruptedMiddleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	content := `{"seq":1}` + "\n" + `{"seq":` + "\n" + `{"seq":3}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), FileModePrivate))

	w, err := NewWAL(path)
	require.NoError(t, err)
	defer w.Close()

	err = w.ReadAll(func([]byte) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted")
}
