package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀)
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 帳務資料預設使用
	FileModePrivate fs.FileMode = 0600
)

// ErrBroken 寫入失敗後無法把檔案還原，之後的寫入一律拒絕
var ErrBroken = errors.New("wal: broken after failed rollback")

// WAL 是 append-only 的 JSON Lines 檔案，每筆一行
//
// 一筆寫入 (含 fsync) 失敗時會把檔案截回寫入前的長度，
// 讓失敗的那一行不會在重啟時被重播。
type WAL struct {
	file   *os.File
	mu     sync.Mutex
	syncFn func(*os.File) error
	broken error
}

// Option 設定 WAL
type Option func(*WAL)

// WithSyncFunc 替換刷入硬碟的方式 (預設 (*os.File).Sync)，測試時用來模擬 fsync 失敗
func WithSyncFunc(fn func(*os.File) error) Option {
	return func(w *WAL) {
		w.syncFn = fn
	}
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR 讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, err
	}
	w := &WAL{file: file, syncFn: (*os.File).Sync}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write 寫入一筆資料並刷入硬碟，回傳 nil 才算寫入成功
//
// 回傳錯誤時檔案內容與呼叫前相同；若連還原都失敗，WAL 進入 broken 狀態。
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return fmt.Errorf("%w: %w", ErrBroken, w.broken)
	}

	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	offset, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(line); err != nil {
		return w.rollback(offset, err)
	}
	if err := w.syncFn(w.file); err != nil {
		return w.rollback(offset, err)
	}
	return nil
}

// rollback 把檔案截回 offset
func (w *WAL) rollback(offset int64, cause error) error {
	err := w.file.Truncate(offset)
	if err == nil {
		err = w.syncFn(w.file)
	}
	if err != nil {
		w.broken = err
		return fmt.Errorf("%w: %w (write error: %v)", ErrBroken, err, cause)
	}
	return cause
}

// Err 回傳使 WAL 進入 broken 狀態的錯誤，正常時為 nil
func (w *WAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncFn(w.file)
}

// Close 關閉檔案
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// ReadAll 從頭依序讀取所有資料
// callback 每次收到一行 JSON，避免一次將所有資料載入記憶體
//
// 最後一行沒有換行 (寫到一半就當機) 時視為未完成的寫入，直接截掉；
// 其他位置的格式錯誤代表檔案損毀，回傳錯誤。
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(w.file)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				// 不完整的尾巴
				if err := w.file.Truncate(offset); err != nil {
					return fmt.Errorf("wal: truncate torn tail at %d: %w", offset, err)
				}
			}
			break
		}
		if err != nil {
			return err
		}
		start := offset
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return fmt.Errorf("wal: corrupted entry at offset %d", start)
		}
		if err := callback(line); err != nil {
			return err
		}
	}
	// O_APPEND 下寫入位置不受 Seek 影響，這裡只是讓狀態一致
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}
