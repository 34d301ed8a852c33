package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rwxr-xr-x - 適用於目錄
	FileModeExecutable fs.FileMode = 0755
)

// WAL 以 JSON Lines 追加寫入的日誌檔
type WAL struct {
	file *os.File
	w    *bufio.Writer
	mu   sync.Mutex
}

// NewWAL 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func NewWAL(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, FileModeExecutable); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeReadOnly)
	if err != nil {
		return nil, err
	}
	return &WAL{
		file: file,
		w:    bufio.NewWriter(file),
	}, nil
}

// Write 寫入一筆資料到緩衝區，需要呼叫 Flush 才會落地
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return json.NewEncoder(w.w).Encode(v)
}

// Flush 把緩衝區寫進檔案並強制刷入硬碟 (關鍵！)
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close 刷入剩餘資料並關閉檔案
func (w *WAL) Close() error {
	flushErr := w.Flush()
	return errors.Join(flushErr, w.file.Close())
}

// ReadAll 讀取所有資料
// callback 接收單筆原始 JSON，避免一次將所有資料載入記憶體
// 檔案尾端若是寫到一半的殘缺紀錄 (crash) 會被忽略
//
// 回傳:
//
//	int64: 最後一筆完整紀錄 (含換行) 結束的位置，交給 Truncate 切掉殘缺尾巴
//	error: 讀取錯誤或 callback 回傳的錯誤
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	decoder := json.NewDecoder(w.file)
	var valid int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// 殘缺尾巴之前的換行屬於上一筆
				return w.skipNewline(valid)
			}
			return 0, err
		}
		if err := callback(raw); err != nil {
			return 0, err
		}
		valid = decoder.InputOffset()
	}
	return w.skipNewline(valid)
}

// skipNewline offset 上若是換行就把它算進去
func (w *WAL) skipNewline(offset int64) (int64, error) {
	if offset == 0 {
		return 0, nil
	}
	b := make([]byte, 1)
	n, err := w.file.ReadAt(b, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if n == 1 && b[0] == '\n' {
		offset++
	}
	return offset, nil
}

// Truncate 把檔案切到 size，之後的寫入接在 size 後面
// 重放後、開始寫入前呼叫，避免新紀錄接在殘缺紀錄後面
func (w *WAL) Truncate(size int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() <= size {
		return nil
	}
	if err := w.file.Truncate(size); err != nil {
		return err
	}
	return w.file.Sync()
}
