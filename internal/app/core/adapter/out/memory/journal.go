package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// ErrJournalClosed Journal 已關閉
var ErrJournalClosed = errors.New("journal closed")

const (
	recordAccount     = "account"
	recordTransaction = "transaction"

	// 一次 fsync 最多合併幾筆
	defaultMaxBatch = 256
)

// Record WAL 中的一筆紀錄
// account 紀錄是寫入後的完整快照，重放時後寫的覆蓋先寫的
type Record struct {
	Kind        string              `json:"kind"`
	Account     *domain.Account     `json:"account,omitempty"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// journalRequest 寫入請求包裝 channel，讓 Append 可以等待結果
type journalRequest struct {
	rec    Record
	result chan error // 讓 Append 等這個 channel
}

// Journal 單一寫入者的 WAL：
// Append(等待) -> Channel -> Run Loop (合併多筆) -> WAL Write -> 一次 Flush -> Result Channel -> Append(收到結果)
type Journal struct {
	wal *wal.WAL
	// 輸送帶 負責接收寫入請求
	requests chan *journalRequest
	// Pool 減少 GC 壓力
	requestPool sync.Pool
	maxBatch    int

	mu      sync.RWMutex
	closed  bool
	quit    chan struct{}
	stopped chan struct{}
}

// OpenJournal 開啟 WAL 並啟動寫入 goroutine
//
// 參數:
//
//	path: WAL 檔案路徑
//
// 回傳:
//
//	*Journal: Journal 實例
//	error: 開檔錯誤
func OpenJournal(path string) (*Journal, error) {
	w, err := wal.NewWAL(path)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	j := &Journal{
		wal:      w,
		requests: make(chan *journalRequest, 1000), // Buffer 1000
		maxBatch: defaultMaxBatch,
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &journalRequest{
					result: make(chan error, 1),
				}
			},
		},
	}
	go j.run()
	return j, nil
}

// Append 寫入一筆紀錄，回傳時已經 fsync
func (j *Journal) Append(rec Record) error {
	req := j.requestPool.Get().(*journalRequest)
	req.rec = rec
	// 清空 Channel (理論上應該是空的)
	select {
	case <-req.result:
	default:
	}

	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		j.requestPool.Put(req)
		return ErrJournalClosed
	}
	j.requests <- req
	j.mu.RUnlock()

	err := <-req.result
	req.rec = Record{}
	j.requestPool.Put(req)
	return err
}

// Replay 從頭讀出所有紀錄 (啟動時呼叫，此時尚未有寫入)
// 重放完會切掉 crash 留下的殘缺尾巴，之後的 Append 才不會接在半行後面
func (j *Journal) Replay(apply func(Record) error) error {
	valid, err := j.wal.ReadAll(func(raw []byte) error {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		return apply(rec)
	})
	if err != nil {
		return err
	}
	if err := j.wal.Truncate(valid); err != nil {
		return fmt.Errorf("truncate torn wal tail: %w", err)
	}
	return nil
}

// Close 處理完剩下的請求後關閉 WAL
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.quit)
	<-j.stopped
	return j.wal.Close()
}

func (j *Journal) run() {
	defer close(j.stopped)
	batch := make([]*journalRequest, 0, j.maxBatch)
	for {
		select {
		case <-j.quit:
			// 收到關閉信號，把剩下的請求處理完
			j.drain(batch)
			return
		case req := <-j.requests:
			batch = j.collect(append(batch[:0], req))
			j.commit(batch)
		}
	}
}

// collect 把已經在排隊的請求一起帶上，共用一次 fsync
func (j *Journal) collect(batch []*journalRequest) []*journalRequest {
	for len(batch) < j.maxBatch {
		select {
		case req := <-j.requests:
			batch = append(batch, req)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) drain(batch []*journalRequest) {
	for {
		select {
		case req := <-j.requests:
			batch = j.collect(append(batch[:0], req))
			j.commit(batch)
		default:
			return
		}
	}
}

func (j *Journal) commit(batch []*journalRequest) {
	var err error
	for _, req := range batch {
		if err = j.wal.Write(req.rec); err != nil {
			break
		}
	}
	if err == nil {
		err = j.wal.Flush()
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrJournalWrite, err)
	}
	for _, req := range batch {
		req.result <- err
	}
}
