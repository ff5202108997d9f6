package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"gridsim/internal/logger"
)

// Job はワーカーが実行するジョブを表す
type Job func()

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers int // ワーカー数（0でCPU数）
	QueueSize  int // キューの長さ（0でNumWorkers * 100）
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 0,
		QueueSize:  0,
	}
}

// Pool はゴルーチンのプールを管理する
type Pool struct {
	numWorkers int
	queueSize  int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	stopping   atomic.Bool
	dropped    atomic.Uint64

	// 送信側はRLock、チャネルを閉じる側はLockを取る
	mu sync.RWMutex
}

// NewPool は新しいワーカープールを作成する
// numWorkers が 0 の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してワーカープールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = numWorkers * 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
	}
}

// Start はワーカープールを起動する
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.jobs = make(chan Job, p.queueSize)
	p.started = true
	p.stopping.Store(false)

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.Debug("", "WorkerPool started with %d workers (queue: %d)", p.numWorkers, p.queueSize)
}

// worker は個々のワーカーゴルーチン
// ジョブチャネルが閉じられるまで残りのジョブも処理する
func (p *Pool) worker(_ int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

// run はジョブのパニックでワーカーが止まらないようにする
func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("", "Job panicked: %v", r)
		}
	}()
	job()
}

// Submit はジョブをプールに送信する
// キューが満杯、または停止中の場合はfalseを返し、ブロックしない
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.acceptingLocked() {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// SubmitWait はジョブを送信し、キューに空きがなければブロックする
func (p *Pool) SubmitWait(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.acceptingLocked() {
		return false
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

func (p *Pool) acceptingLocked() bool {
	if !p.started || p.stopping.Load() {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
		return true
	}
}

// Stop はワーカープールを停止する
// キューに残ったジョブを処理し終えてから戻る
func (p *Pool) Stop() {
	p.stopping.Store(true)

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	close(p.jobs)
	p.started = false
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	logger.Debug("", "WorkerPool stopped")
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.jobs == nil {
		return 0
	}
	return len(p.jobs)
}

// Capacity はキューの最大長を返す
func (p *Pool) Capacity() int {
	return p.queueSize
}

// Dropped はキュー満杯で受け付けなかったジョブ数を返す
func (p *Pool) Dropped() uint64 {
	return p.dropped.Load()
}
