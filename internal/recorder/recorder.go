package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gridsim/internal/config"
	"gridsim/internal/events"
	"gridsim/internal/logger"
	"gridsim/internal/runner"
	"gridsim/internal/store"
	"gridsim/internal/worker"

	"github.com/puppetlabs/leg/timeutil/pkg/backoff"
	"github.com/puppetlabs/leg/timeutil/pkg/retry"
	"k8s.io/utils/clock"
)

// Store は記録に必要なストアの操作
type Store interface {
	BeginSession(ctx context.Context, record store.SessionRecord) error
	AppendStep(ctx context.Context, sessionID string, step store.StepRecord) error
	FinalizeSession(ctx context.Context, sessionID string, finalScorePercent int, completedAt time.Time) (*store.SessionRecord, error)
}

// SessionRecorder はランナーに渡す記録係
type SessionRecorder interface {
	runner.Recorder
	Begin(record store.SessionRecord)
	Close()
}

// Option はRecorderの設定を変更する
type Option func(*Recorder)

// WithEventBus は保存失敗の通知先を設定する
func WithEventBus(bus *events.Bus) Option {
	return func(r *Recorder) { r.eventBus = bus }
}

// WithLogger はロガーを設定する
func WithLogger(l *logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock は完了時刻に使う時計を設定する
func WithClock(c clock.PassiveClock) Option {
	return func(r *Recorder) { r.clock = c }
}

// Recorder はステップ結果をバックグラウンドでストアへ書き込む
//
// 書き込みは1ワーカーのプールで順番に処理されるため、同じセッションの
// 結果は呼び出し順に保存される。失敗はリトライ後にログとイベントで
// 通知され、呼び出し側には返らない。
type Recorder struct {
	store      Store
	pool       *worker.Pool
	maxRetries int
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	eventBus *events.Bus
	log      *logger.Logger
	clock    clock.PassiveClock

	written  atomic.Uint64
	failures atomic.Uint64
	closed   atomic.Bool
}

// New は記録係を作成し、書き込みワーカーを起動する
func New(st Store, settings config.RecorderSettings, opts ...Option) *Recorder {
	buffer := settings.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	delay := settings.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		store:      st,
		pool:       worker.NewPoolWithConfig(worker.PoolConfig{NumWorkers: 1, QueueSize: buffer}),
		maxRetries: settings.MaxRetries,
		retryDelay: delay,
		ctx:        ctx,
		cancel:     cancel,
		log:        logger.Default,
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool.Start(ctx)
	return r
}

// Begin はセッションのメタデータを書き込む
// 後続のステップ記録が依存するため、キューが満杯なら空くまで待つ
func (r *Recorder) Begin(record store.SessionRecord) {
	r.enqueue(record.ID, "begin session", true, func(ctx context.Context) error {
		return r.store.BeginSession(ctx, record)
	})
}

// RecordStepResult はステップ結果を書き込む
func (r *Recorder) RecordStepResult(sessionID string, result runner.StepResult) {
	step := StepRecord(result)
	r.enqueue(sessionID, fmt.Sprintf("record step %d", result.StepOrder), false, func(ctx context.Context) error {
		return r.store.AppendStep(ctx, sessionID, step)
	})
}

// FinalizeSession は最終得点を書き込み、セッションを完了にする
func (r *Recorder) FinalizeSession(sessionID string, finalScorePercent int) {
	completedAt := r.clock.Now()
	r.enqueue(sessionID, "finalize session", false, func(ctx context.Context) error {
		_, err := r.store.FinalizeSession(ctx, sessionID, finalScorePercent, completedAt)
		return err
	})
}

// Close はキューに残った書き込みを処理してから停止する
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.pool.Stop()
	r.cancel()
}

// Written は成功した書き込み数を返す
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Failures は失敗した書き込み数を返す
func (r *Recorder) Failures() uint64 {
	return r.failures.Load()
}

// enqueue は書き込みをキューに積む。wait が false の場合は満杯で失敗扱いにする
func (r *Recorder) enqueue(sessionID, what string, wait bool, write func(ctx context.Context) error) {
	if r.closed.Load() {
		r.fail(sessionID, what, errors.New("recorder closed"))
		return
	}

	job := func() {
		if err := r.writeWithRetry(write); err != nil {
			r.fail(sessionID, what, err)
			return
		}
		r.written.Add(1)
	}
	submit := r.pool.Submit
	if wait {
		submit = r.pool.SubmitWait
	}
	if !submit(job) {
		r.fail(sessionID, what, errors.New("write queue full or stopped"))
	}
}

func (r *Recorder) writeWithRetry(write func(ctx context.Context) error) error {
	if r.maxRetries <= 0 {
		return write(r.ctx)
	}

	return retry.Wait(r.ctx, func(ctx context.Context) (bool, error) {
		if err := write(ctx); err != nil {
			if permanent(err) {
				return retry.Done(err)
			}
			return retry.Repeat(err)
		}
		return retry.Done(nil)
	}, retry.WithBackoffFactory(
		backoff.Build(
			backoff.Exponential(r.retryDelay, 2),
			backoff.MaxBound(10*r.retryDelay),
			backoff.FullJitter(),
			backoff.MaxRetries(uint64(r.maxRetries)),
			backoff.NonSliding,
		),
	))
}

// permanent はリトライしても結果が変わらないエラーかどうかを返す
func permanent(err error) bool {
	return errors.Is(err, store.ErrInvalidSessionID) ||
		errors.Is(err, store.ErrSessionExists) ||
		errors.Is(err, store.ErrSessionFinalized) ||
		errors.Is(err, store.ErrSessionNotFound) ||
		errors.Is(err, store.ErrNotInitialized)
}

func (r *Recorder) fail(sessionID, what string, err error) {
	r.failures.Add(1)
	r.log.Error(sessionID, "Persistence failed (%s): %v", what, err)
	if r.eventBus != nil {
		r.eventBus.Publish(events.NewPersistenceFailedEvent(sessionID, fmt.Errorf("%s: %w", what, err)))
	}
}

// StepRecord はランナーの結果を保存形式に変換する
func StepRecord(result runner.StepResult) store.StepRecord {
	return store.StepRecord{
		StepID:              result.StepID,
		StepOrder:           result.StepOrder,
		ActionType:          string(result.ActionType),
		ActionPerformed:     result.ActionPerformed,
		Value:               result.Value,
		IsCorrect:           result.IsCorrect,
		IsCritical:          result.IsCritical,
		TimedOut:            result.TimedOut,
		PointsAwarded:       result.PointsAwarded,
		ResponseTimeSeconds: result.ResponseTimeSeconds,
		RecordedAt:          result.RecordedAt,
	}
}

// Nop は何も保存しない記録係
type Nop struct{}

func (Nop) Begin(store.SessionRecord)                  {}
func (Nop) RecordStepResult(string, runner.StepResult) {}
func (Nop) FinalizeSession(string, int)                {}
func (Nop) Close()                                     {}

var (
	_ SessionRecorder = (*Recorder)(nil)
	_ SessionRecorder = Nop{}
)
