package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config はメトリクスの設定
type Config struct {
	MaxResponseSamples int // P99計算用に保持する応答時間の最大数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxResponseSamples: 1000}
}

// Metrics は訓練セッションのメトリクスを収集する
type Metrics struct {
	sessionsStarted     atomic.Uint64
	sessionsCompleted   atomic.Uint64
	stepsCorrect        atomic.Uint64
	stepsIncorrect      atomic.Uint64
	timeouts            atomic.Uint64
	criticalFailures    atomic.Uint64
	persistenceFailures atomic.Uint64
	totalResponseNs     atomic.Uint64
	scoreSum            atomic.Uint64

	mu                 sync.RWMutex
	startTime          time.Time
	responses          []time.Duration
	maxResponseSamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxResponseSamples
	if samples <= 0 {
		samples = DefaultConfig().MaxResponseSamples
	}
	return &Metrics{
		startTime:          time.Now(),
		responses:          make([]time.Duration, 0, samples),
		maxResponseSamples: samples,
	}
}

// RecordSessionStarted はセッション開始を記録する
func (m *Metrics) RecordSessionStarted() {
	m.sessionsStarted.Add(1)
}

// RecordSessionCompleted はセッション完了と最終得点を記録する
func (m *Metrics) RecordSessionCompleted(scorePercent int) {
	m.sessionsCompleted.Add(1)
	if scorePercent > 0 {
		m.scoreSum.Add(uint64(scorePercent))
	}
}

// RecordStep はステップの解決を記録する
func (m *Metrics) RecordStep(correct, timedOut bool, response time.Duration) {
	if correct {
		m.stepsCorrect.Add(1)
	} else {
		m.stepsIncorrect.Add(1)
	}
	if timedOut {
		m.timeouts.Add(1)
	}
	if response < 0 {
		response = 0
	}
	m.totalResponseNs.Add(uint64(response.Nanoseconds()))

	m.mu.Lock()
	if len(m.responses) < m.maxResponseSamples {
		m.responses = append(m.responses, response)
	}
	m.mu.Unlock()
}

// RecordCriticalFailure は重大ステップの失敗を記録する
func (m *Metrics) RecordCriticalFailure() {
	m.criticalFailures.Add(1)
}

// RecordPersistenceFailure は保存失敗を記録する
func (m *Metrics) RecordPersistenceFailure() {
	m.persistenceFailures.Add(1)
}

// TotalSteps は解決済みステップ数を返す
func (m *Metrics) TotalSteps() uint64 {
	return m.stepsCorrect.Load() + m.stepsIncorrect.Load()
}

// Accuracy は正解率を返す（0.0〜1.0）
func (m *Metrics) Accuracy() float64 {
	total := m.TotalSteps()
	if total == 0 {
		return 0
	}
	return float64(m.stepsCorrect.Load()) / float64(total)
}

// AverageResponse は平均応答時間を返す
func (m *Metrics) AverageResponse() time.Duration {
	total := m.TotalSteps()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalResponseNs.Load() / total)
}

// AverageScore は完了セッションの平均得点率を返す
func (m *Metrics) AverageScore() float64 {
	completed := m.sessionsCompleted.Load()
	if completed == 0 {
		return 0
	}
	return float64(m.scoreSum.Load()) / float64(completed)
}

// P99Response はP99応答時間を返す（サンプルベース）
func (m *Metrics) P99Response() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.responses) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.responses))
	copy(sorted, m.responses)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Reset は応答時間のサンプルをリセットする
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = m.responses[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	SessionsStarted     uint64        `json:"sessions_started"`
	SessionsCompleted   uint64        `json:"sessions_completed"`
	StepsCorrect        uint64        `json:"steps_correct"`
	StepsIncorrect      uint64        `json:"steps_incorrect"`
	Timeouts            uint64        `json:"timeouts"`
	CriticalFailures    uint64        `json:"critical_failures"`
	PersistenceFailures uint64        `json:"persistence_failures"`
	Accuracy            float64       `json:"accuracy"`
	AverageScore        float64       `json:"average_score"`
	AverageResponse     time.Duration `json:"average_response"`
	P99Response         time.Duration `json:"p99_response"`
	Uptime              time.Duration `json:"uptime"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SessionsStarted:     m.sessionsStarted.Load(),
		SessionsCompleted:   m.sessionsCompleted.Load(),
		StepsCorrect:        m.stepsCorrect.Load(),
		StepsIncorrect:      m.stepsIncorrect.Load(),
		Timeouts:            m.timeouts.Load(),
		CriticalFailures:    m.criticalFailures.Load(),
		PersistenceFailures: m.persistenceFailures.Load(),
		Accuracy:            m.Accuracy(),
		AverageScore:        m.AverageScore(),
		AverageResponse:     m.AverageResponse(),
		P99Response:         m.P99Response(),
		Uptime:              time.Since(m.startTime),
	}
}
