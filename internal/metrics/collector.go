package metrics

import (
	"sync"
	"time"

	"gridsim/internal/events"
)

// Observe はイベント1件をメトリクスに反映する
func (m *Metrics) Observe(e events.Event) {
	switch e.Type {
	case events.EventSessionStarted:
		m.RecordSessionStarted()
	case events.EventStepResolved:
		response := time.Duration(e.Data.ResponseSeconds * float64(time.Second))
		m.RecordStep(e.Data.IsCorrect, e.Data.TimedOut, response)
	case events.EventCriticalFailure:
		m.RecordCriticalFailure()
	case events.EventSessionCompleted:
		m.RecordSessionCompleted(e.Data.ScorePercent)
	case events.EventPersistenceFailed:
		m.RecordPersistenceFailure()
	}
}

// Collector はイベントバスを購読してメトリクスを集計する
type Collector struct {
	bus     *events.Bus
	metrics *Metrics

	mu   sync.Mutex
	ch   <-chan events.Event
	done chan struct{}
}

// NewCollector は新しいコレクターを作成する
func NewCollector(bus *events.Bus, m *Metrics) *Collector {
	return &Collector{bus: bus, metrics: m}
}

// Metrics は集計先を返す
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Start は購読を開始する
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		return
	}
	c.ch = c.bus.Subscribe()
	c.done = make(chan struct{})

	go func(ch <-chan events.Event, done chan struct{}) {
		defer close(done)
		for e := range ch {
			c.metrics.Observe(e)
		}
	}(c.ch, c.done)
}

// Stop は購読を解除し、受信済みのイベントを処理し終えるまで待つ
func (c *Collector) Stop() {
	c.mu.Lock()
	ch, done := c.ch, c.done
	c.ch, c.done = nil, nil
	c.mu.Unlock()

	if ch == nil {
		return
	}
	c.bus.Unsubscribe(ch)
	<-done
}
