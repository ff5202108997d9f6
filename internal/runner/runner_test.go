package runner

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"gridsim/internal/events"
	"gridsim/internal/logger"
	"gridsim/internal/scenario"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type recordedCall struct {
	sessionID string
	result    StepResult
}

type fakeRecorder struct {
	mu        sync.Mutex
	results   []recordedCall
	finalized []int
}

func (f *fakeRecorder) RecordStepResult(sessionID string, result StepResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recordedCall{sessionID: sessionID, result: result})
}

func (f *fakeRecorder) FinalizeSession(_ string, score int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, score)
}

func (f *fakeRecorder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results), len(f.finalized)
}

func quickSteps() []scenario.Step {
	return scenario.QuickScenario().Steps
}

func newTestRunner(t *testing.T, steps []scenario.Step) (*Runner, *testingclock.FakeClock, *fakeRecorder) {
	t.Helper()
	clk := testingclock.NewFakeClock(epoch)
	rec := &fakeRecorder{}
	r := New("sess-1", steps,
		WithClock(clk),
		WithRecorder(rec),
		WithScenarioID("quick"),
		WithLogger(logger.New(&discard{}, logger.LevelError)),
	)
	return r, clk, rec
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAllCorrectRun(t *testing.T) {
	r, clk, rec := newTestRunner(t, quickSteps())

	objective, err := r.Start()
	require.NoError(t, err)
	assert.Equal(t, 1, objective.Order)
	assert.Equal(t, scenario.ActionBreakerOpen, objective.ActionType)
	assert.Equal(t, "Abrir interruptor", objective.ActionLabel)
	assert.False(t, objective.Timed)

	clk.Step(4 * time.Second)
	out, err := r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	assert.True(t, out.IsCorrect)
	assert.Equal(t, 10, out.PointsAwarded)
	assert.False(t, out.IsSessionComplete)
	require.NotNil(t, out.NextStep)
	assert.Equal(t, 2, out.NextStep.Order)
	assert.Equal(t, 10, r.State().TotalPoints)

	out, err = r.SubmitAction(scenario.ActionBreakerClose, "CONFIRMADO")
	require.NoError(t, err)
	assert.True(t, out.IsCorrect)
	assert.Equal(t, 20, out.PointsAwarded)
	assert.True(t, out.IsSessionComplete)
	assert.Nil(t, out.NextStep)
	assert.Equal(t, 100, out.FinalScorePercent)

	state := r.State()
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, 30, state.TotalPoints)
	assert.Equal(t, 2, state.CurrentStepIndex)
	require.Len(t, state.Results, 2)
	assert.InDelta(t, 4.0, state.Results[0].ResponseTimeSeconds, 0.001)

	results, finalized := rec.counts()
	assert.Equal(t, 2, results)
	assert.Equal(t, 1, finalized)
	assert.Equal(t, []int{100}, rec.finalized)
	assert.Equal(t, "sess-1", rec.results[0].sessionID)
}

func TestIncorrectCriticalLastStep(t *testing.T) {
	r, _, rec := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)

	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	out, err := r.SubmitAction(scenario.ActionBreakerClose, "no")
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.Equal(t, 0, out.PointsAwarded)
	assert.True(t, out.IsCritical)
	assert.True(t, out.IsSessionComplete)
	assert.Equal(t, 33, out.FinalScorePercent)

	state := r.State()
	assert.Equal(t, 1, state.CriticalFailureCount)
	assert.Equal(t, 10, state.TotalPoints)
	assert.Equal(t, []int{33}, rec.finalized)
}

func TestOnTimeoutMatchesIncorrectPath(t *testing.T) {
	r, clk, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	// 外部から直接呼ぶ場合、内部タイマーは発火させない
	clk.Step(29 * time.Second)
	out, err := r.OnTimeout()
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.True(t, out.TimedOut)
	assert.Equal(t, 0, out.PointsAwarded)
	assert.True(t, out.IsSessionComplete)
	assert.Equal(t, 33, out.FinalScorePercent)

	state := r.State()
	assert.Equal(t, 1, state.CriticalFailureCount)
	assert.Equal(t, 10, state.TotalPoints)
	last := state.Results[1]
	assert.Equal(t, TimeoutAction, last.ActionPerformed)
	assert.InDelta(t, 30.0, last.ResponseTimeSeconds, 0.001)
}

func TestTimerExpiresStep(t *testing.T) {
	r, clk, rec := newTestRunner(t, quickSteps())
	bus := events.NewBus()
	defer bus.Close()
	r.eventBus = bus
	ch := bus.SubscribeSession("sess-1")

	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	require.True(t, clk.HasWaiters())

	clk.Step(30 * time.Second)

	require.Eventually(t, func() bool {
		return r.State().Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	state := r.State()
	assert.Equal(t, 1, state.CriticalFailureCount)
	assert.True(t, state.Results[1].TimedOut)
	assert.InDelta(t, 30.0, state.Results[1].ResponseTimeSeconds, 0.001)

	results, finalized := rec.counts()
	assert.Equal(t, 2, results)
	assert.Equal(t, 1, finalized)

	var types []events.EventType
	timeout := time.After(time.Second)
	for len(types) < 5 {
		select {
		case e := <-ch:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("received only %v", types)
		}
	}
	assert.Equal(t, []events.EventType{
		events.EventSessionStarted,
		events.EventStepResolved,
		events.EventStepResolved,
		events.EventCriticalFailure,
		events.EventSessionCompleted,
	}, types)
}

func TestSubmitCancelsTimer(t *testing.T) {
	r, clk, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	assert.False(t, clk.HasWaiters(), "untimed step must not schedule a timer")

	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	assert.True(t, clk.HasWaiters())

	_, err = r.SubmitAction(scenario.ActionBreakerClose, "confirmado")
	require.NoError(t, err)
	assert.False(t, clk.HasWaiters())

	clk.Step(time.Minute)
	assert.Equal(t, 30, r.State().TotalPoints)
}

func TestStaleExpireIsNoop(t *testing.T) {
	steps := []scenario.Step{
		{Order: 1, ActionType: scenario.ActionBreakerOpen, PointValue: 5, TimeLimitSeconds: 10},
		{Order: 2, ActionType: scenario.ActionBreakerClose, PointValue: 5, TimeLimitSeconds: 10},
	}
	r, _, rec := newTestRunner(t, steps)
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	// 解決済みのステップ0に対するタイマーが遅れて届いた場合
	r.expire(0)

	state := r.State()
	assert.Equal(t, 1, state.CurrentStepIndex)
	assert.Len(t, state.Results, 1)
	results, _ := rec.counts()
	assert.Equal(t, 1, results)
}

func TestSubmitActionAtStale(t *testing.T) {
	r, _, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)

	_, err = r.SubmitActionAt(2, scenario.ActionBreakerClose, "confirmado")
	require.ErrorIs(t, err, ErrStaleStep)
	assert.Empty(t, r.State().Results)

	out, err := r.SubmitActionAt(1, scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	assert.True(t, out.IsCorrect)
}

func TestSubmitBeforeStart(t *testing.T) {
	r, _, _ := newTestRunner(t, quickSteps())

	_, err := r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = r.OnTimeout()
	require.ErrorIs(t, err, ErrInvalidState)

	assert.Nil(t, r.CurrentObjective())
	assert.Equal(t, StatusNotStarted, r.State().Status)
}

func TestStartTwice(t *testing.T) {
	r, _, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	_, err = r.Start()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, r.State().CurrentStepIndex)
}

func TestStartWithoutSteps(t *testing.T) {
	r, _, _ := newTestRunner(t, nil)
	_, err := r.Start()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatusNotStarted, r.State().Status)
}

func TestSubmitAfterCompleted(t *testing.T) {
	r, _, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerClose, "confirmado")
	require.NoError(t, err)

	_, err = r.SubmitAction(scenario.ActionBreakerClose, "confirmado")
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = r.OnTimeout()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Nil(t, r.CurrentObjective())
}

func TestMonotonicProgress(t *testing.T) {
	sc := scenario.BreakerIsolationScenario()
	r, _, _ := newTestRunner(t, sc.Steps)
	_, err := r.Start()
	require.NoError(t, err)

	maxPoints := sc.MaxPoints()
	prevIndex, prevPoints := 0, 0
	for i := 0; r.State().Status == StatusRunning; i++ {
		var out Outcome
		step := r.steps[r.State().CurrentStepIndex]
		switch i % 3 {
		case 0:
			out, err = r.SubmitAction(step.ActionType, step.ExpectedValue)
		case 1:
			out, err = r.SubmitAction(scenario.ActionNotifyDispatch, "wrong")
		default:
			out, err = r.OnTimeout()
		}
		require.NoError(t, err)

		state := r.State()
		assert.Equal(t, prevIndex+1, state.CurrentStepIndex)
		assert.GreaterOrEqual(t, state.TotalPoints, prevPoints)
		assert.LessOrEqual(t, state.TotalPoints, maxPoints)
		assert.Equal(t, out.TotalPoints, state.TotalPoints)
		if state.Status == StatusRunning {
			assert.Len(t, state.Results, state.CurrentStepIndex)
		}
		prevIndex, prevPoints = state.CurrentStepIndex, state.TotalPoints
	}
	assert.Equal(t, len(sc.Steps), prevIndex)
}

func TestValueMatching(t *testing.T) {
	step := scenario.Step{ActionType: scenario.ActionIsolateLine, ExpectedValue: "abierto"}

	tests := []struct {
		name   string
		action scenario.ActionType
		value  string
		want   bool
	}{
		{"exact", scenario.ActionIsolateLine, "abierto", true},
		{"padded upper", scenario.ActionIsolateLine, " Abierto ", true},
		{"wrong value", scenario.ActionIsolateLine, "cerrado", false},
		{"empty value", scenario.ActionIsolateLine, "", false},
		{"accent differs", scenario.ActionIsolateLine, "abiérto", false},
		{"wrong action", scenario.ActionGroundLine, "abierto", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(step, tt.action, tt.value))
		})
	}

	open := scenario.Step{ActionType: scenario.ActionBreakerOpen}
	assert.True(t, Matches(open, scenario.ActionBreakerOpen, "anything at all"))
	blank := scenario.Step{ActionType: scenario.ActionBreakerOpen, ExpectedValue: "  "}
	assert.True(t, Matches(blank, scenario.ActionBreakerOpen, ""))
}

func TestCriticalFailureDoesNotHalt(t *testing.T) {
	sc := scenario.BreakerIsolationScenario()
	r, _, _ := newTestRunner(t, sc.Steps)
	_, err := r.Start()
	require.NoError(t, err)

	_, err = r.SubmitAction(scenario.ActionAcknowledgeAlarm, "")
	require.NoError(t, err)

	out, err := r.SubmitAction(scenario.ActionBreakerOpen, "F-13")
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.True(t, out.IsCritical)
	assert.False(t, out.IsSessionComplete)
	require.NotNil(t, out.NextStep)
	assert.Equal(t, 3, out.NextStep.Order)

	state := r.State()
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, 1, state.CriticalFailureCount)
}

func TestTimeoutScoresZero(t *testing.T) {
	// 期待値のないステップでもタイムアウトは0点
	steps := []scenario.Step{
		{Order: 1, ActionType: scenario.ActionAcknowledgeAlarm, PointValue: 7},
	}
	r, clk, _ := newTestRunner(t, steps)
	_, err := r.Start()
	require.NoError(t, err)

	clk.Step(12 * time.Second)
	out, err := r.OnTimeout()
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.Equal(t, 0, out.PointsAwarded)
	assert.Equal(t, 0, out.FinalScorePercent)

	// 無制限のステップでは経過時間が応答時間になる
	assert.InDelta(t, 12.0, r.State().Results[0].ResponseTimeSeconds, 0.001)
}

func TestExactlyOnceUnderRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		steps := []scenario.Step{
			{Order: 1, ActionType: scenario.ActionBreakerOpen, PointValue: 10, TimeLimitSeconds: 5},
			{Order: 2, ActionType: scenario.ActionBreakerClose, PointValue: 10},
		}
		r, clk, rec := newTestRunner(t, steps)
		_, err := r.Start()
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = r.SubmitActionAt(1, scenario.ActionBreakerOpen, "")
		}()
		go func() {
			defer wg.Done()
			clk.Step(5 * time.Second)
		}()
		go func() {
			defer wg.Done()
			r.expire(0)
		}()
		wg.Wait()

		state := r.State()
		require.Len(t, state.Results, 1)
		assert.Equal(t, 1, state.CurrentStepIndex)
		assert.Equal(t, StatusRunning, state.Status)
		results, _ := rec.counts()
		assert.Equal(t, 1, results)
	}
}

func TestCurrentObjectiveRemaining(t *testing.T) {
	r, clk, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	clk.Step(12 * time.Second)
	obj := r.CurrentObjective()
	require.NotNil(t, obj)
	assert.True(t, obj.Timed)
	assert.Equal(t, 30, obj.TimeLimitSeconds)
	assert.InDelta(t, 18.0, obj.RemainingSeconds, 0.001)
	assert.Equal(t, 18*time.Second, obj.Remaining())
	assert.Equal(t, 20, obj.PointValue)
	assert.True(t, obj.IsCritical)
}

func TestAbandon(t *testing.T) {
	r, clk, rec := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)
	require.True(t, clk.HasWaiters())

	r.Abandon()
	r.Abandon()
	assert.True(t, r.Abandoned())
	assert.False(t, clk.HasWaiters())
	assert.Nil(t, r.CurrentObjective())

	_, err = r.SubmitAction(scenario.ActionBreakerClose, "confirmado")
	require.ErrorIs(t, err, ErrInvalidState)

	clk.Step(time.Minute)
	r.expire(1)

	state := r.State()
	assert.Equal(t, StatusRunning, state.Status)
	assert.Len(t, state.Results, 1)
	_, finalized := rec.counts()
	assert.Equal(t, 0, finalized)
}

func TestNewOrdersSteps(t *testing.T) {
	steps := quickSteps()
	steps[0], steps[1] = steps[1], steps[0]

	r, _, _ := newTestRunner(t, steps)
	assert.Equal(t, 30, r.MaxPoints())
	assert.Equal(t, 2, r.StepCount())
	assert.Equal(t, "sess-1", r.SessionID())
	assert.Equal(t, "quick", r.ScenarioID())

	obj, err := r.Start()
	require.NoError(t, err)
	assert.Equal(t, 1, obj.Order)
}

func TestStateIsSnapshot(t *testing.T) {
	r, _, _ := newTestRunner(t, quickSteps())
	_, err := r.Start()
	require.NoError(t, err)
	_, err = r.SubmitAction(scenario.ActionBreakerOpen, "")
	require.NoError(t, err)

	state := r.State()
	state.Results[0].PointsAwarded = 500
	assert.Equal(t, 10, r.State().Results[0].PointsAwarded)
}

func TestScorePercent(t *testing.T) {
	tests := []struct {
		total, max, want int
	}{
		{30, 30, 100},
		{10, 30, 33},
		{20, 30, 67},
		{0, 30, 0},
		{1, 200, 1},
		{1, 201, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ScorePercent(tt.total, tt.max), "%d/%d", tt.total, tt.max)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NotStarted", StatusNotStarted.String())
	assert.Equal(t, "Running", StatusRunning.String())
	assert.Equal(t, "Completed", StatusCompleted.String())
	assert.Equal(t, "Unknown", Status(9).String())
}

func TestLogLinesCarryScenario(t *testing.T) {
	var buf bytes.Buffer
	r := New("sess-7", quickSteps(),
		WithClock(testingclock.NewFakeClock(epoch)),
		WithScenarioID("quick"),
		WithLogger(logger.New(&buf, logger.LevelInfo)),
	)
	_, err := r.Start()
	require.NoError(t, err)
	defer r.Abandon()

	assert.Contains(t, buf.String(), "[sess-7] Session started (steps: 2, max points: 30) scenario=quick")
}
