package runner

import (
	"fmt"
	"sync"
	"time"

	"gridsim/internal/events"
	"gridsim/internal/logger"
	"gridsim/internal/scenario"

	"k8s.io/utils/clock"
)

// Option はRunnerの設定を変更する
type Option func(*Runner)

// WithClock は時計を差し替える（テストではFakeClockを使う）
func WithClock(c clock.WithDelayedExecution) Option {
	return func(r *Runner) { r.clock = c }
}

// WithRecorder は結果の保存先を設定する
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithEventBus はイベントバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(r *Runner) { r.eventBus = bus }
}

// WithLogger はロガーを設定する
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithLabels は操作種別の表示名テーブルを設定する
func WithLabels(labels scenario.Labels) Option {
	return func(r *Runner) { r.labels = labels }
}

// WithScenarioID はイベントに載せるシナリオIDを設定する
func WithScenarioID(id string) Option {
	return func(r *Runner) { r.scenarioID = id }
}

// Runner は1回のシナリオ実行を進めるステートマシン
//
// NotStarted --Start--> Running --SubmitAction|OnTimeout--> ... --> Completed
//
// 各ステップはちょうど1回だけ解決され、カタログの順序で進む。
// 制限時間付きのステップには1つのタイマーを予約し、解決時に取り消す。
type Runner struct {
	sessionID  string
	scenarioID string
	steps      []scenario.Step
	maxPoints  int

	clock    clock.WithDelayedExecution
	recorder Recorder
	eventBus *events.Bus
	log      *logger.Logger
	labels   scenario.Labels

	// タイマーのコールバックは別ゴルーチンで動くため状態はmuで保護する
	mu        sync.Mutex
	state     SessionState
	timer     clock.Timer
	abandoned bool
}

// New は新しいRunnerを作成する
// ステップはOrder順に並べ替えられる
func New(sessionID string, steps []scenario.Step, opts ...Option) *Runner {
	ordered := scenario.OrderSteps(steps)
	r := &Runner{
		sessionID: sessionID,
		steps:     ordered,
		maxPoints: scenario.MaxPoints(ordered),
		clock:     clock.RealClock{},
		recorder:  nopRecorder{},
		log:       logger.Default,
		labels:    scenario.DefaultLabels(),
		state: SessionState{
			Status:  StatusNotStarted,
			Results: make([]StepResult, 0, len(ordered)),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("scenario", r.scenarioID)
	return r
}

// SessionID はセッションIDを返す
func (r *Runner) SessionID() string {
	return r.sessionID
}

// ScenarioID はシナリオIDを返す
func (r *Runner) ScenarioID() string {
	return r.scenarioID
}

// MaxPoints は獲得可能な最大得点を返す
func (r *Runner) MaxPoints() int {
	return r.maxPoints
}

// StepCount はステップ数を返す
func (r *Runner) StepCount() int {
	return len(r.steps)
}

// Start はセッションを開始し、最初の目標を返す
func (r *Runner) Start() (StepView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != StatusNotStarted {
		return StepView{}, fmt.Errorf("%w: start called while %s", ErrInvalidState, r.state.Status)
	}
	if len(r.steps) == 0 {
		return StepView{}, fmt.Errorf("%w: scenario has no steps", ErrInvalidState)
	}

	now := r.clock.Now()
	r.state.Status = StatusRunning
	r.state.CurrentStepIndex = 0
	r.state.StepStartedAt = now
	r.armTimerLocked()

	r.log.Info(r.sessionID, "Session started (steps: %d, max points: %d)", len(r.steps), r.maxPoints)
	r.publishEvent(events.NewSessionStartedEvent(r.sessionID, r.scenarioID))

	return r.viewLocked(now), nil
}

// SubmitAction はオペレーターの操作を現在のステップに対して評価する
func (r *Runner) SubmitAction(actionType scenario.ActionType, value string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireRunningLocked("submit action"); err != nil {
		return Outcome{}, err
	}

	now := r.clock.Now()
	step := r.steps[r.state.CurrentStepIndex]
	elapsed := now.Sub(r.state.StepStartedAt)

	return r.resolveLocked(now, resolution{
		correct:  Matches(step, actionType, value),
		action:   string(actionType),
		value:    value,
		response: elapsed,
	}), nil
}

// SubmitActionAt はstepOrderが現在のステップと一致する場合のみ操作を評価する
// 画面表示後にタイムアウトで進んだステップへの誤提出を防ぐ
func (r *Runner) SubmitActionAt(stepOrder int, actionType scenario.ActionType, value string) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireRunningLocked("submit action"); err != nil {
		return Outcome{}, err
	}
	step := r.steps[r.state.CurrentStepIndex]
	if step.Order != stepOrder {
		return Outcome{}, fmt.Errorf("%w: step %d submitted, current is %d", ErrStaleStep, stepOrder, step.Order)
	}

	now := r.clock.Now()
	return r.resolveLocked(now, resolution{
		correct:  Matches(step, actionType, value),
		action:   string(actionType),
		value:    value,
		response: now.Sub(r.state.StepStartedAt),
	}), nil
}

// OnTimeout は現在のステップをタイムアウトとして解決する
// 外部の時計から呼ばれる。制限時間のないステップでも不正解として扱う
func (r *Runner) OnTimeout() (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireRunningLocked("timeout"); err != nil {
		return Outcome{}, err
	}
	return r.timeoutLocked(r.clock.Now()), nil
}

// expire はタイマーから呼ばれる
// 予約時と同じステップがまだ未解決の場合のみ解決する
func (r *Runner) expire(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.abandoned || r.state.Status != StatusRunning || r.state.CurrentStepIndex != index {
		r.log.Debug(r.sessionID, "Stale timer for step index %d ignored", index)
		return
	}
	r.timeoutLocked(r.clock.Now())
}

func (r *Runner) timeoutLocked(now time.Time) Outcome {
	step := r.steps[r.state.CurrentStepIndex]
	response := step.TimeLimit()
	if !step.Timed() {
		response = now.Sub(r.state.StepStartedAt)
	}

	r.log.Warn(r.sessionID, "Step %d timed out", step.Order)
	return r.resolveLocked(now, resolution{
		correct:  false,
		action:   TimeoutAction,
		timedOut: true,
		response: response,
	})
}

// CurrentObjective は現在のステップを返す。Running以外ではnil
func (r *Runner) CurrentObjective() *StepView {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status != StatusRunning || r.abandoned {
		return nil
	}
	v := r.viewLocked(r.clock.Now())
	return &v
}

// State は状態のスナップショットを返す
func (r *Runner) State() SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

// FinalScorePercent は現在の得点率を返す
func (r *Runner) FinalScorePercent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ScorePercent(r.state.TotalPoints, r.maxPoints)
}

// Abandon は実行を放棄し、保留中のタイマーを止める
// 状態はそのまま残り、以降の操作はErrInvalidStateになる
func (r *Runner) Abandon() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.abandoned {
		return
	}
	r.abandoned = true
	r.stopTimerLocked()
	if r.state.Status == StatusRunning {
		r.log.Info(r.sessionID, "Session abandoned at step %d/%d", r.state.CurrentStepIndex+1, len(r.steps))
	}
}

// Abandoned は放棄済みかどうかを返す
func (r *Runner) Abandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

type resolution struct {
	correct  bool
	action   string
	value    string
	timedOut bool
	response time.Duration
}

// resolveLocked は現在のステップを解決し、次へ進めるか完了させる
func (r *Runner) resolveLocked(now time.Time, res resolution) Outcome {
	index := r.state.CurrentStepIndex
	step := r.steps[index]

	r.stopTimerLocked()

	points := 0
	if res.correct {
		points = step.PointValue
	}

	result := StepResult{
		StepID:              step.ID,
		StepOrder:           step.Order,
		ActionType:          step.ActionType,
		ActionPerformed:     res.action,
		Value:               res.value,
		IsCorrect:           res.correct,
		IsCritical:          step.IsCritical,
		TimedOut:            res.timedOut,
		PointsAwarded:       points,
		ResponseTimeSeconds: res.response.Seconds(),
		RecordedAt:          now,
	}
	r.state.Results = append(r.state.Results, result)

	if res.correct {
		r.state.TotalPoints += points
	} else if step.IsCritical {
		r.state.CriticalFailureCount++
	}

	r.recorder.RecordStepResult(r.sessionID, result)

	r.log.Info(r.sessionID, "Step %d/%d resolved: action=%s correct=%v points=%d total=%d",
		step.Order, len(r.steps), res.action, res.correct, points, r.state.TotalPoints)
	r.publishEvent(events.NewStepResolvedEvent(r.sessionID, events.StepResolution{
		StepOrder:       step.Order,
		ActionType:      res.action,
		IsCorrect:       res.correct,
		TimedOut:        res.timedOut,
		Points:          points,
		ResponseSeconds: result.ResponseTimeSeconds,
		TotalPoints:     r.state.TotalPoints,
	}))
	if !res.correct && step.IsCritical {
		r.log.Warn(r.sessionID, "Critical failure on step %d (count: %d)", step.Order, r.state.CriticalFailureCount)
		r.publishEvent(events.NewCriticalFailureEvent(r.sessionID, step.Order, r.state.CriticalFailureCount))
	}

	out := Outcome{
		StepOrder:     step.Order,
		IsCorrect:     res.correct,
		PointsAwarded: points,
		IsCritical:    step.IsCritical,
		TimedOut:      res.timedOut,
		TotalPoints:   r.state.TotalPoints,
	}

	if index+1 < len(r.steps) {
		r.state.CurrentStepIndex = index + 1
		r.state.StepStartedAt = now
		r.armTimerLocked()
		next := r.viewLocked(now)
		out.NextStep = &next
		return out
	}

	r.state.CurrentStepIndex = len(r.steps)
	r.state.Status = StatusCompleted
	score := ScorePercent(r.state.TotalPoints, r.maxPoints)
	out.IsSessionComplete = true
	out.FinalScorePercent = score

	r.recorder.FinalizeSession(r.sessionID, score)

	r.log.Info(r.sessionID, "Session completed: %d/%d points (%d%%), critical failures: %d",
		r.state.TotalPoints, r.maxPoints, score, r.state.CriticalFailureCount)
	r.publishEvent(events.NewSessionCompletedEvent(r.sessionID, r.state.TotalPoints, score, r.state.CriticalFailureCount))

	return out
}

func (r *Runner) requireRunningLocked(op string) error {
	if r.abandoned {
		return fmt.Errorf("%w: %s on abandoned session", ErrInvalidState, op)
	}
	if r.state.Status != StatusRunning {
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, r.state.Status)
	}
	return nil
}

// armTimerLocked は現在のステップに制限時間があればタイマーを予約する
func (r *Runner) armTimerLocked() {
	step := r.steps[r.state.CurrentStepIndex]
	if !step.Timed() {
		return
	}
	index := r.state.CurrentStepIndex
	// 時計の実装によってはロック中にコールバックを呼ぶため、別ゴルーチンで処理する
	r.timer = r.clock.AfterFunc(step.TimeLimit(), func() {
		go r.expire(index)
	})
}

func (r *Runner) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) viewLocked(now time.Time) StepView {
	step := r.steps[r.state.CurrentStepIndex]
	v := StepView{
		StepID:      step.ID,
		Order:       step.Order,
		Description: step.Description,
		ActionType:  step.ActionType,
		ActionLabel: r.labels.Label(step.ActionType),
		PointValue:  step.PointValue,
		IsCritical:  step.IsCritical,
		Timed:       step.Timed(),
	}
	if step.Timed() {
		v.TimeLimitSeconds = step.TimeLimitSeconds
		remaining := step.TimeLimit() - now.Sub(r.state.StepStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		v.RemainingSeconds = remaining.Seconds()
	}
	return v
}

// publishEvent はイベントを発行する
func (r *Runner) publishEvent(event events.Event) {
	if r.eventBus != nil {
		r.eventBus.Publish(event)
	}
}
