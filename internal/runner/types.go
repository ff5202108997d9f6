package runner

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gridsim/internal/scenario"
)

// ErrInvalidState は現在の状態では許されない操作が呼ばれたことを示す
// 呼び出し側のバグであり、リトライしてはならない
var ErrInvalidState = errors.New("invalid runner state")

// ErrStaleStep は既に解決済みのステップへの提出を示す
var ErrStaleStep = errors.New("stale step")

// TimeoutAction はタイムアウトで解決されたステップの操作名
const TimeoutAction = "timeout"

// Status はセッションの状態
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NotStarted"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// MarshalText はJSON出力用
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusNotStarted, StatusRunning, StatusCompleted} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// StepResult は1ステップの解決結果（作成後は不変）
type StepResult struct {
	StepID              string              `json:"step_id"`
	StepOrder           int                 `json:"step_order"`
	ActionType          scenario.ActionType `json:"action_type"`
	ActionPerformed     string              `json:"action_performed"`
	Value               string              `json:"value,omitempty"`
	IsCorrect           bool                `json:"is_correct"`
	IsCritical          bool                `json:"is_critical"`
	TimedOut            bool                `json:"timed_out"`
	PointsAwarded       int                 `json:"points_awarded"`
	ResponseTimeSeconds float64             `json:"response_time_seconds"`
	RecordedAt          time.Time           `json:"recorded_at"`
}

// SessionState はランナーが排他的に所有するセッション状態
type SessionState struct {
	CurrentStepIndex     int          `json:"current_step_index"`
	TotalPoints          int          `json:"total_points"`
	CriticalFailureCount int          `json:"critical_failure_count"`
	Results              []StepResult `json:"results"`
	Status               Status       `json:"status"`
	StepStartedAt        time.Time    `json:"step_started_at"`
}

// clone は結果スライスを含めたコピーを返す
func (s SessionState) clone() SessionState {
	out := s
	out.Results = make([]StepResult, len(s.Results))
	copy(out.Results, s.Results)
	return out
}

// StepView は現在のステップの読み取り専用ビュー
type StepView struct {
	StepID           string              `json:"step_id"`
	Order            int                 `json:"order"`
	Description      string              `json:"description"`
	ActionType       scenario.ActionType `json:"action_type"`
	ActionLabel      string              `json:"action_label"`
	PointValue       int                 `json:"point_value"`
	IsCritical       bool                `json:"is_critical"`
	Timed            bool                `json:"timed"`
	TimeLimitSeconds int                 `json:"time_limit_seconds,omitempty"`
	RemainingSeconds float64             `json:"remaining_seconds,omitempty"`
}

// Remaining は残り時間を返す（無制限の場合は0）
func (v StepView) Remaining() time.Duration {
	return time.Duration(v.RemainingSeconds * float64(time.Second))
}

// Outcome は1回の解決の結果
type Outcome struct {
	StepOrder         int       `json:"step_order"`
	IsCorrect         bool      `json:"is_correct"`
	PointsAwarded     int       `json:"points_awarded"`
	IsCritical        bool      `json:"is_critical"`
	TimedOut          bool      `json:"timed_out"`
	TotalPoints       int       `json:"total_points"`
	IsSessionComplete bool      `json:"is_session_complete"`
	FinalScorePercent int       `json:"final_score_percent,omitempty"`
	NextStep          *StepView `json:"next_step,omitempty"`
}

// Recorder はステップ結果と最終得点の保存先
// 呼び出しは投げっぱなしで、ランナーの遷移を妨げてはならない
type Recorder interface {
	RecordStepResult(sessionID string, result StepResult)
	FinalizeSession(sessionID string, finalScorePercent int)
}

type nopRecorder struct{}

func (nopRecorder) RecordStepResult(string, StepResult) {}
func (nopRecorder) FinalizeSession(string, int)         {}

// Matches は提出された操作がステップの要求を満たすかどうかを返す
// 期待値の比較は前後の空白を除いた大文字小文字無視の完全一致のみ
func Matches(step scenario.Step, actionType scenario.ActionType, value string) bool {
	if actionType != step.ActionType {
		return false
	}
	if !step.HasExpectedValue() {
		return true
	}
	return normalize(value) == normalize(step.ExpectedValue)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ScorePercent は round(100 * total / max) を返す
// 満点が0のシナリオは0%とする
func ScorePercent(total, max int) int {
	if max <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(total) / float64(max)))
}
