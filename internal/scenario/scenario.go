package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActionType はオペレーターに要求される操作の種類
type ActionType string

const (
	ActionBreakerOpen      ActionType = "breaker_open"
	ActionBreakerClose     ActionType = "breaker_close"
	ActionAdjustVoltage    ActionType = "adjust_voltage"
	ActionIsolateLine      ActionType = "isolate_line"
	ActionGroundLine       ActionType = "ground_line"
	ActionVerifyNoVoltage  ActionType = "verify_no_voltage"
	ActionNotifyDispatch   ActionType = "notify_dispatch"
	ActionAcknowledgeAlarm ActionType = "acknowledge_alarm"
	ActionRestoreFeeder    ActionType = "restore_feeder"
	ActionTransferLoad     ActionType = "transfer_load"
)

// KnownActions は組み込みの操作種別を定義順で返す
func KnownActions() []ActionType {
	return []ActionType{
		ActionBreakerOpen,
		ActionBreakerClose,
		ActionAdjustVoltage,
		ActionIsolateLine,
		ActionGroundLine,
		ActionVerifyNoVoltage,
		ActionNotifyDispatch,
		ActionAcknowledgeAlarm,
		ActionRestoreFeeder,
		ActionTransferLoad,
	}
}

// ErrInvalidScenario はシナリオ定義の検証エラー
var ErrInvalidScenario = errors.New("invalid scenario")

// Step はシナリオの1ステップ（カタログから読み込まれ、不変）
type Step struct {
	ID               string     `json:"id" yaml:"id"`
	Order            int        `json:"order" yaml:"order"`
	Description      string     `json:"description" yaml:"description"`
	ActionType       ActionType `json:"action_type" yaml:"action_type"`
	ExpectedValue    string     `json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
	PointValue       int        `json:"point_value" yaml:"point_value"`
	IsCritical       bool       `json:"is_critical" yaml:"is_critical"`
	TimeLimitSeconds int        `json:"time_limit_seconds,omitempty" yaml:"time_limit_seconds,omitempty"`
}

// HasExpectedValue は値の一致が必要なステップかどうかを返す
func (s Step) HasExpectedValue() bool {
	return strings.TrimSpace(s.ExpectedValue) != ""
}

// TimeLimit は制限時間を返す（0は無制限）
func (s Step) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitSeconds) * time.Second
}

// Timed は制限時間付きのステップかどうかを返す
func (s Step) Timed() bool {
	return s.TimeLimitSeconds > 0
}

// Scenario は順序付きステップを持つ訓練シナリオ
type Scenario struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Summary は一覧表示用の概要
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StepCount   int    `json:"step_count"`
	MaxPoints   int    `json:"max_points"`
}

// Summary はシナリオの概要を返す
func (s Scenario) Summary() Summary {
	return Summary{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		StepCount:   len(s.Steps),
		MaxPoints:   s.MaxPoints(),
	}
}

// Ordered はOrder順に並べたステップのコピーを返す
// IDが空のステップには "step-<order>" を割り当てる
func (s Scenario) Ordered() []Step {
	return OrderSteps(s.Steps)
}

// OrderSteps はステップをOrder順に並べたコピーを返す
func OrderSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("step-%d", out[i].Order)
		}
	}
	return out
}

// MaxPoints は獲得可能な最大得点を返す
func (s Scenario) MaxPoints() int {
	return MaxPoints(s.Steps)
}

// MaxPoints はステップの得点合計を返す
func MaxPoints(steps []Step) int {
	total := 0
	for _, st := range steps {
		total += st.PointValue
	}
	return total
}

// Validate はシナリオ定義を検証する
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScenario)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: scenario %s has no steps", ErrInvalidScenario, s.ID)
	}
	return ValidateSteps(s.Steps)
}

// ValidateSteps はステップ列を検証する
// Orderは1から始まる連番でなければならない
func ValidateSteps(steps []Step) error {
	ordered := OrderSteps(steps)
	for i, st := range ordered {
		if st.Order != i+1 {
			return fmt.Errorf("%w: step orders must be unique and contiguous from 1 (found %d at position %d)",
				ErrInvalidScenario, st.Order, i+1)
		}
		if strings.TrimSpace(string(st.ActionType)) == "" {
			return fmt.Errorf("%w: step %d has no action_type", ErrInvalidScenario, st.Order)
		}
		if st.PointValue < 0 {
			return fmt.Errorf("%w: step %d has negative point_value", ErrInvalidScenario, st.Order)
		}
		if st.TimeLimitSeconds < 0 {
			return fmt.Errorf("%w: step %d has negative time limit", ErrInvalidScenario, st.Order)
		}
	}
	return nil
}
