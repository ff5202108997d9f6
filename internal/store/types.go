package store

import "time"

type StepRecord struct {
	StepID              string    `json:"step_id"`
	StepOrder           int       `json:"step_order"`
	ActionType          string    `json:"action_type"`
	ActionPerformed     string    `json:"action_performed"`
	Value               string    `json:"value,omitempty"`
	IsCorrect           bool      `json:"is_correct"`
	IsCritical          bool      `json:"is_critical"`
	TimedOut            bool      `json:"timed_out,omitempty"`
	PointsAwarded       int       `json:"points_awarded"`
	ResponseTimeSeconds float64   `json:"response_time_seconds"`
	RecordedAt          time.Time `json:"recorded_at"`
}

type SessionRecord struct {
	ID                string       `json:"id"`
	ScenarioID        string       `json:"scenario_id"`
	ScenarioName      string       `json:"scenario_name,omitempty"`
	Operator          string       `json:"operator,omitempty"`
	StepCount         int          `json:"step_count"`
	MaxPoints         int          `json:"max_points"`
	StartedAt         time.Time    `json:"started_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	FinalScorePercent int          `json:"final_score_percent"`
	Steps             []StepRecord `json:"steps"`
}

func (r SessionRecord) Completed() bool {
	return r.CompletedAt != nil
}

func (r SessionRecord) TotalPoints() int {
	total := 0
	for _, s := range r.Steps {
		total += s.PointsAwarded
	}
	return total
}

func (r SessionRecord) CriticalFailures() int {
	n := 0
	for _, s := range r.Steps {
		if s.IsCritical && !s.IsCorrect {
			n++
		}
	}
	return n
}

func (r SessionRecord) CorrectSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.IsCorrect {
			n++
		}
	}
	return n
}

func (r SessionRecord) Timeouts() int {
	n := 0
	for _, s := range r.Steps {
		if s.TimedOut {
			n++
		}
	}
	return n
}
