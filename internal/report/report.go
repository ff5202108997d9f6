package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gridsim/internal/grading"
	"gridsim/internal/store"
)

// StepLine はレポートの1ステップ分の行
type StepLine struct {
	Order           int     `json:"order"`
	ActionType      string  `json:"action_type"`
	Performed       string  `json:"performed"`
	IsCorrect       bool    `json:"is_correct"`
	IsCritical      bool    `json:"is_critical"`
	TimedOut        bool    `json:"timed_out"`
	Points          int     `json:"points"`
	ResponseSeconds float64 `json:"response_seconds"`
}

// Result はセッション1回分の採点結果
type Result struct {
	SessionID        string        `json:"session_id"`
	ScenarioID       string        `json:"scenario_id"`
	ScenarioName     string        `json:"scenario_name"`
	Operator         string        `json:"operator,omitempty"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	Completed        bool          `json:"completed"`
	TotalPoints      int           `json:"total_points"`
	MaxPoints        int           `json:"max_points"`
	ScorePercent     int           `json:"score_percent"`
	StepCount        int           `json:"step_count"`
	CorrectSteps     int           `json:"correct_steps"`
	CriticalFailures int           `json:"critical_failures"`
	Timeouts         int           `json:"timeouts"`
	AvgResponse      time.Duration `json:"avg_response"`
	Criteria         string        `json:"criteria,omitempty"`
	Passed           bool          `json:"passed"`
	Steps            []StepLine    `json:"steps"`
}

// FromRecord は保存済みのセッションから結果を組み立てる
// criteriaがnilの場合は常に合格扱い
func FromRecord(rec store.SessionRecord, criteria *grading.Criteria) (Result, error) {
	if criteria == nil {
		criteria = &grading.Criteria{}
	}

	facts := grading.FactsFromRecord(rec)
	passed := false
	if rec.Completed() {
		ok, err := criteria.Evaluate(facts)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate criteria: %w", err)
		}
		passed = ok
	}

	res := Result{
		SessionID:        rec.ID,
		ScenarioID:       rec.ScenarioID,
		ScenarioName:     rec.ScenarioName,
		Operator:         rec.Operator,
		StartTime:        rec.StartedAt,
		Completed:        rec.Completed(),
		TotalPoints:      facts.TotalPoints,
		MaxPoints:        facts.MaxPoints,
		ScorePercent:     facts.Score,
		StepCount:        facts.Steps,
		CorrectSteps:     facts.CorrectSteps,
		CriticalFailures: facts.CriticalFailures,
		Timeouts:         facts.Timeouts,
		Criteria:         criteria.String(),
		Passed:           passed,
		Steps:            make([]StepLine, 0, len(rec.Steps)),
	}
	if res.ScenarioName == "" {
		res.ScenarioName = rec.ScenarioID
	}
	if rec.CompletedAt != nil {
		res.EndTime = *rec.CompletedAt
		res.Duration = res.EndTime.Sub(res.StartTime)
	}

	var totalResponse float64
	for _, s := range rec.Steps {
		totalResponse += s.ResponseTimeSeconds
		res.Steps = append(res.Steps, StepLine{
			Order:           s.StepOrder,
			ActionType:      s.ActionType,
			Performed:       s.ActionPerformed,
			IsCorrect:       s.IsCorrect,
			IsCritical:      s.IsCritical,
			TimedOut:        s.TimedOut,
			Points:          s.PointsAwarded,
			ResponseSeconds: s.ResponseTimeSeconds,
		})
	}
	if len(rec.Steps) > 0 {
		avg := totalResponse / float64(len(rec.Steps))
		res.AvgResponse = time.Duration(avg * float64(time.Second))
	}

	return res, nil
}

// Verdict は合否の表示文字列を返す
func (r *Result) Verdict() string {
	switch {
	case !r.Completed:
		return "INCOMPLETE"
	case r.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// Report はテキスト形式のレポートを返す
func (r *Result) Report() string {
	end := "-"
	if r.Completed {
		end = r.EndTime.Format("2006-01-02 15:04:05")
	}
	operator := r.Operator
	if operator == "" {
		operator = "-"
	}
	criteria := r.Criteria
	if criteria == "" {
		criteria = "(none)"
	}

	report := fmt.Sprintf(`
================================================================================
                         TRAINING REPORT: %s
================================================================================

SESSION SUMMARY
---------------
  Session:        %s
  Operator:       %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

SCORE
-----
  Points:           %d / %d
  Score:            %d%%
  Correct Steps:    %d / %d
  Critical Fails:   %d
  Timeouts:         %d
  Avg Response:     %v

GRADE
-----
  Criteria:         %s
  Result:           %s

STEP RESULTS
------------
`,
		r.ScenarioName,
		r.SessionID,
		operator,
		r.StartTime.Format("2006-01-02 15:04:05"),
		end,
		r.Duration.Round(time.Second),
		r.TotalPoints, r.MaxPoints,
		r.ScorePercent,
		r.CorrectSteps, r.StepCount,
		r.CriticalFailures,
		r.Timeouts,
		r.AvgResponse.Round(100*time.Millisecond),
		criteria,
		r.Verdict(),
	)

	for _, s := range r.Steps {
		mark := "OK "
		switch {
		case s.TimedOut:
			mark = "T/O"
		case !s.IsCorrect:
			mark = "NG "
		}
		critical := ""
		if s.IsCritical && !s.IsCorrect {
			critical = "  CRITICAL"
		}
		report += fmt.Sprintf("  %2d. [%s] %-20s %3d pts  %6.1fs%s\n",
			s.Order, mark, s.ActionType, s.Points, s.ResponseSeconds, critical)
	}

	report += "\n================================================================================"

	return report
}

// Summary はシナリオごとの集計
type Summary struct {
	ScenarioID       string  `json:"scenario_id"`
	Sessions         int     `json:"sessions"`
	AverageScore     float64 `json:"average_score"`
	BestScore        int     `json:"best_score"`
	CriticalFailures int     `json:"critical_failures"`
	Passed           int     `json:"passed"`
	PassRate         float64 `json:"pass_rate"`
}

// Aggregate は完了済みセッションをシナリオごとに集計する
// 平均得点は得点の合計を満点の合計で割った値（配点で重み付け）
func Aggregate(records []store.SessionRecord, criteria *grading.Criteria) ([]Summary, error) {
	if criteria == nil {
		criteria = &grading.Criteria{}
	}

	type acc struct {
		Summary
		points, max int
	}
	byScenario := make(map[string]*acc)

	for _, rec := range records {
		if !rec.Completed() {
			continue
		}
		a, ok := byScenario[rec.ScenarioID]
		if !ok {
			a = &acc{Summary: Summary{ScenarioID: rec.ScenarioID}}
			byScenario[rec.ScenarioID] = a
		}

		facts := grading.FactsFromRecord(rec)
		passed, err := criteria.Evaluate(facts)
		if err != nil {
			return nil, fmt.Errorf("evaluate criteria for %s: %w", rec.ID, err)
		}

		a.Sessions++
		a.points += facts.TotalPoints
		a.max += facts.MaxPoints
		a.CriticalFailures += facts.CriticalFailures
		if facts.Score > a.BestScore {
			a.BestScore = facts.Score
		}
		if passed {
			a.Passed++
		}
	}

	out := make([]Summary, 0, len(byScenario))
	for _, a := range byScenario {
		if a.max > 0 {
			a.AverageScore = 100 * float64(a.points) / float64(a.max)
		}
		a.PassRate = float64(a.Passed) / float64(a.Sessions)
		out = append(out, a.Summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScenarioID < out[j].ScenarioID })
	return out, nil
}

// SummaryTable は集計結果を表形式の文字列にする
func SummaryTable(summaries []Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %8s %9s %6s %9s %9s\n", "SCENARIO", "SESSIONS", "AVG SCORE", "BEST", "CRITICAL", "PASS RATE")
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-22s %8d %8.1f%% %5d%% %9d %8.0f%%\n",
			s.ScenarioID, s.Sessions, s.AverageScore, s.BestScore, s.CriticalFailures, s.PassRate*100)
	}
	return b.String()
}
