package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"gridsim/internal/grading"
	"gridsim/internal/logger"
	"gridsim/internal/store"
)

var quiet = logger.New(io.Discard, logger.LevelError)

func session(criticalCorrect bool) store.SessionRecord {
	started := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	completed := started.Add(40 * time.Second)
	second := store.StepRecord{StepID: "step-2", StepOrder: 2, ActionType: "breaker_close", ActionPerformed: "breaker_close", IsCritical: true, ResponseTimeSeconds: 30}
	if criticalCorrect {
		second.IsCorrect = true
		second.PointsAwarded = 20
	}
	return store.SessionRecord{
		ID:                "sess-1",
		ScenarioID:        "quick",
		StepCount:         2,
		MaxPoints:         30,
		StartedAt:         started,
		CompletedAt:       &completed,
		FinalScorePercent: 100,
		Steps: []store.StepRecord{
			{StepID: "step-1", StepOrder: 1, ActionType: "breaker_open", ActionPerformed: "breaker_open", IsCorrect: true, PointsAwarded: 10, ResponseTimeSeconds: 4},
			second,
		},
	}
}

func request(t *testing.T, in GradeRequest) events.APIGatewayV2HTTPRequest {
	t.Helper()
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	return events.APIGatewayV2HTTPRequest{Body: string(b)}
}

func decode(t *testing.T, resp events.APIGatewayV2HTTPResponse) GradeResponse {
	t.Helper()
	var out GradeResponse
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHandler_Grade_InvalidJSON(t *testing.T) {
	h := NewHandler(nil, quiet)

	resp, err := h.Grade(context.Background(), events.APIGatewayV2HTTPRequest{Body: "{"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestHandler_Grade_MissingSessionID(t *testing.T) {
	h := NewHandler(nil, quiet)

	resp, err := h.Grade(context.Background(), events.APIGatewayV2HTTPRequest{Body: `{"session":{}}`})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestHandler_Grade_RecomputesScore(t *testing.T) {
	h := NewHandler(grading.MustCompile("score >= 70 && critical_failures == 0"), quiet)

	resp, err := h.Grade(context.Background(), request(t, GradeRequest{Session: session(false)}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	out := decode(t, resp)
	if out.Result.ScorePercent != 33 {
		t.Fatalf("expected recomputed score 33, got %d", out.Result.ScorePercent)
	}
	if out.Result.Passed {
		t.Fatalf("expected a failed verdict")
	}
	if out.Result.CriticalFailures != 1 {
		t.Fatalf("expected 1 critical failure, got %d", out.Result.CriticalFailures)
	}
	if out.Report != "" {
		t.Fatalf("report text should be omitted unless requested")
	}
}

func TestHandler_Grade_CriteriaOverrideAndReport(t *testing.T) {
	h := NewHandler(grading.MustCompile("score == 100"), quiet)

	in := GradeRequest{Session: session(false), PassCriteria: "correct_steps >= 1", IncludeReport: true}
	b, _ := json.Marshal(in)
	req := events.APIGatewayV2HTTPRequest{
		Body:            base64.StdEncoding.EncodeToString(b),
		IsBase64Encoded: true,
	}

	resp, err := h.Grade(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, resp.Body)
	}

	out := decode(t, resp)
	if !out.Result.Passed {
		t.Fatalf("expected override criteria to pass")
	}
	if out.Result.Criteria != "correct_steps >= 1" {
		t.Fatalf("unexpected criteria %q", out.Result.Criteria)
	}
	if !strings.Contains(out.Report, "PASS") {
		t.Fatalf("expected text report, got %q", out.Report)
	}
}

func TestHandler_Grade_InvalidCriteria(t *testing.T) {
	h := NewHandler(nil, quiet)

	resp, err := h.Grade(context.Background(), request(t, GradeRequest{Session: session(true), PassCriteria: "len(steps) > 1"}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestHandler_Grade_IncompleteSession(t *testing.T) {
	h := NewHandler(nil, quiet)

	rec := session(true)
	rec.CompletedAt = nil
	rec.Steps = rec.Steps[:1]

	resp, err := h.Grade(context.Background(), request(t, GradeRequest{Session: rec}))
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, resp)
	if out.Result.Completed || out.Result.Passed {
		t.Fatalf("incomplete session must not pass: %+v", out.Result)
	}
}

func TestHandler_Grade_RejectsForgedPoints(t *testing.T) {
	h := NewHandler(grading.MustCompile("score >= 70 && critical_failures == 0"), quiet)

	tests := []struct {
		name   string
		mutate func(*store.SessionRecord)
	}{
		{"points on incorrect step", func(r *store.SessionRecord) {
			r.MaxPoints = 10
			r.Steps = []store.StepRecord{{StepID: "step-1", StepOrder: 1, ActionType: "breaker_open", IsCorrect: false, PointsAwarded: 50}}
		}},
		{"negative points", func(r *store.SessionRecord) { r.Steps[0].PointsAwarded = -10 }},
		{"total above max", func(r *store.SessionRecord) { r.Steps[0].PointsAwarded = 100 }},
		{"negative max points", func(r *store.SessionRecord) { r.MaxPoints = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := session(true)
			tt.mutate(&rec)

			resp, err := h.Grade(context.Background(), request(t, GradeRequest{Session: rec}))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != 400 {
				t.Fatalf("expected status 400, got %d: %s", resp.StatusCode, resp.Body)
			}
		})
	}
}
