package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"gridsim/internal/grading"
	"gridsim/internal/logger"
	"gridsim/internal/report"
	"gridsim/internal/runner"
	"gridsim/internal/store"
)

// GradeRequest carries a recorded session and an optional rule overriding the default.
type GradeRequest struct {
	Session       store.SessionRecord `json:"session"`
	PassCriteria  string              `json:"pass_criteria,omitempty"`
	IncludeReport bool                `json:"include_report,omitempty"`
}

type GradeResponse struct {
	Result report.Result `json:"result"`
	Report string        `json:"report,omitempty"`
}

type Handler struct {
	criteria *grading.Criteria
	log      *logger.Logger
}

func NewHandler(criteria *grading.Criteria, log *logger.Logger) *Handler {
	if criteria == nil {
		criteria = &grading.Criteria{}
	}
	if log == nil {
		log = logger.Default
	}
	return &Handler{criteria: criteria, log: log}
}

func (h *Handler) Grade(_ context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid body", "details": err.Error()}), nil
	}

	var in GradeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()}), nil
	}
	if strings.TrimSpace(in.Session.ID) == "" {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "session.id is required"}), nil
	}

	criteria := h.criteria
	if strings.TrimSpace(in.PassCriteria) != "" {
		criteria, err = grading.Compile(in.PassCriteria)
		if err != nil {
			return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid pass_criteria", "details": err.Error()}), nil
		}
	}

	rec := in.Session
	if err := checkPoints(rec); err != nil {
		h.log.Warn(rec.ID, "Rejected session: %v", err)
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid session", "details": err.Error()}), nil
	}
	// the submitted score is recomputed from the steps
	if rec.Completed() {
		rec.FinalScorePercent = runner.ScorePercent(rec.TotalPoints(), rec.MaxPoints)
	}

	res, err := report.FromRecord(rec, criteria)
	if err != nil {
		h.log.Error(rec.ID, "Grading failed: %v", err)
		return jsonResp(http.StatusUnprocessableEntity, map[string]any{"error": "grading failed", "details": err.Error()}), nil
	}
	h.log.Info(rec.ID, "Graded session (scenario: %s, score: %d%%, verdict: %s)",
		rec.ScenarioID, res.ScorePercent, res.Verdict())

	out := GradeResponse{Result: res}
	if in.IncludeReport {
		out.Report = res.Report()
	}
	return jsonResp(http.StatusOK, out), nil
}

// checkPoints rejects step points that a runner could never have awarded.
func checkPoints(rec store.SessionRecord) error {
	if rec.MaxPoints < 0 {
		return fmt.Errorf("max_points must be non-negative, got %d", rec.MaxPoints)
	}
	for _, s := range rec.Steps {
		switch {
		case s.PointsAwarded < 0:
			return fmt.Errorf("step %d: negative points_awarded %d", s.StepOrder, s.PointsAwarded)
		case s.PointsAwarded != 0 && !s.IsCorrect:
			return fmt.Errorf("step %d: points awarded to an incorrect step", s.StepOrder)
		}
	}
	if total := rec.TotalPoints(); total > rec.MaxPoints {
		return fmt.Errorf("total points %d exceed max_points %d", total, rec.MaxPoints)
	}
	return nil
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"error":"failed to encode response"}`,
		}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
