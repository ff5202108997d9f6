package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridsim/internal/metrics"
	"gridsim/internal/report"
	"gridsim/internal/runner"
	"gridsim/internal/scenario"
	"gridsim/internal/store"

	"github.com/gorilla/mux"
)

// StepInfo は受講者に見せるステップ情報（期待値は含めない）
type StepInfo struct {
	Order            int                 `json:"order"`
	Description      string              `json:"description"`
	ActionType       scenario.ActionType `json:"action_type"`
	ActionLabel      string              `json:"action_label"`
	PointValue       int                 `json:"point_value"`
	IsCritical       bool                `json:"is_critical"`
	TimeLimitSeconds int                 `json:"time_limit_seconds,omitempty"`
}

// ScenarioResponse はシナリオ詳細レスポンス
type ScenarioResponse struct {
	scenario.Summary
	Steps []StepInfo `json:"steps"`
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.catalog.Scenario(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := ScenarioResponse{
		Summary: sc.Summary(),
		Steps:   make([]StepInfo, 0, len(sc.Steps)),
	}
	for _, st := range sc.Steps {
		resp.Steps = append(resp.Steps, StepInfo{
			Order:            st.Order,
			Description:      st.Description,
			ActionType:       st.ActionType,
			ActionLabel:      s.labels.Label(st.ActionType),
			PointValue:       st.PointValue,
			IsCritical:       st.IsCritical,
			TimeLimitSeconds: st.TimeLimitSeconds,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScenarioGraph(w http.ResponseWriter, r *http.Request) {
	sc, err := s.catalog.Scenario(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}

	dot, err := scenario.Graph(sc, s.labels)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	_, _ = w.Write([]byte(dot))
}

// CreateSessionRequest はセッション開始リクエスト
type CreateSessionRequest struct {
	ScenarioID string `json:"scenario_id"`
	Operator   string `json:"operator,omitempty"`
}

// SessionResponse はセッションの状態
type SessionResponse struct {
	SessionID    string              `json:"session_id"`
	ScenarioID   string              `json:"scenario_id"`
	ScenarioName string              `json:"scenario_name"`
	Operator     string              `json:"operator,omitempty"`
	MaxPoints    int                 `json:"max_points"`
	ScorePercent int                 `json:"score_percent"`
	State        runner.SessionState `json:"state"`
	Objective    *runner.StepView    `json:"objective,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ScenarioID = strings.TrimSpace(req.ScenarioID)
	if req.ScenarioID == "" {
		s.writeError(w, http.StatusBadRequest, "scenario_id is required")
		return
	}

	sc, err := s.catalog.Scenario(r.Context(), req.ScenarioID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	steps, err := s.catalog.GetSteps(r.Context(), sc.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	id := s.newID()
	run := runner.New(id, steps,
		runner.WithClock(s.clock),
		runner.WithRecorder(s.recorder),
		runner.WithEventBus(s.eventBus),
		runner.WithLogger(s.log),
		runner.WithLabels(s.labels),
		runner.WithScenarioID(sc.ID),
	)

	s.recorder.Begin(store.SessionRecord{
		ID:           id,
		ScenarioID:   sc.ID,
		ScenarioName: sc.Name,
		Operator:     strings.TrimSpace(req.Operator),
		StepCount:    len(steps),
		MaxPoints:    run.MaxPoints(),
		StartedAt:    s.clock.Now(),
	})

	sess := &session{
		runner:   run,
		scenario: sc,
		operator: strings.TrimSpace(req.Operator),
		created:  s.clock.Now(),
	}

	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, fmt.Sprintf("session %s already exists", id))
		return
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	if _, err := run.Start(); err != nil {
		s.removeSession(id)
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, s.sessionResponse(id, sess))
}

// SessionListItem はセッション一覧の1件
type SessionListItem struct {
	SessionID  string `json:"session_id"`
	ScenarioID string `json:"scenario_id"`
	Operator   string `json:"operator,omitempty"`
	Status     string `json:"status"`
	Step       int    `json:"step"`
	StepCount  int    `json:"step_count"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	items := make([]SessionListItem, 0, len(s.sessions))
	for id, sess := range s.sessions {
		state := sess.runner.State()
		items = append(items, SessionListItem{
			SessionID:  id,
			ScenarioID: sess.scenario.ID,
			Operator:   sess.operator,
			Status:     state.Status.String(),
			Step:       state.CurrentStepIndex,
			StepCount:  sess.runner.StepCount(),
		})
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].SessionID < items[j].SessionID })
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.getSession(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.sessionResponse(id, sess))
}

// ActionRequest は操作の提出リクエスト
// Stepを指定すると、そのステップが既に解決済みの場合は409を返す
type ActionRequest struct {
	ActionType scenario.ActionType `json:"action_type"`
	Value      string              `json:"value,omitempty"`
	Step       *int                `json:"step,omitempty"`
}

func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.getSession(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(string(req.ActionType)) == "" {
		s.writeError(w, http.StatusBadRequest, "action_type is required")
		return
	}

	var (
		out runner.Outcome
		err error
	)
	if req.Step != nil {
		out, err = sess.runner.SubmitActionAt(*req.Step, req.ActionType, req.Value)
	} else {
		out, err = sess.runner.SubmitAction(req.ActionType, req.Value)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.getSession(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	out, err := sess.runner.OnTimeout()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.removeSession(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.runner.Abandon()
	w.WriteHeader(http.StatusNoContent)
}

// HistoryDetail は履歴1件の詳細
type HistoryDetail struct {
	Record store.SessionRecord `json:"record"`
	Result report.Result       `json:"result"`
	Report string              `json:"report"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.history.ListSessions(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	results := make([]report.Result, 0, len(records))
	for _, rec := range records {
		res, err := report.FromRecord(rec, s.criteria)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		results = append(results, res)
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	records, err := s.history.ListSessions(r.Context(), 0)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	summaries, err := report.Aggregate(records, s.criteria)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not configured")
		return
	}

	rec, err := s.history.SessionByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	res, err := report.FromRecord(*rec, s.criteria)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HistoryDetail{
		Record: *rec,
		Result: res,
		Report: res.Report(),
	})
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	metrics.Snapshot
	ActiveSessions int     `json:"active_sessions"`
	AvgResponseSec float64 `json:"avg_response_seconds"`
	P99ResponseSec float64 `json:"p99_response_seconds"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := MetricsResponse{ActiveSessions: s.SessionCount()}
	if s.metrics != nil {
		resp.Snapshot = s.metrics.Snapshot()
		resp.AvgResponseSec = resp.AverageResponse.Round(time.Millisecond).Seconds()
		resp.P99ResponseSec = resp.P99Response.Round(time.Millisecond).Seconds()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSession(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) removeSession(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

func (s *Server) sessionResponse(id string, sess *session) SessionResponse {
	state := sess.runner.State()
	return SessionResponse{
		SessionID:    id,
		ScenarioID:   sess.scenario.ID,
		ScenarioName: sess.scenario.Name,
		Operator:     sess.operator,
		MaxPoints:    sess.runner.MaxPoints(),
		ScorePercent: runner.ScorePercent(state.TotalPoints, sess.runner.MaxPoints()),
		State:        state,
		Objective:    sess.runner.CurrentObjective(),
	}
}
