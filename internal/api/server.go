package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"gridsim/internal/catalog"
	"gridsim/internal/events"
	"gridsim/internal/grading"
	"gridsim/internal/logger"
	"gridsim/internal/metrics"
	"gridsim/internal/recorder"
	"gridsim/internal/runner"
	"gridsim/internal/scenario"
	"gridsim/internal/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/websocket"
	"k8s.io/utils/clock"
)

// History は完了済みセッションの参照先
type History interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	SessionByID(ctx context.Context, id string) (*store.SessionRecord, error)
}

// DefaultRetention は完了済みセッションを保持する既定の時間
const DefaultRetention = 10 * time.Minute

// Option はServerの設定を変更する
type Option func(*Server)

// WithHistory は履歴の参照先を設定する
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithRecorder はランナーに渡す記録係を設定する
func WithRecorder(rec recorder.SessionRecorder) Option {
	return func(s *Server) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// WithEventBus はイベントバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(s *Server) {
		if bus != nil {
			s.eventBus = bus
		}
	}
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCriteria は合格条件を設定する
func WithCriteria(c *grading.Criteria) Option {
	return func(s *Server) {
		if c != nil {
			s.criteria = c
		}
	}
}

// WithClock はランナーの時計を設定する
func WithClock(c clock.WithDelayedExecution) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger はロガーを設定する
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetention は完了済みセッションをメモリに残す時間を設定する
// 0以下の場合はDELETEされるまで保持する
func WithRetention(d time.Duration) Option {
	return func(s *Server) { s.retention = d }
}

// WithIDGenerator はセッションIDの生成方法を設定する
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

type session struct {
	runner   *runner.Runner
	scenario scenario.Scenario
	operator string
	created  time.Time
}

// Server はAPIサーバー
type Server struct {
	addr     string
	catalog  catalog.Catalog
	history  History
	recorder recorder.SessionRecorder
	eventBus *events.Bus
	metrics  *metrics.Metrics
	criteria *grading.Criteria
	labels   scenario.Labels
	clock    clock.WithDelayedExecution
	log      *logger.Logger
	newID    func() string
	// 完了後にセッションを保持する時間
	retention time.Duration

	mu        sync.RWMutex
	sessions  map[string]*session
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string, cat catalog.Catalog, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		catalog:   cat,
		recorder:  recorder.Nop{},
		eventBus:  events.NewBus(),
		criteria:  &grading.Criteria{},
		labels:    scenario.DefaultLabels(),
		clock:     clock.RealClock{},
		log:       logger.Default,
		newID:     uuid.NewString,
		retention: DefaultRetention,
		sessions:  make(map[string]*session),
		wsClients: make(map[*websocket.Conn]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Route はルーティングを登録する
func (s *Server) Route(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	// Scenarios
	api.HandleFunc("/scenarios", s.handleListScenarios).Methods(http.MethodGet)
	api.HandleFunc("/scenarios/{id}", s.handleGetScenario).Methods(http.MethodGet)
	api.HandleFunc("/scenarios/{id}/graph", s.handleScenarioGraph).Methods(http.MethodGet)

	// Sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleAbandonSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/actions", s.handleSubmitAction).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/timeout", s.handleTimeout).Methods(http.MethodPost)

	// History
	api.HandleFunc("/history", s.handleListHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/summary", s.handleHistorySummary).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", s.handleGetHistory).Methods(http.MethodGet)

	// Metrics
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	// WebSocket
	r.Handle("/ws", websocket.Handler(s.handleWebSocket))
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Route(r)
	return r
}

// Start はサーバーを開始する
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// バックグラウンドでイベント配信
	go s.broadcastLoop(ctx)
	s.watchCompleted(ctx)

	s.log.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.abandonAll()
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// abandonAll は全セッションのタイマーを止める
func (s *Server) abandonAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		sess.runner.Abandon()
		delete(s.sessions, id)
	}
}

// watchCompleted は完了したセッションを保持期間の経過後にメモリから外す
func (s *Server) watchCompleted(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	ch := s.eventBus.SubscribeFiltered(func(e events.Event) bool {
		return e.Type == events.EventSessionCompleted
	})

	go func() {
		defer s.eventBus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				id := e.SessionID
				s.clock.AfterFunc(s.retention, func() { s.evict(id) })
			}
		}
	}()
}

func (s *Server) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.runner.State().Status != runner.StatusCompleted {
		return
	}
	delete(s.sessions, id)
	s.log.Debug(id, "Completed session released after %s", s.retention)
}

// SessionCount は保持中のセッション数を返す
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はイベントバスの内容をWebSocketクライアントへ流す
func (s *Server) broadcastLoop(ctx context.Context) {
	ch := s.eventBus.Subscribe()
	defer s.eventBus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(e)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("", "Failed to encode JSON: %v", err)
	}
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr はエラーの種類からステータスコードを決める
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrScenarioNotFound),
		errors.Is(err, store.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runner.ErrInvalidState),
		errors.Is(err, runner.ErrStaleStep):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidSessionID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("", "Request failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
