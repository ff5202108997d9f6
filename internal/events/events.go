package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventSessionStarted is emitted when a runner leaves NotStarted
	EventSessionStarted EventType = "session_started"
	// EventStepResolved is emitted once per step, by an action or a timeout
	EventStepResolved EventType = "step_resolved"
	// EventCriticalFailure is emitted when a critical step is resolved incorrectly
	EventCriticalFailure EventType = "critical_failure"
	// EventSessionCompleted is emitted when the last step is resolved
	EventSessionCompleted EventType = "session_completed"
	// EventPersistenceFailed is emitted when the recorder gives up on a write
	EventPersistenceFailed EventType = "persistence_failed"
)

// Event represents a session event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	ScenarioID       string  `json:"scenario_id,omitempty"`
	StepOrder        int     `json:"step_order,omitempty"`
	ActionType       string  `json:"action_type,omitempty"`
	IsCorrect        bool    `json:"is_correct,omitempty"`
	TimedOut         bool    `json:"timed_out,omitempty"`
	Points           int     `json:"points,omitempty"`
	ResponseSeconds  float64 `json:"response_seconds,omitempty"`
	TotalPoints      int     `json:"total_points,omitempty"`
	ScorePercent     int     `json:"score_percent,omitempty"`
	CriticalFailures int     `json:"critical_failures,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// StepResolution describes a resolved step for NewStepResolvedEvent
type StepResolution struct {
	StepOrder       int
	ActionType      string
	IsCorrect       bool
	TimedOut        bool
	Points          int
	ResponseSeconds float64
	TotalPoints     int
}

// NewSessionStartedEvent creates a session started event
func NewSessionStartedEvent(sessionID, scenarioID string) Event {
	return Event{
		Type:      EventSessionStarted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			ScenarioID: scenarioID,
		},
	}
}

// NewStepResolvedEvent creates a step resolved event
func NewStepResolvedEvent(sessionID string, r StepResolution) Event {
	return Event{
		Type:      EventStepResolved,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			StepOrder:       r.StepOrder,
			ActionType:      r.ActionType,
			IsCorrect:       r.IsCorrect,
			TimedOut:        r.TimedOut,
			Points:          r.Points,
			ResponseSeconds: r.ResponseSeconds,
			TotalPoints:     r.TotalPoints,
		},
	}
}

// NewCriticalFailureEvent creates a critical failure event
func NewCriticalFailureEvent(sessionID string, stepOrder, failures int) Event {
	return Event{
		Type:      EventCriticalFailure,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			StepOrder:        stepOrder,
			CriticalFailures: failures,
		},
	}
}

// NewSessionCompletedEvent creates a session completed event
func NewSessionCompletedEvent(sessionID string, totalPoints, scorePercent, criticalFailures int) Event {
	return Event{
		Type:      EventSessionCompleted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			TotalPoints:      totalPoints,
			ScorePercent:     scorePercent,
			CriticalFailures: criticalFailures,
		},
	}
}

// NewPersistenceFailedEvent creates a persistence failed event
func NewPersistenceFailedEvent(sessionID string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventPersistenceFailed,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data: EventData{
			Error: errMsg,
		},
	}
}
