package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dogwalking/workout-engine/internal/models"
)

// EventType discriminates the Event union emitted on the EventBus.
type EventType string

const (
	EventMetricTick     EventType = "metric_tick"
	EventLapCompleted   EventType = "lap_completed"
	EventGhostDelta     EventType = "ghost_delta"
	EventGoalReached    EventType = "goal_reached"
	EventSessionStarted EventType = "session_started"
	EventSessionPaused  EventType = "session_paused"
	EventSessionResumed EventType = "session_resumed"
	EventSessionEnded   EventType = "session_ended"
	EventErrorObserved  EventType = "error_observed"
	EventHistoryChanged EventType = "history_changed"
)

// Event is the single sink type emitted by the engine. Only the field(s)
// relevant to Type are populated, as a single websocket message envelope
// rather than one Go type per event.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// EventMetricTick
	DistanceM         float64  `json:"distance_m,omitempty"`
	ElapsedMs         int64    `json:"elapsed_ms,omitempty"`
	CurrentPaceMsPerKm *int64  `json:"current_pace_ms_per_km,omitempty"`
	AvgPaceMsPerKm     *int64  `json:"avg_pace_ms_per_km,omitempty"`
	Steps              *uint32 `json:"steps,omitempty"`

	// EventLapCompleted
	Lap *models.Lap `json:"lap,omitempty"`

	// EventGhostDelta
	Km          uint32 `json:"km,omitempty"`
	DiffSeconds int32  `json:"diff_seconds,omitempty"`

	// EventGoalReached
	Goal *models.GoalSpec `json:"goal,omitempty"`

	// EventSessionEnded
	Summary *models.SessionRecord `json:"summary,omitempty"`

	// EventErrorObserved
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Emitter is the sink interface SessionFsm writes to. Kept minimal so test
// code and the real fan-out bus both satisfy it trivially.
type Emitter interface {
	Emit(Event)
}

// EventBus fans a single emitted event out to every active subscriber
// (WebSocket clients, MQTT republish, the session manager's metrics/route
// observer), modeled on the
// teacher's sync.Map of active WebSocket connections.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new receiver and returns its channel plus an
// unsubscribe function. The channel is buffered (64 events) so a slow
// consumer does not stall Emit; once it is full, Emit drops newer events for
// that subscriber without logging.
func (b *EventBus) Subscribe() (id string, ch <-chan Event, unsubscribe func()) {
	id = uuid.NewString()
	c := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[id] = c
	b.mu.Unlock()
	return id, c, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
}

// Emit fans the event out to every subscriber. A subscriber whose buffer is
// full is skipped for this event rather than blocking the single-writer
// engine loop.
func (b *EventBus) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}
