package pipeline

import "time"

// EventType names a progress event
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemSkipped   EventType = "item_skipped"
	EventItemFailed    EventType = "item_failed"
	EventRunFinished   EventType = "run_finished"
)

// Event is one progress notification of a run
type Event struct {
	RunID   string    `json:"run_id"`
	Type    EventType `json:"type"`
	Item    string    `json:"item,omitempty"`
	Ordinal int       `json:"ordinal"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message,omitempty"`
	State   string    `json:"state,omitempty"`
	Time    time.Time `json:"time"`
}

// Observer receives progress events. With more than one worker, OnEvent
// is called from several goroutines.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
