package agendaview

import "sync"

// EventKind names a one-time UI signal.
type EventKind string

const (
	ScrollToItem        EventKind = "scroll_to_item"
	ScrollToTop         EventKind = "scroll_to_top"
	ScrollToBottom      EventKind = "scroll_to_bottom"
	ConfirmDeletePrompt EventKind = "confirm_delete_prompt"
	ShowToast           EventKind = "show_toast"
	NavigateBack        EventKind = "navigate_back"
)

// Event is a one-time signal for the UI. ItemID is set for item-related
// events, Message for toasts and prompts.
type Event struct {
	Kind    EventKind `json:"kind"`
	ItemID  string    `json:"item_id,omitempty"`
	Message string    `json:"message,omitempty"`
}

// EventQueue buffers events until the consumer drains them. Each event is
// delivered exactly once.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

// Push appends an event.
func (q *EventQueue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

// Drain returns the queued events in order and empties the queue.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
