package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/taskyapp/tasky/internal/reconcile"
	"github.com/taskyapp/tasky/internal/remote"
	"github.com/taskyapp/tasky/internal/store"
)

// Counter reports local item counts. *store.Store implements it.
type Counter interface {
	Count(ctx context.Context) (store.Counts, error)
}

// Handler turns daemon cycles into dashboard messages.
type Handler struct {
	server  *Server
	counter Counter
	logger  *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server.
// It also makes the server greet new clients with the current stats.
func NewHandler(server *Server, counter Counter, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		server:  server,
		counter: counter,
		logger:  logger,
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// OnCycle handles the end of a reconciliation cycle. Its signature
// matches daemon.Observer.
func (h *Handler) OnCycle(res *reconcile.Result, err error) {
	if err != nil {
		h.send(MessageTypeSyncFailed, SyncFailedData{
			Error:     err.Error(),
			Retryable: remote.IsRetryable(err),
		})
	}
	if res != nil {
		if err == nil {
			h.send(MessageTypeSyncComplete, SyncCompleteData{
				Created:         res.Created,
				Updated:         res.Updated,
				Purged:          res.Purged,
				Failed:          res.Failed,
				Rejected:        len(res.Rejected),
				Inserted:        res.Inserted,
				Overwritten:     res.Overwritten,
				RemovedUpstream: res.RemovedUpstream,
				Conflicts:       res.Conflicts,
				Duration:        res.Duration(),
			})
		}
		for _, rej := range res.Rejected {
			h.send(MessageTypeRejected, RejectedData{
				ItemID:  rej.Ref.ID,
				Kind:    string(rej.Ref.Kind),
				Op:      string(rej.Op),
				Message: rej.Message,
			})
		}
	}
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) statsMessage() Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if h.counter == nil {
		return msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := h.counter.Count(ctx)
	if err != nil {
		h.logger.Printf("Failed to count items: %v", err)
		return msg
	}

	data, err := json.Marshal(StatsData{
		Total:     c.Total(),
		Tasks:     c.Tasks,
		Events:    c.Events,
		Reminders: c.Reminders,
		Pending:   c.Pending,
		Deleted:   c.Deleted,
		Rejected:  c.Rejected,
	})
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return msg
	}
	msg.Data = data
	return msg
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
