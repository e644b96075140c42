package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
)

// FetchAgenda returns the server's items for the day containing at, with
// the day boundaries taken in loc.
func (c *Client) FetchAgenda(ctx context.Context, loc *time.Location, at time.Time) ([]agenda.Item, error) {
	if loc == nil {
		loc = time.UTC
	}

	var dto agendaDayDTO
	err := c.do(ctx, request{
		op:     "fetch agenda",
		method: http.MethodGet,
		path:   "agenda",
		query: url.Values{
			"timezone": {loc.String()},
			"time":     {strconv.FormatInt(at.UnixMilli(), 10)},
		},
	}, &dto)
	if err != nil {
		return nil, err
	}

	items := make([]agenda.Item, 0, len(dto.Events)+len(dto.Tasks)+len(dto.Reminders))
	for _, e := range dto.Events {
		items = append(items, e.item())
	}
	for _, t := range dto.Tasks {
		items = append(items, t.item())
	}
	for _, r := range dto.Reminders {
		items = append(items, r.item())
	}
	return items, nil
}

// SyncAgenda sends a batch of deletions in one call.
func (c *Client) SyncAgenda(ctx context.Context, deletes []agenda.Ref) error {
	req := syncAgendaRequestDTO{
		DeletedEventIDs:    []string{},
		DeletedTaskIDs:     []string{},
		DeletedReminderIDs: []string{},
	}
	for _, ref := range deletes {
		switch ref.Kind {
		case agenda.KindEvent:
			req.DeletedEventIDs = append(req.DeletedEventIDs, ref.ID)
		case agenda.KindTask:
			req.DeletedTaskIDs = append(req.DeletedTaskIDs, ref.ID)
		case agenda.KindReminder:
			req.DeletedReminderIDs = append(req.DeletedReminderIDs, ref.ID)
		}
	}
	return c.sendJSON(ctx, "sync agenda", http.MethodPost, "syncAgenda", req)
}

// Batch is the set of local changes collected for one push.
type Batch struct {
	Creates []agenda.Item
	Updates []agenda.Item
	Deletes []agenda.Ref
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool {
	return len(b.Creates) == 0 && len(b.Updates) == 0 && len(b.Deletes) == 0
}

// Op is the kind of change an Outcome reports on.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Outcome is the result of pushing one change. Err is nil on success.
type Outcome struct {
	Op   Op
	Ref  agenda.Ref
	Item agenda.Item // nil for deletes
	Err  error
}

// PushResult reports the per-item outcomes of PushBatch in push order:
// deletes, then creates, then updates.
type PushResult struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that carry an error.
func (r *PushResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// PushBatch sends a batch: the deletions through syncAgenda, then each
// create, then each update.
//
// A failing item does not stop the batch, except that a network failure
// stops further calls and the remaining items are reported with the same
// error. A network failure of the delete call is returned as the error of
// PushBatch itself, with nothing else attempted. When the server refuses
// the batched delete, each deletion is retried on its own endpoint, where
// ErrNotFound counts as confirmed.
func (c *Client) PushBatch(ctx context.Context, b Batch) (*PushResult, error) {
	res := &PushResult{}

	if len(b.Deletes) > 0 {
		err := c.SyncAgenda(ctx, b.Deletes)
		switch {
		case err == nil:
			for _, ref := range b.Deletes {
				res.Outcomes = append(res.Outcomes, Outcome{Op: OpDelete, Ref: ref})
			}
		case errors.Is(err, ErrNetwork):
			return nil, err
		default:
			c.logger.Printf("batched delete refused (%v), deleting one by one", err)
			var stop error
			for _, ref := range b.Deletes {
				if stop != nil {
					res.Outcomes = append(res.Outcomes, Outcome{Op: OpDelete, Ref: ref, Err: stop})
					continue
				}
				err := c.Delete(ctx, ref)
				if IsNotFound(err) {
					err = nil
				}
				if errors.Is(err, ErrNetwork) {
					stop = err
				}
				res.Outcomes = append(res.Outcomes, Outcome{Op: OpDelete, Ref: ref, Err: err})
			}
			if stop != nil {
				skipRemaining(res, b.Creates, OpCreate, stop)
				skipRemaining(res, b.Updates, OpUpdate, stop)
				return res, nil
			}
		}
	}

	var stop error
	for _, it := range b.Creates {
		if stop != nil {
			res.Outcomes = append(res.Outcomes, Outcome{Op: OpCreate, Ref: agenda.RefOf(it), Item: it, Err: stop})
			continue
		}
		err := c.Create(ctx, it)
		if errors.Is(err, ErrNetwork) {
			stop = err
		}
		res.Outcomes = append(res.Outcomes, Outcome{Op: OpCreate, Ref: agenda.RefOf(it), Item: it, Err: err})
	}
	for _, it := range b.Updates {
		if stop != nil {
			res.Outcomes = append(res.Outcomes, Outcome{Op: OpUpdate, Ref: agenda.RefOf(it), Item: it, Err: stop})
			continue
		}
		err := c.Update(ctx, it)
		if errors.Is(err, ErrNetwork) {
			stop = err
		}
		res.Outcomes = append(res.Outcomes, Outcome{Op: OpUpdate, Ref: agenda.RefOf(it), Item: it, Err: err})
	}

	return res, nil
}

func skipRemaining(res *PushResult, items []agenda.Item, op Op, err error) {
	for _, it := range items {
		res.Outcomes = append(res.Outcomes, Outcome{Op: op, Ref: agenda.RefOf(it), Item: it, Err: err})
	}
}
