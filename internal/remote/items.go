package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"

	"github.com/taskyapp/tasky/internal/agenda"
)

// maxEventPhotos is the number of photos the server accepts per event.
const maxEventPhotos = 10

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, t *agenda.Task) error {
	return c.sendJSON(ctx, "create task", http.MethodPost, "task", taskToDTO(t))
}

// UpdateTask replaces a task.
func (c *Client) UpdateTask(ctx context.Context, t *agenda.Task) error {
	return c.sendJSON(ctx, "update task", http.MethodPut, "task", taskToDTO(t))
}

// GetTask fetches a task.
func (c *Client) GetTask(ctx context.Context, id string) (*agenda.Task, error) {
	var dto taskDTO
	err := c.do(ctx, request{
		op:     "get task",
		method: http.MethodGet,
		path:   "task",
		query:  url.Values{"taskId": {id}},
	}, &dto)
	if err != nil {
		return nil, err
	}
	return dto.item(), nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "delete task",
		method: http.MethodDelete,
		path:   "task",
		query:  url.Values{"taskId": {id}},
	}, nil)
}

// CreateReminder creates a reminder.
func (c *Client) CreateReminder(ctx context.Context, r *agenda.Reminder) error {
	return c.sendJSON(ctx, "create reminder", http.MethodPost, "reminder", reminderToDTO(r))
}

// UpdateReminder replaces a reminder.
func (c *Client) UpdateReminder(ctx context.Context, r *agenda.Reminder) error {
	return c.sendJSON(ctx, "update reminder", http.MethodPut, "reminder", reminderToDTO(r))
}

// GetReminder fetches a reminder.
func (c *Client) GetReminder(ctx context.Context, id string) (*agenda.Reminder, error) {
	var dto reminderDTO
	err := c.do(ctx, request{
		op:     "get reminder",
		method: http.MethodGet,
		path:   "reminder",
		query:  url.Values{"reminderId": {id}},
	}, &dto)
	if err != nil {
		return nil, err
	}
	return dto.item(), nil
}

// DeleteReminder deletes a reminder.
func (c *Client) DeleteReminder(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "delete reminder",
		method: http.MethodDelete,
		path:   "reminder",
		query:  url.Values{"reminderId": {id}},
	}, nil)
}

// CreateEvent creates an event, uploading its local photos, and returns
// the server's version.
func (c *Client) CreateEvent(ctx context.Context, e *agenda.Event) (*agenda.Event, error) {
	return c.sendEvent(ctx, "create event", http.MethodPost, "create_event_request", e, false)
}

// UpdateEvent replaces an event, uploading new local photos and removing
// the photos named in DeletedPhotoKeys.
func (c *Client) UpdateEvent(ctx context.Context, e *agenda.Event) (*agenda.Event, error) {
	return c.sendEvent(ctx, "update event", http.MethodPut, "update_event_request", e, true)
}

// GetEvent fetches an event.
func (c *Client) GetEvent(ctx context.Context, id string) (*agenda.Event, error) {
	var dto eventDTO
	err := c.do(ctx, request{
		op:     "get event",
		method: http.MethodGet,
		path:   "event",
		query:  url.Values{"eventId": {id}},
	}, &dto)
	if err != nil {
		return nil, err
	}
	return dto.item(), nil
}

// DeleteEvent deletes an event. Only its creator may do so.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, request{
		op:     "delete event",
		method: http.MethodDelete,
		path:   "event",
		query:  url.Values{"eventId": {id}},
	}, nil)
}

// GetAttendee looks up a user by email. The boolean is false when no such
// user exists.
func (c *Client) GetAttendee(ctx context.Context, email string) (*agenda.Attendee, bool, error) {
	var dto getAttendeeResponseDTO
	err := c.do(ctx, request{
		op:     "get attendee",
		method: http.MethodGet,
		path:   "attendee",
		query:  url.Values{"email": {email}},
	}, &dto)
	if err != nil {
		return nil, false, err
	}
	if !dto.DoesUserExist {
		return nil, false, nil
	}
	a := dto.Attendee.item()
	return &a, true, nil
}

// LeaveEvent removes the logged-in user from an event's attendees.
func (c *Client) LeaveEvent(ctx context.Context, eventID string) error {
	return c.do(ctx, request{
		op:     "leave event",
		method: http.MethodDelete,
		path:   "attendee",
		query:  url.Values{"eventId": {eventID}},
	}, nil)
}

// Create sends a new item of any kind.
func (c *Client) Create(ctx context.Context, item agenda.Item) error {
	switch it := item.(type) {
	case *agenda.Task:
		return c.CreateTask(ctx, it)
	case *agenda.Reminder:
		return c.CreateReminder(ctx, it)
	case *agenda.Event:
		_, err := c.CreateEvent(ctx, it)
		return err
	}
	return fmt.Errorf("unsupported item %T", item)
}

// Update sends a changed item of any kind.
func (c *Client) Update(ctx context.Context, item agenda.Item) error {
	switch it := item.(type) {
	case *agenda.Task:
		return c.UpdateTask(ctx, it)
	case *agenda.Reminder:
		return c.UpdateReminder(ctx, it)
	case *agenda.Event:
		_, err := c.UpdateEvent(ctx, it)
		return err
	}
	return fmt.Errorf("unsupported item %T", item)
}

// Delete removes an item of any kind.
func (c *Client) Delete(ctx context.Context, ref agenda.Ref) error {
	switch ref.Kind {
	case agenda.KindTask:
		return c.DeleteTask(ctx, ref.ID)
	case agenda.KindReminder:
		return c.DeleteReminder(ctx, ref.ID)
	case agenda.KindEvent:
		return c.DeleteEvent(ctx, ref.ID)
	}
	return fmt.Errorf("unknown item kind %q", ref.Kind)
}

// Get fetches an item of any kind.
func (c *Client) Get(ctx context.Context, ref agenda.Ref) (agenda.Item, error) {
	switch ref.Kind {
	case agenda.KindTask:
		return c.GetTask(ctx, ref.ID)
	case agenda.KindReminder:
		return c.GetReminder(ctx, ref.ID)
	case agenda.KindEvent:
		return c.GetEvent(ctx, ref.ID)
	}
	return nil, fmt.Errorf("unknown item kind %q", ref.Kind)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path string, v any) error {
	body, err := jsonBody(v)
	if err != nil {
		return err
	}
	return c.do(ctx, request{op: op, method: method, path: path, body: body}, nil)
}

// sendEvent builds the multipart request: one JSON part named field, then
// one file part per local photo named photo0, photo1, ...
func (c *Client) sendEvent(ctx context.Context, op, method, field string, e *agenda.Event, update bool) (*agenda.Event, error) {
	local := e.LocalPhotos()
	if len(local) > maxEventPhotos {
		return nil, &Error{Op: op, Status: http.StatusBadRequest, Message: fmt.Sprintf("at most %d photos per event", maxEventPhotos)}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	data, err := json.Marshal(eventToRequest(e, update))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal event: %w", op, err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, field))
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create part: %w", op, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%s: failed to write part: %w", op, err)
	}

	for i, p := range local {
		if err := writePhoto(mw, fmt.Sprintf("photo%d", i), p); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: failed to finish multipart body: %w", op, err)
	}

	var dto eventDTO
	err = c.do(ctx, request{
		op:          op,
		method:      method,
		path:        "event",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, &dto)
	if err != nil {
		return nil, err
	}
	if dto.ID == "" {
		return nil, nil
	}
	return dto.item(), nil
}

func writePhoto(mw *multipart.Writer, name string, p agenda.Photo) error {
	f, err := os.Open(p.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open photo %s: %w", p.Key, err)
	}
	defer f.Close()

	filename := p.Key + filepath.Ext(p.LocalPath)
	w, err := mw.CreateFormFile(name, filename)
	if err != nil {
		return fmt.Errorf("failed to create photo part: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to copy photo %s: %w", p.Key, err)
	}
	return nil
}
