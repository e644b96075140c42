// Package agendaview holds the UI-facing state of the agenda screen.
//
// A Model reads the local store, writes user edits optimistically, and
// triggers reconciliation. It never talks to the server directly. One-time
// UI signals (scroll requests, the delete confirmation prompt, toasts) go
// through an explicit EventQueue that the consumer drains after each
// action, instead of being flags on the state.
package agendaview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/reconcile"
	"github.com/taskyapp/tasky/internal/remote"
	"github.com/taskyapp/tasky/internal/settings"
	"github.com/taskyapp/tasky/internal/store"
)

// DaysPerWeek is the length of the day strip.
const DaysPerWeek = 7

// ErrNoSelection is returned by ConfirmDelete when no delete is pending.
var ErrNoSelection = errors.New("no delete awaiting confirmation")

// Session is the part of the settings service the model needs.
type Session interface {
	AuthInfo() (settings.AuthInfo, bool)
	ClearAuthInfo() error
}

// Authenticator ends the server session. *remote.Client implements it.
type Authenticator interface {
	Logout(ctx context.Context) error
}

// State is a snapshot of the agenda screen.
type State struct {
	Username string
	Email    string

	IsLoaded     bool
	IsRefreshing bool

	// WeekStart is midnight (UTC instant) of the first day of the strip.
	WeekStart        time.Time
	SelectedDayIndex int

	// Items of the selected day, ordered by time.
	Items []agenda.Item

	// ConfirmDelete is the item awaiting delete confirmation, if any.
	ConfirmDelete *agenda.Ref

	// loc sets the calendar the strip is laid out in.
	loc *time.Location
}

// SelectedDay returns midnight of the selected day.
func (s State) SelectedDay() time.Time {
	return agenda.AddDays(s.WeekStart, s.SelectedDayIndex, s.loc)
}

// Days returns the start of each day of the strip.
func (s State) Days() []time.Time {
	days := make([]time.Time, DaysPerWeek)
	for i := range days {
		days[i] = agenda.AddDays(s.WeekStart, i, s.loc)
	}
	return days
}

// Options configures a Model.
type Options struct {
	Store      *store.Store
	Reconciler reconcile.Reconciler
	Session    Session
	Auth       Authenticator // optional

	// Location sets day boundaries (default: time.Local)
	Location *time.Location
	// FirstWeekday starts the day strip (default: the current day)
	FirstWeekday *time.Weekday
	// Now is the clock (default: time.Now)
	Now func() time.Time
	// Logger (default: stderr with "[agenda] " prefix)
	Logger *log.Logger
}

// Model is the agenda view model. It is safe for concurrent use.
type Model struct {
	store      *store.Store
	reconciler reconcile.Reconciler
	session    Session
	auth       Authenticator
	loc        *time.Location
	first      *time.Weekday
	now        func() time.Time
	logger     *log.Logger

	mu     sync.Mutex
	state  State
	events EventQueue
}

// New creates a Model. Call Load before other operations.
func New(opts Options) *Model {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[agenda] ", log.LstdFlags)
	}
	return &Model{
		state:      State{loc: opts.Location},
		store:      opts.Store,
		reconciler: opts.Reconciler,
		session:    opts.Session,
		auth:       opts.Auth,
		loc:        opts.Location,
		first:      opts.FirstWeekday,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// State returns a snapshot of the current state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Items = append([]agenda.Item(nil), m.state.Items...)
	if m.state.ConfirmDelete != nil {
		ref := *m.state.ConfirmDelete
		s.ConfirmDelete = &ref
	}
	return s
}

// Events returns the outbound event queue.
func (m *Model) Events() *EventQueue {
	return &m.events
}

// Load fills the state for today: user identity, the week strip and the
// items of the current day.
func (m *Model) Load(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	if info, ok := m.session.AuthInfo(); ok {
		m.state.Username = info.Username
		m.state.Email = info.Email
	}
	m.state.WeekStart = m.weekStart(now)
	m.state.SelectedDayIndex = m.indexOf(now)
	m.mu.Unlock()

	if err := m.reload(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.state.IsLoaded = true
	m.mu.Unlock()
	return nil
}

// SelectDay selects a day of the strip by index.
func (m *Model) SelectDay(ctx context.Context, index int) error {
	if index < 0 || index >= DaysPerWeek {
		return fmt.Errorf("day index %d out of range [0, %d)", index, DaysPerWeek)
	}
	m.mu.Lock()
	m.state.SelectedDayIndex = index
	m.mu.Unlock()

	if err := m.reload(ctx); err != nil {
		return err
	}
	m.events.Push(Event{Kind: ScrollToTop})
	return nil
}

// SetWeekStart moves the strip so that it starts on t's day, and selects
// that day.
func (m *Model) SetWeekStart(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	m.state.WeekStart = agenda.StartOfDay(t, m.loc)
	m.state.SelectedDayIndex = 0
	m.mu.Unlock()

	if err := m.reload(ctx); err != nil {
		return err
	}
	m.events.Push(Event{Kind: ScrollToTop})
	return nil
}

// Refresh runs a reconciliation for the selected day and reloads. Network
// failures become a toast; the local data stays usable. A refresh while a
// reconciliation is already running is ignored.
func (m *Model) Refresh(ctx context.Context) (*reconcile.Result, error) {
	m.mu.Lock()
	if m.state.IsRefreshing {
		m.mu.Unlock()
		return nil, nil
	}
	m.state.IsRefreshing = true
	day := m.state.SelectedDay()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state.IsRefreshing = false
		m.mu.Unlock()
	}()

	res, err := m.reconciler.Run(ctx, reconcile.Request{Day: day, Location: m.loc})
	switch {
	case errors.Is(err, reconcile.ErrInFlight):
		return nil, nil
	case remote.IsRetryable(err):
		m.logger.Printf("Refresh failed: %v", err)
		m.events.Push(Event{Kind: ShowToast, Message: "You are offline. Changes will sync later."})
		err = nil
	case errors.Is(err, remote.ErrUnauthorized):
		m.events.Push(Event{Kind: ShowToast, Message: "Your session expired. Please log in again."})
	case err != nil:
		m.events.Push(Event{Kind: ShowToast, Message: remote.Message(err)})
	}
	if res != nil {
		for _, rej := range res.Rejected {
			m.events.Push(Event{Kind: ShowToast, ItemID: rej.Ref.ID, Message: rej.Message})
		}
	}

	if rerr := m.reload(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return res, err
}

// Save writes a new or edited item locally. The change is pushed on the
// next reconciliation. The selection follows the item to its day.
func (m *Model) Save(ctx context.Context, item agenda.Item) error {
	h := item.Header()
	if h.ID == "" {
		h.ID = agenda.NewID()
	}
	h.UpdatedAt = m.now().UTC()
	if err := m.store.Upsert(ctx, item); err != nil {
		return err
	}

	m.mu.Lock()
	if !agenda.InDay(item, m.state.SelectedDay(), m.loc) {
		ws := m.state.WeekStart
		end := agenda.AddDays(ws, DaysPerWeek, m.loc)
		if h.Time.Before(ws) || !h.Time.Before(end) {
			m.state.WeekStart = m.weekStart(h.Time)
		}
		m.state.SelectedDayIndex = m.indexOf(h.Time)
	}
	m.mu.Unlock()

	if err := m.reload(ctx); err != nil {
		return err
	}

	st := m.State()
	if n := len(st.Items); n > 0 && st.Items[n-1].Header().ID == h.ID {
		m.events.Push(Event{Kind: ScrollToBottom, ItemID: h.ID})
	} else {
		m.events.Push(Event{Kind: ScrollToItem, ItemID: h.ID})
	}
	m.events.Push(Event{Kind: NavigateBack})
	return nil
}

// ToggleDone flips a task's done flag.
func (m *Model) ToggleDone(ctx context.Context, id string) error {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	t, ok := item.(*agenda.Task)
	if !ok {
		return fmt.Errorf("%s is a %s, only tasks can be done", id, item.Kind())
	}
	t.IsDone = !t.IsDone
	t.UpdatedAt = m.now().UTC()
	if err := m.store.Upsert(ctx, t); err != nil {
		return err
	}
	return m.reload(ctx)
}

// RequestDelete asks the UI to confirm deleting an item.
func (m *Model) RequestDelete(ctx context.Context, id string) error {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	ref := agenda.RefOf(item)

	m.mu.Lock()
	m.state.ConfirmDelete = &ref
	m.mu.Unlock()

	m.events.Push(Event{
		Kind:    ConfirmDeletePrompt,
		ItemID:  id,
		Message: fmt.Sprintf("Delete %s %q?", ref.Kind, item.Header().Title),
	})
	return nil
}

// ConfirmDelete soft-deletes the item awaiting confirmation.
func (m *Model) ConfirmDelete(ctx context.Context) error {
	m.mu.Lock()
	ref := m.state.ConfirmDelete
	m.state.ConfirmDelete = nil
	m.mu.Unlock()

	if ref == nil {
		return ErrNoSelection
	}
	if err := m.store.MarkDeleted(ctx, ref.ID); err != nil {
		return err
	}
	if err := m.reload(ctx); err != nil {
		return err
	}
	m.events.Push(Event{Kind: ShowToast, ItemID: ref.ID, Message: fmt.Sprintf("%s deleted", ref.Kind)})
	return nil
}

// CancelDelete dismisses a pending delete confirmation.
func (m *Model) CancelDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.ConfirmDelete = nil
}

// Logout ends the server session and forgets the local one. A server
// failure is logged; the local session is cleared regardless.
func (m *Model) Logout(ctx context.Context) error {
	if m.auth != nil {
		if err := m.auth.Logout(ctx); err != nil {
			m.logger.Printf("Server logout failed: %v", err)
		}
	}
	if err := m.session.ClearAuthInfo(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	m.mu.Lock()
	m.state = State{loc: m.loc}
	m.mu.Unlock()
	m.events.Push(Event{Kind: NavigateBack})
	return nil
}

func (m *Model) reload(ctx context.Context) error {
	m.mu.Lock()
	day := m.state.SelectedDay()
	m.mu.Unlock()

	items, err := m.store.GetForDay(ctx, day.In(m.loc))
	if err != nil {
		return fmt.Errorf("failed to load agenda: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Header(), items[j].Header()
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.ID < b.ID
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	// a concurrent selection change wins; its own reload follows
	if m.state.SelectedDay().Equal(day) {
		m.state.Items = items
	}
	return nil
}

func (m *Model) weekStart(t time.Time) time.Time {
	if m.first == nil {
		return agenda.StartOfDay(t, m.loc)
	}
	return agenda.WeekStart(t, m.loc, *m.first)
}

// indexOf returns t's position in the current strip, clamped to it.
// Callers hold m.mu.
func (m *Model) indexOf(t time.Time) int {
	idx := agenda.DaysBetween(m.state.WeekStart, t, m.loc)
	if idx < 0 {
		return 0
	}
	if idx >= DaysPerWeek {
		return DaysPerWeek - 1
	}
	return idx
}
