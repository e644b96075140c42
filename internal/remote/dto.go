package remote

import (
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
)

// Wire formats. All timestamps are UTC epoch milliseconds.

type credentialsDTO struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authInfoDTO struct {
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	UserID               string `json:"userId"`
	FullName             string `json:"fullName"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpirationTimestamp"`
}

type refreshRequestDTO struct {
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type refreshResponseDTO struct {
	AccessToken         string `json:"accessToken"`
	ExpirationTimestamp int64  `json:"expirationTimestamp"`
}

type agendaDayDTO struct {
	Events    []eventDTO    `json:"events"`
	Tasks     []taskDTO     `json:"tasks"`
	Reminders []reminderDTO `json:"reminders"`
}

type syncAgendaRequestDTO struct {
	DeletedEventIDs    []string `json:"deletedEventIds"`
	DeletedTaskIDs     []string `json:"deletedTaskIds"`
	DeletedReminderIDs []string `json:"deletedReminderIds"`
}

type taskDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Time        int64  `json:"time"`
	RemindAt    int64  `json:"remindAt"`
	IsDone      bool   `json:"isDone"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

type reminderDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Time        int64  `json:"time"`
	RemindAt    int64  `json:"remindAt"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

// eventRequestDTO is the JSON part of the multipart create and update
// requests.
type eventRequestDTO struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	From             int64    `json:"from"`
	To               int64    `json:"to"`
	RemindAt         int64    `json:"remindAt"`
	AttendeeIDs      []string `json:"attendeeIds"`
	DeletedPhotoKeys []string `json:"deletedPhotoKeys,omitempty"`
	IsGoing          *bool    `json:"isGoing,omitempty"`
	UpdatedAt        int64    `json:"updatedAt,omitempty"`
}

type eventDTO struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	From               int64         `json:"from"`
	To                 int64         `json:"to"`
	RemindAt           int64         `json:"remindAt"`
	Host               string        `json:"host"`
	IsUserEventCreator bool          `json:"isUserEventCreator"`
	IsGoing            bool          `json:"isGoing"`
	Attendees          []attendeeDTO `json:"attendees"`
	Photos             []photoDTO    `json:"photos"`
	UpdatedAt          int64         `json:"updatedAt,omitempty"`
}

type attendeeDTO struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	UserID   string `json:"userId"`
	EventID  string `json:"eventId,omitempty"`
	IsGoing  bool   `json:"isGoing"`
	RemindAt int64  `json:"remindAt,omitempty"`
}

type photoDTO struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type getAttendeeResponseDTO struct {
	DoesUserExist bool        `json:"doesUserExist"`
	Attendee      attendeeDTO `json:"attendee"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func taskToDTO(t *agenda.Task) taskDTO {
	return taskDTO{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Time:        toMillis(t.Time),
		RemindAt:    toMillis(t.RemindAt),
		IsDone:      t.IsDone,
		UpdatedAt:   toMillis(t.UpdatedAt),
	}
}

func (d taskDTO) item() *agenda.Task {
	return &agenda.Task{
		Base: agenda.Base{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Time:        fromMillis(d.Time),
			RemindAt:    fromMillis(d.RemindAt),
			UpdatedAt:   fromMillis(d.UpdatedAt),
		},
		IsDone: d.IsDone,
	}
}

func reminderToDTO(r *agenda.Reminder) reminderDTO {
	return reminderDTO{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Time:        toMillis(r.Time),
		RemindAt:    toMillis(r.RemindAt),
		UpdatedAt:   toMillis(r.UpdatedAt),
	}
}

func (d reminderDTO) item() *agenda.Reminder {
	return &agenda.Reminder{
		Base: agenda.Base{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Time:        fromMillis(d.Time),
			RemindAt:    fromMillis(d.RemindAt),
			UpdatedAt:   fromMillis(d.UpdatedAt),
		},
	}
}

func eventToRequest(e *agenda.Event, update bool) eventRequestDTO {
	req := eventRequestDTO{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		From:        toMillis(e.Time),
		To:          toMillis(e.To),
		RemindAt:    toMillis(e.RemindAt),
		AttendeeIDs: []string{},
		UpdatedAt:   toMillis(e.UpdatedAt),
	}
	for _, a := range e.Attendees {
		if a.UserID != "" {
			req.AttendeeIDs = append(req.AttendeeIDs, a.UserID)
		}
	}
	if update {
		going := e.IsGoing
		req.IsGoing = &going
		req.DeletedPhotoKeys = append([]string{}, e.DeletedPhotoKeys...)
	}
	return req
}

func (d eventDTO) item() *agenda.Event {
	e := &agenda.Event{
		Base: agenda.Base{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Time:        fromMillis(d.From),
			RemindAt:    fromMillis(d.RemindAt),
			UpdatedAt:   fromMillis(d.UpdatedAt),
		},
		To:                 fromMillis(d.To),
		Host:               d.Host,
		IsUserEventCreator: d.IsUserEventCreator,
		IsGoing:            d.IsGoing,
	}
	for _, a := range d.Attendees {
		att := a.item()
		if att.EventID == "" {
			att.EventID = d.ID
		}
		e.Attendees = append(e.Attendees, att)
	}
	for _, p := range d.Photos {
		e.Photos = append(e.Photos, agenda.Photo{Key: p.Key, URL: p.URL})
	}
	return e
}

func (d attendeeDTO) item() agenda.Attendee {
	return agenda.Attendee{
		UserID:   d.UserID,
		Email:    d.Email,
		FullName: d.FullName,
		EventID:  d.EventID,
		IsGoing:  d.IsGoing,
		RemindAt: fromMillis(d.RemindAt),
	}
}
