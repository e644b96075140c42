package fakeapi

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Task is the wire and storage form of a task.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Time        int64  `json:"time"`
	RemindAt    int64  `json:"remindAt"`
	IsDone      bool   `json:"isDone"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
	owner       string
}

// Reminder is the wire and storage form of a reminder.
type Reminder struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Time        int64  `json:"time"`
	RemindAt    int64  `json:"remindAt"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
	owner       string
}

// Attendee is an event participant.
type Attendee struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	UserID   string `json:"userId"`
	EventID  string `json:"eventId"`
	IsGoing  bool   `json:"isGoing"`
	RemindAt int64  `json:"remindAt"`
}

// Photo is an uploaded event photo.
type Photo struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Event is the storage form of an event.
type Event struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	From        int64      `json:"from"`
	To          int64      `json:"to"`
	RemindAt    int64      `json:"remindAt"`
	Host        string     `json:"host"`
	Attendees   []Attendee `json:"attendees"`
	Photos      []Photo    `json:"photos"`
	UpdatedAt   int64      `json:"updatedAt,omitempty"`
}

type eventRequest struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	From             int64    `json:"from"`
	To               int64    `json:"to"`
	RemindAt         int64    `json:"remindAt"`
	AttendeeIDs      []string `json:"attendeeIds"`
	DeletedPhotoKeys []string `json:"deletedPhotoKeys"`
	IsGoing          *bool    `json:"isGoing"`
	UpdatedAt        int64    `json:"updatedAt"`
}

// eventView is an event as seen by one user.
type eventView struct {
	Event
	IsUserEventCreator bool `json:"isUserEventCreator"`
	IsGoing            bool `json:"isGoing"`
}

var emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,6}$`)

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

// stamp returns the client's modification time, or now.
func (s *Server) stamp(updatedAt int64) int64 {
	if updatedAt != 0 {
		return updatedAt
	}
	return s.now().UnixMilli()
}

// Auth

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(req.Email)]
	if !ok || u.Password != req.Password {
		fail(c, http.StatusUnauthorized, "invalid email or password")
		return
	}
	access, refresh, exp := s.issueTokens(u.ID)
	c.JSON(http.StatusOK, gin.H{
		"accessToken":                    access,
		"refreshToken":                   refresh,
		"userId":                         u.ID,
		"fullName":                       u.FullName,
		"accessTokenExpirationTimestamp": exp.UnixMilli(),
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		fail(c, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.FullName) < 4 || len(req.FullName) > 100 {
		fail(c, http.StatusBadRequest, "full name must be between 4 and 100 characters")
		return
	}
	if len(req.Password) < 9 {
		fail(c, http.StatusBadRequest, "password too short")
		return
	}

	s.mu.Lock()
	_, exists := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if exists {
		fail(c, http.StatusConflict, "a user with that email already exists")
		return
	}

	s.AddUser(req.FullName, req.Email, req.Password)
	c.Status(http.StatusOK)
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
		UserID       string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	uid, ok := s.refresh[req.RefreshToken]
	if !ok || uid != req.UserID {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	access := uuid.NewString()
	exp := s.now().Add(s.opts.TokenTTL)
	s.sessions[access] = session{userID: uid, expiresAt: exp}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":         access,
		"expirationTimestamp": exp.UnixMilli(),
	})
}

func (s *Server) handleAuthenticate(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) handleLogout(c *gin.Context) {
	s.mu.Lock()
	delete(s.sessions, c.GetString("token"))
	s.mu.Unlock()
	c.Status(http.StatusOK)
}

// Agenda

func (s *Server) handleAgenda(c *gin.Context) {
	loc, err := time.LoadLocation(c.DefaultQuery("timezone", "UTC"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid timezone")
		return
	}
	ms, err := strconv.ParseInt(c.Query("time"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid time")
		return
	}

	at := time.UnixMilli(ms).In(loc)
	y, m, d := at.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc).UnixMilli()
	end := start + 86400*1000
	inDay := func(t int64) bool { return t >= start && t < end }

	uid := userID(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := []Task{}
	for _, t := range s.tasks {
		if t.owner == uid && inDay(t.Time) {
			tasks = append(tasks, *t)
		}
	}
	reminders := []Reminder{}
	for _, r := range s.reminders {
		if r.owner == uid && inDay(r.Time) {
			reminders = append(reminders, *r)
		}
	}
	events := []eventView{}
	for _, e := range s.events {
		if v, ok := s.viewFor(e, uid); ok && inDay(e.From) {
			events = append(events, v)
		}
	}

	slices.SortFunc(tasks, func(a, b Task) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(reminders, func(a, b Reminder) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(events, func(a, b eventView) int { return strings.Compare(a.ID, b.ID) })

	c.JSON(http.StatusOK, gin.H{"events": events, "tasks": tasks, "reminders": reminders})
}

func (s *Server) handleSyncAgenda(c *gin.Context) {
	var req struct {
		DeletedEventIDs    []string `json:"deletedEventIds"`
		DeletedTaskIDs     []string `json:"deletedTaskIds"`
		DeletedReminderIDs []string `json:"deletedReminderIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	uid := userID(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range req.DeletedTaskIDs {
		if t, ok := s.tasks[id]; ok && t.owner == uid {
			delete(s.tasks, id)
		}
	}
	for _, id := range req.DeletedReminderIDs {
		if r, ok := s.reminders[id]; ok && r.owner == uid {
			delete(s.reminders, id)
		}
	}
	for _, id := range req.DeletedEventIDs {
		e, ok := s.events[id]
		if !ok {
			continue
		}
		if e.Host == uid {
			delete(s.events, id)
		} else {
			s.removeAttendee(e, uid)
		}
	}
	c.Status(http.StatusOK)
}

// Tasks

func (s *Server) handleCreateTask(c *gin.Context) {
	var t Task
	if err := c.ShouldBindJSON(&t); err != nil || t.ID == "" || t.Title == "" {
		fail(c, http.StatusBadRequest, "invalid task")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		fail(c, http.StatusConflict, "task already exists")
		return
	}
	t.owner = userID(c)
	t.UpdatedAt = s.stamp(t.UpdatedAt)
	s.tasks[t.ID] = &t
	c.Status(http.StatusOK)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var t Task
	if err := c.ShouldBindJSON(&t); err != nil || t.ID == "" || t.Title == "" {
		fail(c, http.StatusBadRequest, "invalid task")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur.owner != userID(c) {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	t.owner = cur.owner
	t.UpdatedAt = s.stamp(t.UpdatedAt)
	s.tasks[t.ID] = &t
	c.Status(http.StatusOK)
}

func (s *Server) handleGetTask(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[c.Query("taskId")]
	if !ok || t.owner != userID(c) {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Query("taskId")
	t, ok := s.tasks[id]
	if !ok || t.owner != userID(c) {
		fail(c, http.StatusNotFound, "task not found")
		return
	}
	delete(s.tasks, id)
	c.Status(http.StatusOK)
}

// Reminders

func (s *Server) handleCreateReminder(c *gin.Context) {
	var r Reminder
	if err := c.ShouldBindJSON(&r); err != nil || r.ID == "" || r.Title == "" {
		fail(c, http.StatusBadRequest, "invalid reminder")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reminders[r.ID]; exists {
		fail(c, http.StatusConflict, "reminder already exists")
		return
	}
	r.owner = userID(c)
	r.UpdatedAt = s.stamp(r.UpdatedAt)
	s.reminders[r.ID] = &r
	c.Status(http.StatusOK)
}

func (s *Server) handleUpdateReminder(c *gin.Context) {
	var r Reminder
	if err := c.ShouldBindJSON(&r); err != nil || r.ID == "" || r.Title == "" {
		fail(c, http.StatusBadRequest, "invalid reminder")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[r.ID]
	if !ok || cur.owner != userID(c) {
		fail(c, http.StatusNotFound, "reminder not found")
		return
	}
	r.owner = cur.owner
	r.UpdatedAt = s.stamp(r.UpdatedAt)
	s.reminders[r.ID] = &r
	c.Status(http.StatusOK)
}

func (s *Server) handleGetReminder(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[c.Query("reminderId")]
	if !ok || r.owner != userID(c) {
		fail(c, http.StatusNotFound, "reminder not found")
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleDeleteReminder(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Query("reminderId")
	r, ok := s.reminders[id]
	if !ok || r.owner != userID(c) {
		fail(c, http.StatusNotFound, "reminder not found")
		return
	}
	delete(s.reminders, id)
	c.Status(http.StatusOK)
}

// Events

func (s *Server) handleCreateEvent(c *gin.Context) {
	req, ok := s.bindEvent(c, "create_event_request")
	if !ok {
		return
	}
	uid := userID(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[req.ID]; exists {
		fail(c, http.StatusConflict, "event already exists")
		return
	}
	e := &Event{Host: uid}
	s.applyEvent(c, e, req)
	s.events[e.ID] = e
	v, _ := s.viewFor(e, uid)
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleUpdateEvent(c *gin.Context) {
	req, ok := s.bindEvent(c, "update_event_request")
	if !ok {
		return
	}
	uid := userID(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.events[req.ID]
	if !exists {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	if _, visible := s.viewFor(e, uid); !visible {
		fail(c, http.StatusNotFound, "event not found")
		return
	}

	if e.Host != uid {
		// Attendees may only change their own going state.
		if req.IsGoing != nil {
			for i := range e.Attendees {
				if e.Attendees[i].UserID == uid {
					e.Attendees[i].IsGoing = *req.IsGoing
				}
			}
		}
		e.UpdatedAt = s.stamp(req.UpdatedAt)
		v, _ := s.viewFor(e, uid)
		c.JSON(http.StatusOK, v)
		return
	}

	for _, key := range req.DeletedPhotoKeys {
		e.Photos = slices.DeleteFunc(e.Photos, func(p Photo) bool { return p.Key == key })
		delete(s.photos, key)
	}
	s.applyEvent(c, e, req)
	v, _ := s.viewFor(e, uid)
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleGetEvent(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[c.Query("eventId")]
	if !ok {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	v, visible := s.viewFor(e, userID(c))
	if !visible {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleDeleteEvent(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Query("eventId")
	e, ok := s.events[id]
	if !ok {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	if e.Host != userID(c) {
		fail(c, http.StatusForbidden, "only the event creator can delete it")
		return
	}
	for _, p := range e.Photos {
		delete(s.photos, p.Key)
	}
	delete(s.events, id)
	c.Status(http.StatusOK)
}

// Attendees

func (s *Server) handleGetAttendee(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(c.Query("email"))]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"doesUserExist": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"doesUserExist": true,
		"attendee": gin.H{
			"email":    u.Email,
			"fullName": u.FullName,
			"userId":   u.ID,
		},
	})
}

func (s *Server) handleLeaveEvent(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[c.Query("eventId")]
	if !ok {
		fail(c, http.StatusNotFound, "event not found")
		return
	}
	s.removeAttendee(e, userID(c))
	c.Status(http.StatusOK)
}

func (s *Server) handlePhoto(c *gin.Context) {
	s.mu.Lock()
	data, ok := s.photos[c.Param("key")]
	s.mu.Unlock()
	if !ok {
		fail(c, http.StatusNotFound, "photo not found")
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// bindEvent parses the multipart event request.
func (s *Server) bindEvent(c *gin.Context, field string) (eventRequest, bool) {
	var req eventRequest
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		fail(c, http.StatusBadRequest, "expected multipart body")
		return req, false
	}
	raw := c.Request.FormValue(field)
	if raw == "" {
		fail(c, http.StatusBadRequest, "missing "+field)
		return req, false
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		fail(c, http.StatusBadRequest, "invalid "+field)
		return req, false
	}
	if req.ID == "" || req.Title == "" || req.To < req.From {
		fail(c, http.StatusBadRequest, "invalid event")
		return req, false
	}
	return req, true
}

// applyEvent copies the request onto e and stores uploaded photos.
// Callers hold s.mu.
func (s *Server) applyEvent(c *gin.Context, e *Event, req eventRequest) {
	e.ID = req.ID
	e.Title = req.Title
	e.Description = req.Description
	e.From = req.From
	e.To = req.To
	e.RemindAt = req.RemindAt
	e.UpdatedAt = s.stamp(req.UpdatedAt)

	var attendees []Attendee
	for _, id := range req.AttendeeIDs {
		u := s.userByID(id)
		if u == nil || id == e.Host {
			continue
		}
		a := Attendee{Email: u.Email, FullName: u.FullName, UserID: u.ID, EventID: e.ID, IsGoing: true, RemindAt: e.RemindAt}
		for _, old := range e.Attendees {
			if old.UserID == id {
				a.IsGoing = old.IsGoing
			}
		}
		attendees = append(attendees, a)
	}
	e.Attendees = attendees

	if c.Request.MultipartForm == nil {
		return
	}
	for i := 0; i < 10; i++ {
		files := c.Request.MultipartForm.File["photo"+strconv.Itoa(i)]
		if len(files) == 0 {
			continue
		}
		fh := files[0]
		f, err := fh.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			continue
		}
		key := strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
		s.photos[key] = data
		e.Photos = slices.DeleteFunc(e.Photos, func(p Photo) bool { return p.Key == key })
		e.Photos = append(e.Photos, Photo{Key: key, URL: s.opts.PhotoBaseURL + key})
	}
}

// viewFor returns e as seen by uid, and whether uid may see it at all.
func (s *Server) viewFor(e *Event, uid string) (eventView, bool) {
	v := eventView{Event: *e}
	v.Attendees = append([]Attendee(nil), e.Attendees...)
	v.Photos = append([]Photo(nil), e.Photos...)
	if e.Host == uid {
		v.IsUserEventCreator = true
		v.IsGoing = true
		return v, true
	}
	for _, a := range e.Attendees {
		if a.UserID == uid {
			v.IsGoing = a.IsGoing
			return v, true
		}
	}
	return v, false
}

func (s *Server) removeAttendee(e *Event, uid string) {
	e.Attendees = slices.DeleteFunc(e.Attendees, func(a Attendee) bool { return a.UserID == uid })
}
