// Package fakeapi is an in-memory implementation of the Tasky REST API.
//
// It backs the gateway and reconciler tests and the `tasky fake-server`
// command, so the CLI can be exercised without a real backend. State lives
// in memory and is lost on exit.
package fakeapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Options configures a Server.
type Options struct {
	// APIKey, when set, must be sent as x-api-key on every request.
	APIKey string

	// TokenTTL is the access token lifetime (default: 1h).
	TokenTTL time.Duration

	// PhotoBaseURL prefixes photo URLs (default: /photos/).
	PhotoBaseURL string

	// AccessLog enables gin's request logger.
	AccessLog bool
}

type user struct {
	ID       string
	FullName string
	Email    string
	Password string
}

type session struct {
	userID    string
	expiresAt time.Time
}

// Server is the fake API.
type Server struct {
	mu       sync.Mutex
	opts     Options
	router   *gin.Engine
	now      func() time.Time
	users    map[string]*user // by email
	sessions map[string]session
	refresh  map[string]string // refresh token -> user id

	tasks     map[string]*Task
	reminders map[string]*Reminder
	events    map[string]*Event
	photos    map[string][]byte

	failures map[string][]int // "METHOD path" -> queued status codes
	calls    map[string]int
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.PhotoBaseURL == "" {
		opts.PhotoBaseURL = "/photos/"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.AccessLog {
		router.Use(gin.Logger())
	}

	s := &Server{
		opts:      opts,
		router:    router,
		now:       time.Now,
		users:     make(map[string]*user),
		sessions:  make(map[string]session),
		refresh:   make(map[string]string),
		tasks:     make(map[string]*Task),
		reminders: make(map[string]*Reminder),
		events:    make(map[string]*Event),
		photos:    make(map[string][]byte),
		failures:  make(map[string][]int),
		calls:     make(map[string]int),
	}

	router.Use(s.injectFailures, s.requireAPIKey)

	// Public routes
	router.POST("/login", s.handleLogin)
	router.POST("/register", s.handleRegister)
	router.POST("/accessToken", s.handleRefresh)
	router.GET("/photos/:key", s.handlePhoto)

	// Authenticated routes
	api := router.Group("/", s.requireSession)
	{
		api.GET("/authenticate", s.handleAuthenticate)
		api.GET("/logout", s.handleLogout)

		api.GET("/agenda", s.handleAgenda)
		api.POST("/syncAgenda", s.handleSyncAgenda)

		api.POST("/task", s.handleCreateTask)
		api.PUT("/task", s.handleUpdateTask)
		api.GET("/task", s.handleGetTask)
		api.DELETE("/task", s.handleDeleteTask)

		api.POST("/reminder", s.handleCreateReminder)
		api.PUT("/reminder", s.handleUpdateReminder)
		api.GET("/reminder", s.handleGetReminder)
		api.DELETE("/reminder", s.handleDeleteReminder)

		api.POST("/event", s.handleCreateEvent)
		api.PUT("/event", s.handleUpdateEvent)
		api.GET("/event", s.handleGetEvent)
		api.DELETE("/event", s.handleDeleteEvent)

		api.GET("/attendee", s.handleGetAttendee)
		api.DELETE("/attendee", s.handleLeaveEvent)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// SetClock replaces the server's time source.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddUser registers a user directly and returns its id.
func (s *Server) AddUser(fullName, email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{ID: uuid.NewString(), FullName: fullName, Email: strings.ToLower(email), Password: password}
	s.users[u.Email] = u
	return u.ID
}

// FailNext makes the next len(statuses) requests to method+path answer
// with the given status codes.
func (s *Server) FailNext(method, path string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	s.failures[key] = append(s.failures[key], statuses...)
}

// Calls returns how many requests reached method+path.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// ExpireSessions makes every issued access token expired.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	past := s.now().Add(-time.Minute)
	for tok, sess := range s.sessions {
		sess.expiresAt = past
		s.sessions[tok] = sess
	}
}

func (s *Server) injectFailures(c *gin.Context) {
	key := c.Request.Method + " " + c.Request.URL.Path

	s.mu.Lock()
	s.calls[key]++
	var status int
	if q := s.failures[key]; len(q) > 0 {
		status = q[0]
		s.failures[key] = q[1:]
	}
	s.mu.Unlock()

	if status != 0 {
		c.AbortWithStatusJSON(status, gin.H{"message": fmt.Sprintf("injected failure %d", status)})
		return
	}
	c.Next()
}

func (s *Server) requireAPIKey(c *gin.Context) {
	if s.opts.APIKey != "" && c.GetHeader("x-api-key") != s.opts.APIKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid API key"})
		return
	}
	c.Next()
}

func (s *Server) requireSession(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	sess, ok := s.sessions[token]
	now := s.now()
	s.mu.Unlock()

	if !ok || !now.Before(sess.expiresAt) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid or expired token"})
		return
	}
	c.Set("userID", sess.userID)
	c.Set("token", token)
	c.Next()
}

func userID(c *gin.Context) string {
	return c.GetString("userID")
}

func (s *Server) userByID(id string) *user {
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// issueTokens creates a session. Callers hold s.mu.
func (s *Server) issueTokens(userID string) (access, refresh string, expiresAt time.Time) {
	access = uuid.NewString()
	refresh = uuid.NewString()
	expiresAt = s.now().Add(s.opts.TokenTTL)
	s.sessions[access] = session{userID: userID, expiresAt: expiresAt}
	s.refresh[refresh] = userID
	return access, refresh, expiresAt
}
