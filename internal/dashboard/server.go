// Package dashboard streams sync activity to WebSocket clients.
//
// A daemon cycle becomes a sync_complete or sync_failed frame, one
// rejected frame per refused change, and a fresh stats frame. New clients
// are greeted with the current stats. GET /status returns the daemon's
// status as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	queueSize    = 100
	writeTimeout = 5 * time.Second
)

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8787, 0 picks a free port)
	Port int

	// Host to bind (default: 127.0.0.1)
	Host string

	Logger *log.Logger
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{Port: 8787, Host: "127.0.0.1", Logger: log.Default()}
}

// Server fans messages out to connected WebSocket clients.
type Server struct {
	addr   string
	logger *log.Logger

	listener net.Listener
	http     *http.Server

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}

	queue   chan Message
	welcome func() Message
	status  func() any

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(host, strconv.Itoa(config.Port)),
		logger:  logger,
		conns:   make(map[*websocket.Conn]struct{}),
		queue:   make(chan Message, queueSize),
		welcome: func() Message { return Message{Type: MessageTypeStats} },
		status:  func() any { return struct{}{} },
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetWelcome sets the builder of the first frame a client receives. Call
// before Start.
func (s *Server) SetWelcome(fn func() Message) { s.welcome = fn }

// SetStatus sets the source of GET /status. Call before Start.
func (s *Server) SetStatus(fn func() any) { s.status = fn }

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("GET /status", s.serveStatus)
	mux.HandleFunc("GET /health", s.serveHealth)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the listener down.
func (s *Server) Stop() error {
	s.cancel()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "daemon stopping")
	}
	clear(s.conns)
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down dashboard: %w", serr)
		}
	}
	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return err
}

// Broadcast queues msg for every client. It never blocks: when the queue
// is full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Printf("Dropping %s message, queue full", msg.Type)
	}
}

// GetAddr returns the listening address, or the configured one before
// Start.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			frame, err := encode(msg)
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.snapshot() {
				if err := write(conn, frame); err != nil {
					s.logger.Printf("Dropping client: %v", err)
					s.drop(conn)
				}
			}
		}
	}
}

// snapshot copies the client set so writes happen without the lock.
func (s *Server) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		out = append(out, conn)
	}
	return out
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	n := len(s.conns)
	s.mu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client left (%d connected)", n)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	s.logger.Printf("Client joined (%d connected)", n)

	if frame, err := encode(s.welcome()); err == nil {
		_ = write(conn, frame)
	}

	// reads only detect the disconnect; clients send nothing
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func write(conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
