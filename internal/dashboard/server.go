// Package dashboard provides a real-time WebSocket feed of sync activity.
//
// The dashboard broadcasts task upserts and deletions, pass completions and
// running statistics to connected WebSocket clients.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// MessageType names a dashboard message.
type MessageType string

const (
	// MessageTypeTaskUpdate reports an upserted or deleted task row.
	MessageTypeTaskUpdate MessageType = "task_update"
	// MessageTypeSyncComplete reports a finished pass.
	MessageTypeSyncComplete MessageType = "sync_complete"
	// MessageTypeSyncError reports a failed pass.
	MessageTypeSyncError MessageType = "sync_error"
	// MessageTypeStats carries the running statistics.
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	queueSize    = 100
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// client is one connection with its own outbound queue, so a slow reader
// never holds up the others.
type client struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Server accepts WebSocket clients and fans broadcasts out to them.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server
	logger   *slog.Logger

	queue chan Message
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	clients map[*client]struct{}
	welcome func() (Message, bool)

	sent atomic.Int64
	last atomic.Int64 // unix nanos of the last broadcast
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8080"); port 0 picks a free port.
	Addr string

	Logger *slog.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    config.Addr,
		logger:  logger.With("component", "dashboard"),
		queue:   make(chan Message, queueSize),
		stop:    make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
}

// SetWelcome installs the message sent to every client on connect.
func (s *Server) SetWelcome(fn func() (Message, bool)) {
	s.mu.Lock()
	s.welcome = fn
	s.mu.Unlock()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	select {
	case <-s.stop:
		return nil
	default:
		close(s.stop)
	}
	s.logger.Info("stopping dashboard server")

	s.mu.Lock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
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
	return err
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (s *Server) Broadcast(msg Message) {
	select {
	case <-s.stop:
	case s.queue <- msg:
	default:
		s.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.queue:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			frame, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("failed to marshal message", "type", msg.Type, "error", err)
				continue
			}
			s.sent.Add(1)
			s.last.Store(msg.Timestamp.UnixNano())

			s.mu.RLock()
			for c := range s.clients {
				select {
				case c.out <- frame:
				default:
					s.logger.Debug("client too slow, disconnecting")
					c.close()
				}
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, out: make(chan []byte, clientBuffer), done: make(chan struct{})}

	s.mu.Lock()
	if welcome := s.welcome; welcome != nil {
		if msg, ok := welcome(); ok {
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			if frame, err := json.Marshal(msg); err == nil {
				c.out <- frame
			}
		}
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("client connected", "clients", n)

	// Reads only detect the disconnect; client frames are ignored.
	go func() {
		defer c.close()
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}()
	s.write(c)
}

// write drains the client's queue until it closes, then unregisters it.
func (s *Server) write(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		n := len(s.clients)
		s.mu.Unlock()
		_ = c.conn.Close(websocket.StatusGoingAway, "")
		s.logger.Debug("client disconnected", "clients", n)
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"clients":  s.ClientCount(),
		"messages": s.sent.Load(),
	}
	if last := s.last.Load(); last > 0 {
		body["last_message"] = time.Unix(0, last).UTC()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, rootPage, r.Host)
}

const rootPage = `<!DOCTYPE html>
<html>
<head><title>asana2sql</title></head>
<body>
<h1>asana2sql sync feed</h1>
<p>WebSocket: <code>ws://%[1]s/ws</code> &middot; <a href="/health">health</a></p>
<pre id="log"></pre>
<script>
const log = document.getElementById("log");
const ws = new WebSocket("ws://%[1]s/ws");
ws.onmessage = (e) => { log.textContent = e.data + "\n" + log.textContent; };
</script>
</body>
</html>`

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
