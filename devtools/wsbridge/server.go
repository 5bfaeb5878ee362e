// Package wsbridge serves the devtools protocol over WebSocket so that an
// inspection tool running elsewhere can watch and drive stores.
//
// Every store connected through the Server is an instance. Transitions are
// broadcast to all WebSocket clients as Frames; clients send ClientFrames
// addressed to an instance (or to all of them when Instance is empty).
package wsbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jilio/vstore/devtools"
)

// Frame types sent to clients.
const (
	FrameInit   = "INIT"
	FrameAction = "ACTION"
	FrameState  = "STATE"
	FrameClose  = "CLOSE"
)

// Frame is a server-to-client message.
type Frame struct {
	Type     string           `json:"type"`
	Instance string           `json:"instance"`
	Name     string           `json:"name,omitempty"`
	Action   *devtools.Action `json:"action,omitempty"`
	State    json.RawMessage  `json:"state,omitempty"`
}

// ClientFrame is a client-to-server message.
type ClientFrame struct {
	Instance string           `json:"instance,omitempty"`
	Message  devtools.Message `json:"message"`
}

// Server is a devtools.Extension that relays to WebSocket clients.
type Server struct {
	clients   map[*websocket.Conn]bool
	instances map[string]*connection
	broadcast chan Frame
	mu        sync.RWMutex
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
}

var _ devtools.Extension = (*Server)(nil)

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckOrigin restricts which origins may connect. By default every
// origin is accepted.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer creates a server. Call Start before connecting stores.
func NewServer(opts ...Option) *Server {
	s := &Server{
		clients:   make(map[*websocket.Conn]bool),
		instances: make(map[string]*connection),
		broadcast: make(chan Frame, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the broadcast loop until Close.
func (s *Server) Start() {
	go s.handleBroadcasts()
}

// Close stops the broadcast loop and disconnects all clients.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		for client := range s.clients {
			client.Close()
			delete(s.clients, client)
		}
	})
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request and serves one client until it
// disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("wsbridge: websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.logger.Warn("wsbridge: malformed client frame", "error", err)
				continue
			}
			break
		}
		s.route(frame)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) route(frame ClientFrame) {
	s.mu.RLock()
	var targets []*connection
	if frame.Instance == "" {
		for _, c := range s.instances {
			targets = append(targets, c)
		}
	} else if c, ok := s.instances[frame.Instance]; ok {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		s.logger.Debug("wsbridge: no instance for client frame", "instance", frame.Instance)
		return
	}
	for _, c := range targets {
		c.deliver(frame.Message)
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.broadcast:
			s.writeAll(frame)
		}
	}
}

func (s *Server) writeAll(frame Frame) {
	s.mu.RLock()
	var failed []*websocket.Conn
	for client := range s.clients {
		if err := client.WriteJSON(frame); err != nil {
			failed = append(failed, client)
		}
	}
	s.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	s.mu.Lock()
	for _, client := range failed {
		client.Close()
		delete(s.clients, client)
	}
	s.mu.Unlock()
}

func (s *Server) enqueue(frame Frame) error {
	select {
	case <-s.done:
		return fmt.Errorf("wsbridge: server closed")
	default:
	}

	select {
	case s.broadcast <- frame:
		return nil
	default:
		return fmt.Errorf("wsbridge: broadcast queue full, dropped %s frame for %s", frame.Type, frame.Instance)
	}
}

// Connect implements devtools.Extension.
func (s *Server) Connect(opts devtools.ConnectOptions) (devtools.Connection, error) {
	c := &connection{
		server:   s,
		instance: opts.InstanceID,
		name:     opts.Name,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.instances[c.instance]; exists {
		return nil, fmt.Errorf("wsbridge: instance %q already connected", c.instance)
	}
	s.instances[c.instance] = c
	return c, nil
}

// connection is one store's devtools.Connection.
type connection struct {
	server   *Server
	instance string
	name     string

	mu       sync.RWMutex
	handlers []*handler
}

type handler struct {
	fn func(devtools.Message)
}

func (c *connection) frame(typ string, action *devtools.Action, state any) (Frame, error) {
	f := Frame{Type: typ, Instance: c.instance, Name: c.name, Action: action}
	if state != nil {
		data, err := json.Marshal(state)
		if err != nil {
			return f, fmt.Errorf("wsbridge: encode state: %w", err)
		}
		f.State = data
	}
	return f, nil
}

// Init implements devtools.Connection.
func (c *connection) Init(state any) error {
	f, err := c.frame(FrameInit, nil, state)
	if err != nil {
		return err
	}
	return c.server.enqueue(f)
}

// Send implements devtools.Connection. A nil action sends a STATE frame.
func (c *connection) Send(action *devtools.Action, state any) error {
	typ := FrameAction
	if action == nil {
		typ = FrameState
	}
	f, err := c.frame(typ, action, state)
	if err != nil {
		return err
	}
	return c.server.enqueue(f)
}

// Subscribe implements devtools.Connection.
func (c *connection) Subscribe(fn func(devtools.Message)) func() {
	h := &handler{fn: fn}

	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, existing := range c.handlers {
				if existing == h {
					c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *connection) deliver(msg devtools.Message) {
	c.mu.RLock()
	handlers := make([]*handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h.fn(msg)
	}
}

// Close implements devtools.Connection.
func (c *connection) Close() error {
	c.server.mu.Lock()
	delete(c.server.instances, c.instance)
	c.server.mu.Unlock()

	c.mu.Lock()
	c.handlers = nil
	c.mu.Unlock()

	return c.server.enqueue(Frame{Type: FrameClose, Instance: c.instance, Name: c.name})
}
