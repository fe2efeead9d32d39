package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDisabled is returned by Start when the settings leave the bridge off.
var ErrDisabled = errors.New("eventbridge: bridge disabled")

// Acknowledgement statuses returned for a posted hook.
const (
	AckAccepted = "accepted"
	AckIgnored  = "ignored"
)

// Server receives editor hooks on POST /events. Hooks about nuScr documents
// are forwarded to the processor; hooks about any other language are
// acknowledged as ignored and dropped at the edge.
type Server struct {
	settings  Settings
	processor EventProcessor
	logger    Logger
	clock     func() time.Time

	accepted atomic.Int64
	ignored  atomic.Int64

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor sets where accepted hooks go. The default drops them.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a hook receiver. Nothing listens until Start.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings:  settings.withDefaults(),
		processor: EventProcessorFunc(func(Event) error { return nil }),
		logger:    nopLogger{},
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /events", s.handleEvents)
	return mux
}

// Start binds the listener and serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("eventbridge: already listening")
	}
	listener, err := net.Listen("tcp", s.settings.Address())
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", s.settings.Address(), err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.settings.Timeout,
		ReadTimeout:       s.settings.Timeout,
		WriteTimeout:      s.settings.Timeout,
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.listener, s.http = listener, srv
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s", listener.Addr())
	return nil
}

// Shutdown stops the listener and waits for in-flight hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	s.listener, s.http = nil, nil
	return err
}

// BaseURL is the address editors should post to, using the bound port once
// the server is listening.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.settings.URL()
	}
	return "http://" + s.listener.Addr().String()
}

// Counts reports how many hooks were forwarded and how many were ignored.
func (s *Server) Counts() (accepted, ignored int64) {
	return s.accepted.Load(), s.ignored.Load()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	accepted, ignored := s.Counts()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  ProtocolVersion,
		Accepted: accepted,
		Ignored:  ignored,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var evt Event
	body := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&evt); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "hook exceeds %d bytes", s.settings.MaxBodyBytes)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: %v", err)
		return
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	evt.StampServerTime(s.clock())

	if !evt.IsNuscr() {
		s.ignored.Add(1)
		writeJSON(w, http.StatusOK, ack{Status: AckIgnored, EventID: evt.EventID, ServerTime: evt.ServerTime})
		return
	}
	if err := s.processor.HandleEvent(evt); err != nil {
		s.logger.Printf("eventbridge: %s %s: %v", evt.Type, evt.Path, err)
		writeError(w, http.StatusInternalServerError, "hook not processed")
		return
	}
	s.accepted.Add(1)
	writeJSON(w, http.StatusAccepted, ack{Status: AckAccepted, EventID: evt.EventID, ServerTime: evt.ServerTime})
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
