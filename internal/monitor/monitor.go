// Package monitor exposes a small read-only HTTP status surface: overall
// state, per-job statistics, and a bounded history of recent job events.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"logingest/internal/eventbus"
	"logingest/internal/job"
	"logingest/pkg/logx"
)

const (
	defaultAddr = "127.0.0.1:8089"
	historyCap  = 256
)

type Config struct {
	Enabled bool
	Addr    string
}

// StatusInfo is the payload served by GET /status.
type StatusInfo struct {
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Jobs      int       `json:"jobs"`
	Uptime    string    `json:"uptime,omitempty"`
}

// HistoryEntry is one recorded job event.
type HistoryEntry struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Service serves /status, /jobs and /history. It subscribes to the event
// bus and keeps the most recent events in a ring.
type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	stats func() []job.Stats
	state func() StatusInfo

	mu      sync.Mutex
	ln      net.Listener
	srv     *http.Server
	unsub   func()
	history []HistoryEntry // ring, newest last
}

// New wires the service. stats and state are snapshot callbacks supplied by
// the coordinator and the app respectively.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, stats func() []job.Stats, state func() StatusInfo) *Service {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	return &Service{cfg: cfg, log: log, bus: bus, stats: stats, state: state}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start binds the listener and begins consuming job events. Returns the
// bound address (useful when cfg.Addr has port 0).
func (s *Service) Start(ctx context.Context) (string, error) {
	if !s.cfg.Enabled {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return s.ln.Addr().String(), nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(historyCap)
		s.unsub = unsub
		go s.consume(ch)
	}

	s.ln = ln
	s.srv = srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("monitor server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("monitor started", logx.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop shuts the server down. Safe to call more than once.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	unsub := s.unsub
	s.srv = nil
	s.ln = nil
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("monitor stopped")
}

func (s *Service) consume(ch <-chan eventbus.Event) {
	for e := range ch {
		s.record(HistoryEntry{Type: e.Type, Time: e.Time, Data: e.Data})
	}
}

func (s *Service) record(h HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) >= historyCap {
		copy(s.history, s.history[1:])
		s.history = s.history[:historyCap-1]
	}
	s.history = append(s.history, h)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var info StatusInfo
	if s.state != nil {
		info = s.state()
	}
	if !info.StartedAt.IsZero() {
		info.Uptime = time.Since(info.StartedAt).Round(time.Second).String()
	}
	writeJSON(w, info)
}

func (s *Service) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap []job.Stats
	if s.stats != nil {
		snap = s.stats()
	}
	if snap == nil {
		snap = []job.Stats{}
	}
	writeJSON(w, snap)
}

// handleHistory serves recent events, newest first. ?limit=N caps the count.
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := historyCap
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	s.mu.Lock()
	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.history[n-1-i]
	}
	s.mu.Unlock()

	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
