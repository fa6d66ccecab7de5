package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"walletsync/pkg/logger"
	"walletsync/pkg/provider"
	"walletsync/pkg/session"
	"walletsync/pkg/wallet"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Present  bool            `json:"present"`
	MetaMask bool            `json:"metamask"`
	Busy     bool            `json:"busy"`
	State    wallet.State    `json:"state"`
	Notice   *session.Notice `json:"notice"`
}

type Server struct {
	session *session.Session
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	mux     *http.ServeMux
	log     *log.Logger

	noticeTTL time.Duration
	notice    *session.Notice
	noticeAt  time.Time
	now       func() time.Time
}

// NewServer creates the status server. A non-nil bridge handler is served
// under /bridge/.
func NewServer(s *session.Session, bridge http.Handler, noticeTTL time.Duration) *Server {
	srv := &Server{
		session:   s,
		clients:   make(map[*websocket.Conn]bool),
		mux:       http.NewServeMux(),
		log:       logger.For("server"),
		noticeTTL: noticeTTL,
		now:       time.Now,
	}
	srv.routes(bridge)
	return srv
}

func (s *Server) routes(bridge http.Handler) {
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/toggle", s.handleToggle)
	s.mux.HandleFunc("/ws", s.handleWS)
	if bridge != nil {
		s.mux.Handle("/bridge/", http.StripPrefix("/bridge", bridge))
	}
}

// Handler exposes the routes, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on port until ctx is cancelled. Session events are relayed
// to websocket clients for as long as the server runs.
func (s *Server) Start(ctx context.Context, port int) error {
	sub := s.session.Subscribe()
	go s.listenToSession(sub)
	defer s.session.Unsubscribe(sub)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("API server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) stateResponse() StateResponse {
	snap := s.session.Snapshot()
	resp := StateResponse{
		Present:  snap.Present,
		MetaMask: snap.MetaMask,
		Busy:     snap.Busy,
		State:    snap.State,
	}
	s.mu.Lock()
	if s.notice != nil && s.now().Sub(s.noticeAt) < s.noticeTTL {
		n := *s.notice
		resp.Notice = &n
	}
	s.mu.Unlock()
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stateResponse())
}

// handleToggle connects when disconnected and disconnects otherwise. The
// request blocks while the wallet prompts the user.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	if err := s.session.Toggle(r.Context()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, session.ErrNoProvider), errors.Is(err, session.ErrClosed):
			status = http.StatusConflict
		case errors.Is(err, provider.ErrUserRejected):
			status = http.StatusForbidden
		}
		s.log.Warn("toggle failed", "err", err)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(s.stateResponse())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	initialData := map[string]interface{}{
		"type": "initial",
		"data": s.stateResponse(),
	}
	s.mu.Lock()
	if err := conn.WriteJSON(initialData); err != nil {
		s.mu.Unlock()
		return
	}
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) listenToSession(sub session.Subscriber) {
	for event := range sub {
		if n, ok := event.Data.(session.Notice); ok {
			s.mu.Lock()
			s.notice = &n
			s.noticeAt = s.now()
			s.mu.Unlock()
		}
		s.broadcast(event)
	}
}

func (s *Server) broadcast(event session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}
