// Package dashboard is the read-only HTTP/WebSocket surface named as
// a boundary contract in §6: JSON projections of session and mail
// state, plus a live WebSocket feed driven by internal/nudge's
// fsnotify watcher. It never mutates coordination-core state.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/jayminwest/overstory/internal/corelog"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/store"
)

// TerminalReader is the narrow capability the terminal-output
// WebSocket needs from the multiplexer collaborator: read-only pane
// capture and resize. internal/tmux.Multiplexer satisfies this
// structurally; it is kept separate from collab.TerminalMultiplexer
// because neither operation is part of the core watchdog's contract.
type TerminalReader interface {
	CapturePane(ctx context.Context, name string) (string, error)
	Resize(ctx context.Context, name string, cols, rows int) error
}

// sessionNamePattern enforces §6's sanitization rule: every path
// component used to identify a session must match this set before
// being passed to an external command.
var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Options configures the dashboard's bind address.
type Options struct {
	Host string
	Port int
}

// Server hosts the read-only dashboard API.
type Server struct {
	db     *store.DB
	nudges *nudge.Channel
	logger *corelog.Logger
	term   TerminalReader

	host string
	port int
	http *http.Server
}

// SetTerminalReader wires a TerminalReader into the dashboard,
// enabling GET /ws/terminal/{name}. Without one, that route responds
// 503: the dashboard can still serve JSON projections with no
// terminal-multiplexer collaborator configured.
func (s *Server) SetTerminalReader(t TerminalReader) {
	s.term = t
}

// New constructs a Server backed by db, reading nudge markers under
// stateDir for its live WebSocket feed.
func New(db *store.DB, stateDir string, logger *corelog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 7777
	}

	srv := &Server{
		db:     db,
		nudges: nudge.New(stateDir),
		logger: logger,
		host:   host,
		port:   port,
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)
	srv.http = &http.Server{
		Addr:              srv.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Addr returns the bound host:port address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves the dashboard in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("dashboard: listen: %w", err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
		s.http.Addr = s.Addr()
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("dashboard: server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{name}", s.handleGetSession)
	mux.HandleFunc("GET /api/mail", s.handleListMail)
	mux.HandleFunc("GET /api/merge-queue", s.handleListMergeQueue)
	mux.HandleFunc("GET /ws/sessions", s.handleSessionsWebSocket)
	mux.HandleFunc("GET /ws/terminal/{name}", s.handleTerminalWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleListSessions serves GET /api/sessions: a JSON projection of
// every known session, ordered as the store returns them.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.GetAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleGetSession serves GET /api/sessions/{name}, the supplemented
// session-detail endpoint named in SPEC_FULL.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	sess, err := s.db.GetByName(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleListMail serves GET /api/mail?agent=<name>, a JSON projection
// of that agent's mailbox. It reads the agent, threadId and limit
// query parameters; the from, to and unread filters of the broker's
// List are not exposed here.
func (s *Server) handleListMail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.MailFilter{
		Agent:    q.Get("agent"),
		ThreadID: q.Get("threadId"),
	}
	if limit, err := parseIntParam(q, "limit"); err == nil && limit > 0 {
		f.Limit = limit
	}

	msgs, err := s.db.ListMail(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleListMergeQueue projects the merge-queue store named in §6
// read-only, mirroring handleListMail's shape.
func (s *Server) handleListMergeQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.ListMergeQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseIntParam(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", key)
	}
	return strconv.Atoi(raw)
}

type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleSessionsWebSocket streams a session snapshot whenever a nudge
// marker changes, giving the dashboard a live view without polling.
// It is write-only; the per-session terminal feed below is where
// §6's {"type":"resize"} control message actually applies.
func (s *Server) handleSessionsWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	watcher, err := nudge.NewWatcher(s.nudges, s.logger)
	if err != nil {
		s.logger.Warn("dashboard: fsnotify unavailable, live feed disabled: %v", err)
		<-ctx.Done()
		return
	}
	defer watcher.Close()

	if err := s.writeSnapshot(ctx, ws); err != nil {
		return
	}

	for {
		agent := nudge.WaitForAny(ctx, watcher.Events, 30*time.Second)
		if ctx.Err() != nil {
			return
		}
		if agent == "" {
			continue
		}
		if err := s.writeSnapshot(ctx, ws); err != nil {
			return
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, ws *websocket.Conn) error {
	sessions, err := s.db.GetAll()
	if err != nil {
		return err
	}
	data, err := json.Marshal(wsEnvelope{Type: "snapshot", Data: sessions})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

type terminalControlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// handleTerminalWebSocket serves GET /ws/terminal/{name}: the §6
// boundary that "streams terminal-multiplexer output and accepts
// {type:"resize",cols,rows} control messages". The session name is
// sanitized before it ever reaches the tmux collaborator, since it
// becomes an external-command argument. The feed is read-only: no
// keystroke input is accepted, preserving the terminal-input-race
// avoidance that motivates the whole nudge-marker design (§9).
func (s *Server) handleTerminalWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !sessionNamePattern.MatchString(name) {
		http.Error(w, "invalid session name", http.StatusBadRequest)
		return
	}
	if s.term == nil {
		http.Error(w, "terminal streaming not configured", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	go s.readTerminalControl(ctx, ws, name)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, err := s.term.CapturePane(ctx, name)
			if err != nil {
				s.logger.Warn("dashboard: capture pane %s: %v", name, err)
				continue
			}
			if out == last {
				continue
			}
			last = out
			data, err := json.Marshal(wsEnvelope{Type: "output", Data: out})
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err = ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// readTerminalControl drains inbound control messages from the
// terminal WebSocket, applying {type:"resize"} and discarding
// anything else: the feed accepts no input that could race with a
// tool call in progress on the real terminal.
func (s *Server) readTerminalControl(ctx context.Context, ws *websocket.Conn, name string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg terminalControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "resize" || msg.Cols <= 0 || msg.Rows <= 0 {
			continue
		}
		if err := s.term.Resize(ctx, name, msg.Cols, msg.Rows); err != nil {
			s.logger.Warn("dashboard: resize %s: %v", name, err)
		}
	}
}
