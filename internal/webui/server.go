// Package webui serves a small browser view of the dashboard: JSON endpoints
// for the current view and a WebSocket that pushes the view whenever a
// refresh cycle applies an update.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/tobert/jpm-dash/internal/dashboard"
	"github.com/tobert/jpm-dash/internal/jpm"
	"github.com/tobert/jpm-dash/internal/storage"
	"github.com/tobert/jpm-dash/internal/timewindow"
)

//go:embed static/index.html
var staticFiles embed.FS

// Options configures the web UI.
type Options struct {
	// Window is the trailing range used by reloads that name no range.
	Window time.Duration
	// OTLPEndpoint reports the metrics receiver address, if one runs.
	OTLPEndpoint func() string
}

// Server serves the embedded web UI and WebSocket updates.
type Server struct {
	controller *dashboard.Controller
	store      *storage.Store
	opts       Options
	startTime  time.Time
}

// New creates a web UI server for controller, which reads from store.
func New(controller *dashboard.Controller, store *storage.Store, opts Options) *Server {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.OTLPEndpoint == nil {
		opts.OTLPEndpoint = func() string { return "" }
	}
	return &Server{
		controller: controller,
		store:      store,
		opts:       opts,
		startTime:  time.Now(),
	}
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// ListenAndServe runs a standalone HTTP server for the web UI until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// handleDashboard returns the full current view.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.View())
}

// jobsResponse is the JSON shape for /api/jobs.
type jobsResponse struct {
	Generation uint64          `json:"generation"`
	Total      int             `json:"total"`
	Jobs       []jpm.JobRecord `json:"jobs"`
}

// handleJobs lists the view's jobs, optionally filtered by state and limited.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := s.controller.View()

	limit := len(view.Jobs)
	if limitStr := q.Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	state := q.Get("state")
	resp := jobsResponse{Generation: view.Generation, Jobs: []jpm.JobRecord{}}
	for _, job := range view.Jobs {
		if state != "" && job.CurrentState != state {
			continue
		}
		resp.Total++
		if len(resp.Jobs) < limit {
			resp.Jobs = append(resp.Jobs, job)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusResponse is the JSON shape for /api/status.
type statusResponse struct {
	Site         string             `json:"site"`
	Generation   uint64             `json:"generation"`
	State        string             `json:"state"`
	Complete     bool               `json:"complete"`
	OTLPEndpoint string             `json:"otlp_endpoint,omitempty"`
	Storage      storage.StoreStats `json:"storage"`
	Uptime       float64            `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := s.controller.View()
	writeJSON(w, http.StatusOK, statusResponse{
		Site:         s.controller.Site(),
		Generation:   view.Generation,
		State:        s.controller.State().String(),
		Complete:     view.Generation > 0 && view.Complete(),
		OTLPEndpoint: s.opts.OTLPEndpoint(),
		Storage:      s.store.Stats(),
		Uptime:       time.Since(s.startTime).Seconds(),
	})
}

// reloadResponse is the JSON shape for /api/reload.
type reloadResponse struct {
	Generation uint64           `json:"generation"`
	CycleID    string           `json:"cycle_id"`
	Range      timewindow.Range `json:"range"`
	Grid       timewindow.Grid  `json:"grid"`
}

// handleReload starts a cycle for ?start=&end= (RFC 3339 or epoch ms).
// Missing bounds default to the configured trailing window ending now.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := timewindow.ParseRange(q.Get("start"), q.Get("end"), s.opts.Window, s.controller.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cycle, err := s.controller.Refresh(r.Context(), rng)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, reloadResponse{
		Generation: cycle.Generation,
		CycleID:    cycle.ID,
		Range:      rng,
		Grid:       cycle.Grid,
	})
}

// wsControl is the client-sent control message on the WebSocket.
type wsControl struct {
	Paused bool `json:"paused"`
	Reload bool `json:"reload"`
}

// wsUpdate is the server-sent message on the WebSocket.
type wsUpdate struct {
	State string         `json:"state"`
	View  dashboard.View `json:"view"`
}

// handleWebSocket streams the view after every applied update.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	notifyCh, unsubscribe := s.controller.Subscribe()
	defer unsubscribe()

	controlCh := make(chan wsControl, 4)
	go func() {
		defer close(controlCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var c wsControl
			if json.Unmarshal(data, &c) == nil {
				select {
				case controlCh <- c:
				default:
				}
			}
		}
	}()

	s.sendWSUpdate(ctx, conn)

	// Keepalive so the client knows the server is alive between cycles.
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	var paused bool
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case c, ok := <-controlCh:
			if !ok {
				return
			}
			paused = c.Paused
			if c.Reload {
				rng := timewindow.Last(s.opts.Window, s.controller.Now())
				if _, err := s.controller.Refresh(ctx, rng); err != nil {
					log.Printf("⚠️  webui: reload rejected: %v\n", err)
				}
			}

		case <-notifyCh:
			if !paused {
				s.sendWSUpdate(ctx, conn)
			}

		case <-keepalive.C:
			if !paused {
				s.sendWSUpdate(ctx, conn)
			}
		}
	}
}

func (s *Server) sendWSUpdate(ctx context.Context, conn *websocket.Conn) {
	data, err := json.Marshal(wsUpdate{
		State: s.controller.State().String(),
		View:  s.controller.View(),
	})
	if err != nil {
		log.Printf("webui: failed to marshal update: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// A failed write means the connection is gone; the read loop ends the handler.
	_ = conn.Write(writeCtx, websocket.MessageText, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webui: failed to write JSON: %v", err)
	}
}
