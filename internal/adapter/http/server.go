package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwygoda/fetchd/internal/domain"
	"github.com/dustin/go-humanize"
)

// Dispatcher runs fn on the goroutine that owns the scheduler. Handlers never
// touch scheduler state directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func(*domain.Scheduler)) error
}

// Server is the HTTP adapter exposing the scheduler's host contract.
type Server struct {
	disp   Dispatcher
	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(disp Dispatcher, addr string) *Server {
	s := &Server{
		disp: disp,
		mux:  http.NewServeMux(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /jobs", s.handleSubmit)
	s.mux.HandleFunc("GET /jobs", s.handleList)
	s.mux.HandleFunc("GET /job", s.handleGetJob)
	s.mux.HandleFunc("POST /jobs/restart", s.handleRestart)
	s.mux.HandleFunc("POST /jobs/cancel", s.handleCancel)
	s.mux.HandleFunc("DELETE /jobs", s.handleRemove)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// submitRequest is the request body for POST /jobs.
type submitRequest struct {
	URL      string         `json:"url"`
	Priority int            `json:"priority,omitempty"`
	Options  domain.Options `json:"options"`
}

// originsRequest is the request body for restart, cancel and remove.
type originsRequest struct {
	Origins []string `json:"origins"`
}

// jobResponse is the JSON view of a job.
type jobResponse struct {
	Origin    string   `json:"origin"`
	Title     string   `json:"title,omitempty"`
	Filepath  string   `json:"filepath,omitempty"`
	Playlist  []string `json:"playlist,omitempty"`
	Priority  int      `json:"priority"`
	Outcome   int      `json:"outcome"`
	Running   bool     `json:"running"`
	TotalSize int64    `json:"total_size"`
	Received  int64    `json:"received"`
	Percent   string   `json:"percent"`
	Size      string   `json:"size"`
	Speed     string   `json:"speed"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	var job *domain.Job
	var serr error
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		job, serr = sc.Submit(r.Context(), domain.SubmitSpec{
			Origin:   req.URL,
			Options:  req.Options,
			Priority: req.Priority,
		})
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if serr != nil {
		if errors.Is(serr, domain.ErrDuplicateJob) {
			s.writeError(w, http.StatusConflict, serr.Error())
			return
		}
		if errors.Is(serr, domain.ErrMissingOrigin) {
			s.writeError(w, http.StatusBadRequest, serr.Error())
			return
		}
		log.Printf("submit error: %v", serr)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, jobToResponse(job))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	switch state {
	case "", "running", "succeeded", "failed":
	default:
		s.writeError(w, http.StatusBadRequest, "unknown state filter")
		return
	}

	var out []jobResponse
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		var jobs []*domain.Job
		switch state {
		case "":
			jobs = sc.Jobs()
		case "running":
			jobs = sc.Running()
		case "succeeded":
			jobs = sc.Succeeded()
		case "failed":
			jobs = sc.Failed()
		}
		out = make([]jobResponse, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, jobToResponse(job))
		}
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		s.writeError(w, http.StatusBadRequest, "origin is required")
		return
	}

	var resp jobResponse
	var serr error
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		var job *domain.Job
		job, serr = sc.Get(origin)
		if serr == nil {
			resp = jobToResponse(job)
		}
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if serr != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	origins, ok := s.readOrigins(w, r)
	if !ok {
		return
	}
	var serr error
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		for _, origin := range origins {
			if e := sc.Enqueue(r.Context(), origin); e != nil && serr == nil {
				serr = e
			}
		}
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if serr != nil {
		s.writeError(w, http.StatusNotFound, serr.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	origins, ok := s.readOrigins(w, r)
	if !ok {
		return
	}
	var serr error
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		serr = sc.Cancel(origins...)
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if serr != nil {
		s.writeError(w, http.StatusNotFound, serr.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	origins, ok := s.readOrigins(w, r)
	if !ok {
		return
	}
	var serr error
	err := s.disp.Dispatch(r.Context(), func(sc *domain.Scheduler) {
		serr = sc.Remove(r.Context(), origins...)
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if serr != nil {
		if errors.Is(serr, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, serr.Error())
			return
		}
		log.Printf("remove error: %v", serr)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readOrigins(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req originsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	if len(req.Origins) == 0 {
		s.writeError(w, http.StatusBadRequest, "origins is required")
		return nil, false
	}
	return req.Origins, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	total := job.TotalSize()
	size := ""
	if total > 0 {
		size = humanize.Bytes(uint64(total))
	}
	speed := ""
	if v := job.Speed(); v > 0 {
		speed = humanize.Bytes(uint64(v)) + "/s"
	}
	return jobResponse{
		Origin:    job.Origin,
		Title:     job.Title(),
		Filepath:  job.Filepath(),
		Playlist:  job.PlaylistEntries(),
		Priority:  job.Priority,
		Outcome:   job.Outcome(),
		Running:   job.Running(),
		TotalSize: total,
		Received:  job.Received(),
		Percent:   strconv.FormatFloat(job.PercentDone(), 'f', 1, 64) + "%",
		Size:      size,
		Speed:     speed,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
