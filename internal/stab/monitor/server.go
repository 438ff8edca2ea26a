package monitor

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/veloframe/steady.video/internal/db"
	"github.com/veloframe/steady.video/internal/httputil"
	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/report"
)

// Server serves recorded runs over HTTP: a JSON API plus rendered HTML
// reports. It is read-only; recording happens in the replay tool.
type Server struct {
	database *db.DB
	mux      *http.ServeMux
}

// NewServer builds the monitor server over an open database.
func NewServer(database *db.DB) *Server {
	s := &Server{database: database, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/frames", s.handleFrames)
	s.mux.HandleFunc("GET /api/runs/{id}/states", s.handleStates)
	s.mux.HandleFunc("GET /runs/{id}/report", s.handleReport)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving on addr.
func (s *Server) ListenAndServe(addr string) error {
	stab.Opsf("monitor: listening on %s", addr)
	return http.ListenAndServe(addr, s.mux)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>Stabilization runs</title></head><body>
<h1>Recorded runs</h1>
<table border="1" cellpadding="4">
<tr><th>ID</th><th>Started</th><th>Source</th><th>Frames</th><th>Report</th></tr>
{{range .}}<tr>
<td>{{.ID}}</td>
<td>{{.StartedAt.Format "2006-01-02 15:04:05"}}</td>
<td>{{.Source}}</td>
<td>{{.Frames}}</td>
<td><a href="/runs/{{.ID}}/report">report</a></td>
</tr>{{end}}
</table></body></html>`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.database.RecentRuns(50)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, runs); err != nil {
		stab.Diagf("monitor: failed to render index: %v", err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := s.database.RecentRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, run)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	frames, err := s.database.FramesForRun(run.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, frames)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	changes, err := s.database.StateChangesForRun(run.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, changes)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	frames, err := s.database.FramesForRun(run.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(frames) == 0 {
		httputil.NotFound(w, fmt.Sprintf("run %d has no frames", run.ID))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, run, frames); err != nil {
		stab.Diagf("monitor: failed to render report for run %d: %v", run.ID, err)
	}
}

// lookupRun resolves the {id} path value to a recorded run, writing the
// error response itself on failure.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (db.Run, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid run id %q", r.PathValue("id")))
		return db.Run{}, false
	}
	runs, err := s.database.RecentRuns(1000)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return db.Run{}, false
	}
	for _, run := range runs {
		if run.ID == id {
			return run, true
		}
	}
	httputil.NotFound(w, fmt.Sprintf("run %d not found", id))
	return db.Run{}, false
}
