// Package api serves the run catalogue over HTTP: runs, their peaks and
// the rendered reports.
package api

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/tsmap/internal/db"
	"github.com/banshee-data/tsmap/internal/httputil"
	"github.com/banshee-data/tsmap/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type Server struct {
	db        *db.DB
	reportDir string
}

// NewServer returns a server over catalogue. When reportDir is set the
// report files below it are served under /reports/.
func NewServer(catalogue *db.DB, reportDir string) *Server {
	return &Server{db: catalogue, reportDir: reportDir}
}

// RunAPI is the JSON form of a run. Unknown values are null.
type RunAPI struct {
	ID                 string     `json:"run_id"`
	Name               string     `json:"name"`
	Dataset            string     `json:"dataset"`
	Model              string     `json:"model"`
	KernelWidth        float64    `json:"kernel_width_deg"`
	DownsamplingFactor int        `json:"downsampling_factor"`
	EnergyGroups       int        `json:"n_energy_groups"`
	NX                 int        `json:"nx"`
	NY                 int        `json:"ny"`
	Status             string     `json:"status"`
	MaxTS              *float64   `json:"max_ts"`
	OutputPath         string     `json:"output_path,omitempty"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
}

// PeakAPI is the JSON form of a catalogued peak.
type PeakAPI struct {
	Slice   int      `json:"slice"`
	Rank    int      `json:"rank"`
	X       int      `json:"x"`
	Y       int      `json:"y"`
	Lon     float64  `json:"lon"`
	Lat     float64  `json:"lat"`
	TS      float64  `json:"ts"`
	SqrtTS  float64  `json:"sqrt_ts"`
	Flux    *float64 `json:"flux"`
	FluxErr *float64 `json:"flux_err"`
}

// encoding/json rejects NaN
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// RunToAPI converts a catalogue run to its JSON form.
func RunToAPI(r *db.Run) RunAPI {
	out := RunAPI{
		ID:                 r.ID,
		Name:               r.Name,
		Dataset:            r.Dataset,
		Model:              r.Model,
		KernelWidth:        r.KernelWidth,
		DownsamplingFactor: r.DownsamplingFactor,
		EnergyGroups:       r.EnergyGroups,
		NX:                 r.NX,
		NY:                 r.NY,
		Status:             r.Status,
		MaxTS:              finite(r.MaxTS),
		OutputPath:         r.OutputPath,
		Error:              r.Error,
		StartedAt:          r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		t := r.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// PeakToAPI converts a catalogue peak to its JSON form.
func PeakToAPI(p db.Peak) PeakAPI {
	return PeakAPI{
		Slice: p.Slice, Rank: p.Rank, X: p.X, Y: p.Y, Lon: p.Lon, Lat: p.Lat,
		TS: p.TS, SqrtTS: math.Sqrt(math.Max(p.TS, 0)),
		Flux: finite(p.Flux), FluxErr: finite(p.FluxErr),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", s.listRuns)
	mux.HandleFunc("/runs/{id}", s.run)
	mux.HandleFunc("/runs/{id}/peaks", s.listPeaks)
	mux.HandleFunc("/version", s.showVersion)
	if s.reportDir != "" {
		mux.Handle("/reports/", http.StripPrefix("/reports/", http.FileServer(http.Dir(s.reportDir))))
	}
	return mux
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to list runs: "+err.Error())
		return
	}
	out := make([]RunAPI, len(runs))
	for i, run := range runs {
		out[i] = RunToAPI(run)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		run, err := s.db.GetRun(r.Context(), id)
		if writeLookupError(w, err) {
			return
		}
		httputil.WriteJSONOK(w, RunToAPI(run))
	case http.MethodDelete:
		if writeLookupError(w, s.db.DeleteRun(r.Context(), id)) {
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listPeaks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	minTS := -1.0
	if v := r.URL.Query().Get("min_ts"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(parsed) {
			httputil.BadRequest(w, "Invalid 'min_ts' parameter")
			return
		}
		minTS = parsed
	}
	_, err := s.db.GetRun(r.Context(), id)
	if writeLookupError(w, err) {
		return
	}
	peaks, err := s.db.ListPeaks(r.Context(), id, minTS)
	if err != nil {
		httputil.InternalServerError(w, "Failed to list peaks: "+err.Error())
		return
	}
	out := make([]PeakAPI, len(peaks))
	for i, p := range peaks {
		out[i] = PeakToAPI(p)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// writeLookupError reports whether err was written as a response.
func writeLookupError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, db.ErrRunNotFound):
		httputil.NotFound(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
	return true
}
