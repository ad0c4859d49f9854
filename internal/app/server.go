package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/validate"
)

// uploadOverhead is the multipart framing allowed on top of the document
// size limit.
const uploadOverhead = 1 << 20

// Server exposes the pipeline over HTTP.
type Server struct {
	app     *App
	limiter *rate.Limiter
	logger  zerolog.Logger
	mux     *http.ServeMux
}

// NewServer builds the HTTP API for a. Pipeline requests are limited to
// cfg.RateLimit per second with cfg.RateBurst headroom; a zero limit
// disables limiting.
func NewServer(a *App) *Server {
	lim := rate.NewLimiter(rate.Inf, 0)
	if a.cfg.RateLimit > 0 {
		burst := a.cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(a.cfg.RateLimit), burst)
	}
	s := &Server{app: a, limiter: lim, logger: a.logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/process-company", s.limited(s.handleProcessCompany))
	s.mux.HandleFunc("POST /api/upload-pdf", s.limited(s.handleUpload))
	s.mux.HandleFunc("GET /download/{filename}", s.handleDownload)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", a.metrics.Handler())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", id)
	logger := s.logger.With().Str("request_id", id).Logger()
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(sw, r.WithContext(logger.WithContext(r.Context())))
	d := time.Since(start)
	s.app.metrics.ObserveHTTP(r.Method, routeLabel(r.URL.Path), sw.status, d)
	logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).Dur("duration", d).Msg("request served")
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel keeps metric label cardinality bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/download/"):
		return "/download/{filename}"
	case path == "/api/process-company", path == "/api/upload-pdf", path == "/api/health", path == "/metrics":
		return path
	}
	return "other"
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", addr).Str("version", BuildVersion).Msg("server listening")
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, Result{Stage: "rate_limit", Error: "too many requests, try again later"})
			return
		}
		h(w, r)
	}
}

type processRequest struct {
	Company string `json:"company"`
}

func (s *Server) handleProcessCompany(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Stage: string(failure.PhaseValidation), Error: "request body must be JSON with a company field"})
		return
	}
	res, err := s.app.Process(r.Context(), req.Company)
	writeJSON(w, statusFor(err), res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	max := s.app.cfg.MaxDocumentBytes
	if max <= 0 {
		max = validate.MaxDocumentBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, max+uploadOverhead)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = validate.DocumentHeader("upload.pdf", max+1, max)
			writeJSON(w, statusFor(err), Result{Stage: string(failure.PhaseOf(err)), Error: failure.Public(err)})
			return
		}
		writeJSON(w, http.StatusBadRequest, Result{Stage: string(failure.PhaseValidation), Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()
	if err := validate.DocumentHeader(hdr.Filename, hdr.Size, max); err != nil {
		writeJSON(w, statusFor(err), Result{Filename: hdr.Filename, Stage: string(failure.PhaseOf(err)), Error: failure.Public(err)})
		return
	}

	stem := strings.TrimSuffix(filepath.Base(hdr.Filename), filepath.Ext(hdr.Filename))
	dst := filepath.Join(s.app.cfg.DownloadDir, fmt.Sprintf("%s_upload_%d.pdf", validate.SafeName(stem, 25), s.app.now().UnixNano()))
	if err := saveUpload(dst, file); err != nil {
		e := failure.Internal(fmt.Errorf("store upload: %w", err))
		zerolog.Ctx(r.Context()).Error().Err(e).Msg("upload not stored")
		writeJSON(w, http.StatusInternalServerError, Result{Stage: string(e.Phase), Error: failure.Public(e)})
		return
	}
	res, err := s.app.ProcessFile(r.Context(), dst)
	writeJSON(w, statusFor(err), res)
}

func saveUpload(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return err
	}
	return f.Close()
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !safeFilename(name) {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.app.cfg.DownloadDir, name)
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// safeFilename accepts a bare file name: no separators, no parent
// references and no hidden files.
func safeFilename(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"version":   BuildVersion,
		"commit":    BuildCommit,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statusFor maps a pipeline error to the HTTP status of its response.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch failure.KindOf(err) {
	case failure.KindValidation:
		return http.StatusBadRequest
	case failure.KindAcquisition, failure.KindExtraction, failure.KindSummarization:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
