package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/legitcheck/internal/database"
	"github.com/TobiSchelling/legitcheck/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Error bodies returned by /predict.
const (
	errNoImage     = "No image uploaded"
	errUnsupported = "Unsupported file type or MIME format. Only JPEG and PNG are allowed."
	errInvalid     = "Uploaded file is not a valid image."
	errTooLarge    = "Uploaded file is too large."
)

// maxUploadBytes bounds the multipart body held in memory.
const maxUploadBytes = 32 << 20

var allowedExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true}

var allowedMIME = map[string]bool{"image/jpeg": true, "image/png": true}

// Predictor classifies a decoded image.
type Predictor interface {
	Predict(img image.Image) (*model.Prediction, error)
}

type metrics struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// Server is the HTTP prediction service.
type Server struct {
	pred     Predictor
	db       *database.DB
	report   *template.Template
	registry *prometheus.Registry
	metrics  metrics
	mux      *http.ServeMux
}

// New creates a Server. db may be nil, in which case /report always
// answers 404.
func New(pred Predictor, db *database.DB) (*Server, error) {
	report, err := template.New("report.html").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	s := &Server{
		pred:     pred,
		db:       db,
		report:   report,
		registry: reg,
		metrics: metrics{
			requests: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "legitcheck_predict_requests_total",
				Help: "Prediction requests by outcome",
			}, []string{"outcome"}),
			latency: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "legitcheck_inference_duration_seconds",
				Help:    "Time spent preprocessing and running the model for one image",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			}),
		},
		mux: http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/predict", s.handlePredict)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/report", s.handleReport)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	outcome := "error"
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic while predicting: %v", rec)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", rec))
		}
		s.metrics.requests.WithLabelValues(outcome).Inc()
	}()

	if r.ContentLength > maxUploadBytes {
		outcome = "rejected"
		writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		outcome = "rejected"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errNoImage)
		return
	}
	defer file.Close()

	if !allowedFile(sanitizeFilename(header.Filename)) {
		outcome = "rejected"
		writeError(w, http.StatusBadRequest, errUnsupported)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", err))
		return
	}
	// Content that is recognizably some other format is refused outright;
	// unrecognized bytes are left to the decoder.
	if kind, _ := filetype.Match(data); kind != filetype.Unknown && !allowedMIME[kind.MIME.Value] {
		outcome = "rejected"
		writeError(w, http.StatusBadRequest, errUnsupported)
		return
	}

	img, err := model.Decode(bytes.NewReader(data))
	if err != nil {
		outcome = "invalid"
		writeError(w, http.StatusBadRequest, errInvalid)
		return
	}

	start := time.Now()
	pred, err := s.pred.Predict(img)
	s.metrics.latency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("Error predicting: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", err))
		return
	}

	outcome = "ok"
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "No evaluation report yet", http.StatusNotFound)
		return
	}
	eval, err := s.db.GetLatestEvaluation()
	if err != nil {
		log.Printf("Error loading evaluation: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if eval == nil || eval.ReportMarkdown == nil {
		http.Error(w, "No evaluation report yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.report.Execute(w, eval); err != nil {
		log.Printf("Error rendering report: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sanitizeFilename reduces an uploaded name to a safe base name: path
// components are dropped, whitespace becomes '_', anything outside
// [A-Za-z0-9._-] is removed and leading dots or underscores are trimmed.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range strings.Join(strings.Fields(name), "_") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.TrimLeft(b.String(), "._")
}

func allowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	return i >= 0 && allowedExtensions[strings.ToLower(name[i+1:])]
}

func renderMarkdown(text *string) template.HTML {
	if text == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(*text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(*text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve runs srv on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, srv *Server, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("Server stopped")
	return nil
}
