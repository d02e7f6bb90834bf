// Package api serves the HTTP interface: capture upload and analysis,
// recent alerts, metrics and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/model"
	"PcapSentry/pkg/pcap"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Analyzer runs the detection pipeline over a stored capture.
type Analyzer interface {
	AnalyzeCapture(ctx context.Context, path string) (*manager.Report, error)
}

// AlertLister returns the most recent alerts, newest first.
type AlertLister interface {
	Recent(n int) []model.AlertRecord
}

// Options configures the Handler.
type Options struct {
	Analyzer       Analyzer
	Alerts         AlertLister // optional
	Gatherer       prometheus.Gatherer
	UploadDir      string
	MaxUploadBytes int64
	Logger         zerolog.Logger
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	analyzer  Analyzer
	alerts    AlertLister
	gatherer  prometheus.Gatherer
	uploadDir string
	maxUpload int64
	log       zerolog.Logger
	now       func() time.Time
}

// UploadResponse is returned by a successful capture upload.
type UploadResponse struct {
	File   string          `json:"file"`
	Report *manager.Report `json:"report"`
}

const defaultAlertLimit = 100

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 256 << 20
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		analyzer:  opts.Analyzer,
		alerts:    opts.Alerts,
		gatherer:  gatherer,
		uploadDir: opts.UploadDir,
		maxUpload: maxUpload,
		log:       opts.Logger.With().Str("component", "api").Logger(),
		now:       time.Now,
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/captures", h.uploadCaptureHandler).Methods("POST")
	r.HandleFunc("/api/v1/alerts", h.listAlertsHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	return r
}

// uploadCaptureHandler stores the "file" form field as <millis>_<name> in
// the upload directory and analyses it.
func (h *Handler) uploadCaptureHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "capture file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("missing capture file: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		h.log.Error().Err(err).Msg("failed to create upload directory")
		http.Error(w, "failed to store capture", http.StatusInternalServerError)
		return
	}

	name := strconv.FormatInt(h.now().UnixMilli(), 10) + "_" + sanitize(header.Filename)
	dest := filepath.Join(h.uploadDir, name)
	if err := saveFile(dest, file); err != nil {
		h.log.Error().Err(err).Str("path", dest).Msg("failed to store capture")
		http.Error(w, "failed to store capture", http.StatusInternalServerError)
		return
	}
	h.log.Info().Str("path", dest).Int64("bytes", header.Size).Msg("capture uploaded")

	report, err := h.analyzer.AnalyzeCapture(r.Context(), dest)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pcap.ErrCaptureOpen) || errors.Is(err, pcap.ErrCaptureRead) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("failed to analyse capture: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{File: name, Report: report})
}

func (h *Handler) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		http.Error(w, "no in-memory alert sink configured", http.StatusNotImplemented)
		return
	}
	limit := defaultAlertLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.alerts.Recent(limit))
}

func saveFile(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

func sanitize(name string) string {
	name = unsafeName.ReplaceAllString(filepath.Base(name), "_")
	if name == "" || name == "." || name == ".." {
		return "capture.pcap"
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
