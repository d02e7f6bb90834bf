package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/engine/manager"
	"PcapSentry/internal/metrics"
	"PcapSentry/internal/model"
	"PcapSentry/internal/sink"
	"PcapSentry/pkg/pcap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func captureBytes(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.pcap")
	err := pcap.WriteFile(path, []pcap.Frame{{
		Timestamp: epoch,
		SrcIP:     "10.0.0.5",
		DstIP:     "192.168.1.1",
		Transport: model.TransportTCP,
		SrcPort:   51000,
		DstPort:   80,
		Payload:   []byte("GET /item?id=7' OR 1=1 HTTP/1.1\r\n\r\n"),
	}})
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return data
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

type testServer struct {
	handler   *Handler
	mem       *sink.MemorySink
	uploadDir string
	reg       *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := sink.NewMemorySink(10)

	cfg := config.DefaultConfig()
	mgr, err := manager.NewManager(cfg, mem, nil, m, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "uploads")
	h := NewHandler(Options{Analyzer: mgr, Alerts: mem, Gatherer: reg, UploadDir: dir, Logger: zerolog.Nop()})
	h.now = func() time.Time { return epoch }
	return &testServer{handler: h, mem: mem, uploadDir: dir, reg: reg}
}

func TestUploadCapture(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "file", "../../evil name.pcap", captureBytes(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	wantName := fmt.Sprintf("%d_evil_name.pcap", epoch.UnixMilli())
	if resp.File != wantName {
		t.Errorf("File = %q, want %q", resp.File, wantName)
	}
	if _, err := os.Stat(filepath.Join(ts.uploadDir, wantName)); err != nil {
		t.Errorf("Upload not stored in upload dir: %v", err)
	}
	if resp.Report == nil || resp.Report.AlertsEmitted != 1 {
		t.Errorf("Expected one alert in report, got %+v", resp.Report)
	}
	if ts.mem.Total() != 1 {
		t.Errorf("Memory sink holds %d alerts, want 1", ts.mem.Total())
	}
}

func TestUploadCapture_MissingFile(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "other", "x.pcap", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadCapture_NotACapture(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "file", "notes.txt", []byte("definitely not a pcap file"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if ts.mem.Total() != 0 {
		t.Error("No alerts may be emitted for an unreadable capture")
	}
}

type failingAnalyzer struct{}

func (failingAnalyzer) AnalyzeCapture(context.Context, string) (*manager.Report, error) {
	return nil, errors.New("boom")
}

func TestUploadCapture_InternalError(t *testing.T) {
	h := NewHandler(Options{Analyzer: failingAnalyzer{}, UploadDir: t.TempDir(), Logger: zerolog.Nop()})
	body, ct := multipartBody(t, "file", "a.pcap", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/captures", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestListAlerts(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		ts.mem.SaveAlert(context.Background(), model.NewAlertRecord(model.KindSQLInjection, fmt.Sprint(i), "10.0.0.5", "ctx", epoch))
	}

	rec := httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var alerts []model.AlertRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("Failed to decode alerts: %v", err)
	}
	if len(alerts) != 2 || alerts[0].Evidence != "2" || alerts[0].KindName != "sql_injection" {
		t.Errorf("Unexpected alerts: %+v", alerts)
	}

	rec = httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a bad limit", rec.Code)
	}
}

func TestListAlerts_NoMemorySink(t *testing.T) {
	h := NewHandler(Options{Analyzer: failingAnalyzer{}, Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	// Counters without labels are exported even before any analysis.
	rec = httptest.NewRecorder()
	ts.handler.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pcapsentry_packets_read_total") {
		t.Errorf("metrics endpoint did not export pcapsentry counters")
	}
}
