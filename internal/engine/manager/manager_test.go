package manager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/metrics"
	"PcapSentry/internal/model"
	"PcapSentry/pkg/pcap"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const target = "192.168.1.1"

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memSink struct {
	mu     sync.Mutex
	alerts []*model.AlertRecord
}

func (s *memSink) SaveAlert(_ context.Context, a *model.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *memSink) kinds() map[model.DetectorKind]int {
	out := make(map[model.DetectorKind]int)
	for _, a := range s.alerts {
		out[a.Kind]++
	}
	return out
}

func newManager(t *testing.T, mutate func(*config.Config)) (*Manager, *memSink) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Analysis.TargetIP = target
	cfg.Analysis.NumWorkers = 4
	if mutate != nil {
		mutate(cfg)
	}
	sink := &memSink{}
	m, err := NewManager(cfg, sink, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, sink
}

func writeCapture(t *testing.T, frames []pcap.Frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	if err := pcap.WriteFile(path, frames); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func httpFrame(i int, src string, srcPort uint16, payload string) pcap.Frame {
	return pcap.Frame{
		Timestamp: epoch.Add(time.Duration(i) * time.Millisecond),
		SrcIP:     src,
		DstIP:     target,
		Transport: model.TransportTCP,
		SrcPort:   srcPort,
		DstPort:   80,
		Payload:   []byte(payload),
	}
}

// floodFrames spreads n packets over enough sources that none exceeds 50.
func floodFrames(n int, transport model.Transport, dstPort uint16) []pcap.Frame {
	frames := make([]pcap.Frame, n)
	for i := range frames {
		src := i / 50
		frames[i] = pcap.Frame{
			Timestamp: epoch.Add(time.Duration(i) * time.Microsecond),
			SrcIP:     fmt.Sprintf("10.1.%d.%d", src/250, src%250+1),
			DstIP:     target,
			Transport: transport,
			SrcPort:   uint16(20000 + i%50),
			DstPort:   dstPort,
			SYN:       transport == model.TransportTCP,
		}
	}
	return frames
}

func TestAnalyzeCapture_SQLInjection(t *testing.T) {
	m, sink := newManager(t, nil)
	path := writeCapture(t, []pcap.Frame{
		httpFrame(0, "10.0.0.5", 51000, "GET /item?id=7' OR 1=1 HTTP/1.1\r\n\r\n"),
		httpFrame(1, "10.0.0.6", 51001, "GET /index.html HTTP/1.1\r\n\r\n"),
	})

	report, err := m.AnalyzeCapture(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(sink.alerts))
	}
	a := sink.alerts[0]
	if a.Kind != model.KindSQLInjection || a.SourceIP != "10.0.0.5" {
		t.Errorf("Unexpected alert: %+v", a)
	}
	if a.Context != "10.0.0.5:51000 -> 192.168.1.1:80 (TCP)" {
		t.Errorf("Context = %q", a.Context)
	}
	if report.Decoded != 2 || report.StreamFlows != 2 || report.AlertsEmitted != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestAnalyzeCapture_PayloadKeepsArrivalOrder(t *testing.T) {
	m, sink := newManager(t, nil)
	var frames []pcap.Frame
	parts := []string{"GET /item?id=7", "' OR ", "1=1", " HTTP/1.1\r\n\r\n"}
	for i, p := range parts {
		frames = append(frames, httpFrame(i, "10.0.0.5", 51000, p))
		// Interleave unrelated flows so several workers are busy.
		frames = append(frames, httpFrame(i, fmt.Sprintf("10.0.1.%d", i+1), 40000, "GET / HTTP/1.1\r\n\r\n"))
	}
	path := writeCapture(t, frames)

	if _, err := m.AnalyzeCapture(context.Background(), path); err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(sink.alerts))
	}
	if want := strings.Join(parts, ""); sink.alerts[0].Evidence != want {
		t.Errorf("Evidence = %q, want %q", sink.alerts[0].Evidence, want)
	}
}

func TestAnalyzeCapture_UploadSuppressesSQLInjection(t *testing.T) {
	m, sink := newManager(t, nil)
	body := "POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=x\r\n\r\n" +
		"Content-Disposition: form-data; name=\"f\"; filename=\"shell.php\"\r\n\r\n<?php eval($_POST['c']); // SELECT * FROM users ?>"
	path := writeCapture(t, []pcap.Frame{httpFrame(0, "10.0.0.7", 52000, body)})

	if _, err := m.AnalyzeCapture(context.Background(), path); err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	kinds := sink.kinds()
	if kinds[model.KindFileUpload] != 1 || kinds[model.KindSQLInjection] != 0 {
		t.Errorf("Expected one FileUpload and no SQLInjection, got %v", kinds)
	}
}

func TestAnalyzeCapture_TargetFilter(t *testing.T) {
	m, sink := newManager(t, nil)
	other := httpFrame(0, "10.0.0.5", 51000, "id=1 UNION SELECT password FROM users")
	other.DstIP = "192.168.1.2"
	path := writeCapture(t, []pcap.Frame{other})

	report, err := m.AnalyzeCapture(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if len(sink.alerts) != 0 || report.Accepted != 0 {
		t.Errorf("Expected the packet to be filtered out, got %d alerts and %d accepted", len(sink.alerts), report.Accepted)
	}
}

func TestAnalyzeCapture_NonPayloadPortIgnored(t *testing.T) {
	m, sink := newManager(t, nil)
	f := httpFrame(0, "10.0.0.5", 51000, "id=1 UNION SELECT password FROM users")
	f.DstPort = 3306
	path := writeCapture(t, []pcap.Frame{f})

	if _, err := m.AnalyzeCapture(context.Background(), path); err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if len(sink.alerts) != 0 {
		t.Errorf("Payload outside HTTP/HTTPS must not be inspected, got %d alerts", len(sink.alerts))
	}
}

func TestAnalyzeCapture_Floods(t *testing.T) {
	tests := []struct {
		name      string
		frames    []pcap.Frame
		kind      model.DetectorKind
		wantAlert int
	}{
		{"syn at threshold", floodFrames(1000, model.TransportTCP, 80), model.KindSynFlood, 0},
		{"syn over threshold", floodFrames(1001, model.TransportTCP, 80), model.KindSynFlood, 1},
		{"udp at threshold", floodFrames(5000, model.TransportUDP, 53), model.KindUDPFlood, 0},
		{"udp over threshold", floodFrames(5001, model.TransportUDP, 53), model.KindUDPFlood, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sink := newManager(t, nil)
			if _, err := m.AnalyzeCapture(context.Background(), writeCapture(t, tt.frames)); err != nil {
				t.Fatalf("AnalyzeCapture failed: %v", err)
			}
			kinds := sink.kinds()
			if kinds[tt.kind] != tt.wantAlert {
				t.Errorf("Expected %d %s alerts, got %v", tt.wantAlert, tt.kind, kinds)
			}
			if kinds[model.KindHighFrequency] != 0 {
				t.Errorf("Unexpected HighFrequency alerts: %v", kinds)
			}
			for _, a := range sink.alerts {
				if a.Kind == tt.kind && a.SourceIP != model.UnknownSourceIP {
					t.Errorf("Flood alert SourceIP = %q", a.SourceIP)
				}
			}
		})
	}
}

func TestAnalyzeCapture_HighFrequency(t *testing.T) {
	m, sink := newManager(t, nil)
	var frames []pcap.Frame
	for i := 0; i < 101; i++ {
		frames = append(frames, httpFrame(i, "10.0.0.9", uint16(30000+i), ""))
	}

	if _, err := m.AnalyzeCapture(context.Background(), writeCapture(t, frames)); err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	kinds := sink.kinds()
	if kinds[model.KindHighFrequency] != 1 || len(sink.alerts) != 1 {
		t.Fatalf("Expected exactly one HighFrequency alert, got %v", kinds)
	}
	if sink.alerts[0].SourceIP != "10.0.0.9" || sink.alerts[0].Context != "protocol type: TCP" {
		t.Errorf("Unexpected alert: %+v", sink.alerts[0])
	}
}

func TestAnalyzeCapture_UploadFlowNotHighFrequency(t *testing.T) {
	m, sink := newManager(t, nil)
	var frames []pcap.Frame
	for i := 0; i < 150; i++ {
		payload := ""
		if i == 0 {
			payload = "POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=x\r\n\r\nfilename=\"cat.png\""
		}
		frames = append(frames, httpFrame(i, "10.0.0.9", 30000, payload))
	}

	if _, err := m.AnalyzeCapture(context.Background(), writeCapture(t, frames)); err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if n := sink.kinds()[model.KindHighFrequency]; n != 0 {
		t.Errorf("Upload flow must not count toward high frequency, got %d alerts", n)
	}
}

func TestAnalyzeCapture_UploadOnNonPayloadPortNotHighFrequency(t *testing.T) {
	m, sink := newManager(t, nil)
	var frames []pcap.Frame
	for i := 0; i < 150; i++ {
		f := httpFrame(i, "10.0.0.9", 30000, "")
		f.DstPort = 9000
		if i == 0 {
			f.Payload = []byte("POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=x\r\n\r\nfilename=\"cat.png\"")
		}
		frames = append(frames, f)
	}

	report, err := m.AnalyzeCapture(context.Background(), writeCapture(t, frames))
	if err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if report.StreamFlows != 0 {
		t.Fatalf("Port 9000 must not be buffered as a payload stream, got %d", report.StreamFlows)
	}
	if kinds := sink.kinds(); kinds[model.KindHighFrequency] != 0 {
		t.Errorf("Upload flow on port 9000 must not count toward high frequency, got %v", kinds)
	}
}

func TestAnalyzeCapture_NoStateAcrossRuns(t *testing.T) {
	m, sink := newManager(t, nil)
	path := writeCapture(t, []pcap.Frame{httpFrame(0, "10.0.0.5", 51000, "q=1 OR 1=1")})

	for i := 0; i < 2; i++ {
		report, err := m.AnalyzeCapture(context.Background(), path)
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if report.AlertsEmitted != 1 || report.TCPFlows != 1 {
			t.Errorf("run %d: unexpected report %+v", i, report)
		}
	}
	if len(sink.alerts) != 2 {
		t.Errorf("Expected one alert per run, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Evidence != sink.alerts[1].Evidence {
		t.Error("Payload must not accumulate across runs")
	}
}

func TestAnalyzeCapture_EmptyCapture(t *testing.T) {
	m, sink := newManager(t, nil)
	report, err := m.AnalyzeCapture(context.Background(), writeCapture(t, nil))
	if err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if len(sink.alerts) != 0 || report.Decoded != 0 {
		t.Errorf("Expected nothing, got %d alerts and %d packets", len(sink.alerts), report.Decoded)
	}
}

func TestAnalyzeCapture_OpenFailure(t *testing.T) {
	reg := metrics.New(nil)
	cfg := config.DefaultConfig()
	sink := &memSink{}
	m, err := NewManager(cfg, sink, nil, reg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	_, err = m.AnalyzeCapture(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"))
	if !errors.Is(err, pcap.ErrCaptureOpen) {
		t.Fatalf("Expected ErrCaptureOpen, got %v", err)
	}
	var ce *pcap.CaptureError
	if !errors.As(err, &ce) {
		t.Errorf("Expected *pcap.CaptureError, got %T", err)
	}
	if len(sink.alerts) != 0 {
		t.Errorf("No alerts may be emitted on open failure")
	}
	if got := testutil.ToFloat64(reg.Analyses.WithLabelValues("error")); got != 1 {
		t.Errorf("analyses_total{result=error} = %v, want 1", got)
	}
}

func TestAnalyzeCapture_FatalReadFailure(t *testing.T) {
	m, sink := newManager(t, nil)
	path := writeCapture(t, []pcap.Frame{httpFrame(0, "10.0.0.5", 51000, "q=1 OR 1=1")})

	// Append a record header whose capture length exceeds the snap length.
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[8:], 1<<24)
	binary.LittleEndian.PutUint32(hdr[12:], 1<<24)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	f.Write(hdr)
	f.Close()

	if _, err := m.AnalyzeCapture(context.Background(), path); !errors.Is(err, pcap.ErrCaptureRead) {
		t.Fatalf("Expected ErrCaptureRead, got %v", err)
	}
	if len(sink.alerts) != 0 {
		t.Errorf("No alerts may be emitted when the read fails, got %d", len(sink.alerts))
	}
}

func TestAnalyzeCapture_Cancelled(t *testing.T) {
	m, sink := newManager(t, nil)
	path := writeCapture(t, floodFrames(2000, model.TransportTCP, 80))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.AnalyzeCapture(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(sink.alerts) != 0 {
		t.Errorf("No alerts may be emitted after cancellation")
	}
}

func TestAnalyzeCapture_Pcapng(t *testing.T) {
	m, sink := newManager(t, nil)
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	if err := pcap.WriteNgFile(path, []pcap.Frame{httpFrame(0, "10.0.0.5", 51000, "name=x; DROP TABLE users")}); err != nil {
		t.Fatalf("WriteNgFile failed: %v", err)
	}

	report, err := m.AnalyzeCapture(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeCapture failed: %v", err)
	}
	if report.Format != "pcapng" || len(sink.alerts) != 1 {
		t.Errorf("Expected one alert from a pcapng capture, got %d (%s)", len(sink.alerts), report.Format)
	}
}

func TestNewManager_Errors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Analysis.TargetIP = "not-an-ip"
	if _, err := NewManager(cfg, &memSink{}, nil, nil, zerolog.Nop()); err == nil {
		t.Error("Expected error for invalid target IP")
	}

	cfg = config.DefaultConfig()
	cfg.Rules.ExtraSQLInjection = []string{"("}
	if _, err := NewManager(cfg, &memSink{}, nil, nil, zerolog.Nop()); err == nil {
		t.Error("Expected error for invalid rule")
	}

	// Unknown labels are only a warning.
	cfg = config.DefaultConfig()
	cfg.Analysis.PayloadLabels = []string{"HTTP", "GOPHER"}
	if _, err := NewManager(cfg, &memSink{}, nil, nil, zerolog.Nop()); err != nil {
		t.Errorf("Unknown label must not fail construction: %v", err)
	}
}
