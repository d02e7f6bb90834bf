package snapshot

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PcapSentry/internal/engine/detector"
	"PcapSentry/internal/engine/manager"
)

// SummaryData holds the metadata of one analysis report.
type SummaryData struct {
	Capture   string          `json:"capture"`
	Findings  int             `json:"findings"`
	ByKind    map[string]int  `json:"by_kind"`
	Report    *manager.Report `json:"report"`
	Timestamp string          `json:"timestamp"`
}

// Writer handles writing analysis reports to disk.
type Writer struct{}

// NewWriter creates a new report writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write stores report under rootPath/<timestamp>/<capture name>/: the
// findings gob-encoded in findings.dat and a summary.json next to it.
// It returns the directory written.
func (w *Writer) Write(report *manager.Report, rootPath string, timestamp string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(report.Path), filepath.Ext(report.Path))
	reportDir := filepath.Join(rootPath, timestamp, name)
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	if len(report.Findings) > 0 {
		filePath := filepath.Join(reportDir, "findings.dat")
		file, err := os.Create(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to create findings file '%s': %w", filePath, err)
		}
		defer file.Close()

		if err := gob.NewEncoder(file).Encode(report.Findings); err != nil {
			return "", fmt.Errorf("failed to encode findings to gob for file '%s': %w", filePath, err)
		}
	}

	byKind := make(map[string]int)
	for _, f := range report.Findings {
		byKind[f.Kind.String()]++
	}
	summary := SummaryData{
		Capture:   report.Path,
		Findings:  len(report.Findings),
		ByKind:    byKind,
		Report:    report,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	summaryFile, err := os.Create(filepath.Join(reportDir, "summary.json"))
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return "", fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return reportDir, nil
}

// ReadFindings decodes a findings.dat file.
func ReadFindings(path string) ([]detector.Finding, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var findings []detector.Finding
	if err := gob.NewDecoder(file).Decode(&findings); err != nil {
		return nil, fmt.Errorf("failed to decode findings: %w", err)
	}
	return findings, nil
}
