package detector

import (
	"sort"

	"PcapSentry/internal/model"
)

// Finding is a detector result that has not been emitted yet.
type Finding struct {
	Kind     model.DetectorKind `json:"kind"`
	Evidence string             `json:"evidence"`
	SourceIP string             `json:"source_ip"`
	Context  string             `json:"context"`
}

// SignatureDetector matches buffered flow payloads against the rule set.
type SignatureDetector struct {
	rules *Rules
}

// NewSignatureDetector returns a detector over rules. A nil rules uses DefaultRules.
func NewSignatureDetector(rules *Rules) *SignatureDetector {
	if rules == nil {
		rules = DefaultRules()
	}
	return &SignatureDetector{rules: rules}
}

// IsUploadRequest reports whether payload carries a multipart or filename declaration.
func (d *SignatureDetector) IsUploadRequest(payload []byte) bool {
	return len(payload) > 0 && d.rules.UploadIndicator.Match(payload)
}

// DetectFileUpload returns every file-upload pattern match in payload.
func (d *SignatureDetector) DetectFileUpload(payload []byte) []string {
	return allMatches(d.rules.FileUpload.FindAll(payload, -1))
}

// DetectSQLInjection returns every SQL-injection pattern match in payload.
// Upload requests are never evaluated and yield nil.
func (d *SignatureDetector) DetectSQLInjection(payload []byte) []string {
	if d.IsUploadRequest(payload) {
		return nil
	}
	return allMatches(d.rules.SQLInjection.FindAll(payload, -1))
}

// Run evaluates every flow and returns at most one finding per flow and
// detector, upload findings first. Flows are visited in key order.
func (d *SignatureDetector) Run(streams model.StreamBuffer) []Finding {
	keys := sortedKeys(streams)

	var findings []Finding
	for _, key := range keys {
		if len(d.DetectFileUpload(streams[key])) > 0 {
			findings = append(findings, newFlowFinding(model.KindFileUpload, key, streams[key]))
		}
	}
	for _, key := range keys {
		if len(d.DetectSQLInjection(streams[key])) > 0 {
			findings = append(findings, newFlowFinding(model.KindSQLInjection, key, streams[key]))
		}
	}
	return findings
}

func newFlowFinding(kind model.DetectorKind, key model.FlowKey, payload []byte) Finding {
	label := key.String()
	return Finding{
		Kind:     kind,
		Evidence: string(payload),
		SourceIP: model.ParseFlowKeySource(label),
		Context:  label,
	}
}

func allMatches(raw [][]byte) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, m := range raw {
		out[i] = string(m)
	}
	return out
}

func sortedKeys(streams model.StreamBuffer) []model.FlowKey {
	keys := make([]model.FlowKey, 0, len(streams))
	for k := range streams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
