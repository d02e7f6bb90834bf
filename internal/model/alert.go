package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DetectorKind is the closed set of alert categories the engine can raise.
type DetectorKind uint8

const (
	KindInvalid DetectorKind = iota
	KindSQLInjection
	KindFileUpload
	KindSynFlood
	KindUDPFlood
	KindHighFrequency
)

var kindNames = map[DetectorKind]string{
	KindSQLInjection:  "sql_injection",
	KindFileUpload:    "file_upload",
	KindSynFlood:      "syn_flood",
	KindUDPFlood:      "udp_flood",
	KindHighFrequency: "high_frequency",
}

// Valid reports whether k is one of the defined kinds.
func (k DetectorKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k DetectorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", uint8(k))
}

// Category is the coarse alarm category used by downstream storage:
// SQL injection, file upload or DDoS.
func (k DetectorKind) Category() string {
	switch k {
	case KindSQLInjection:
		return "SQL injection"
	case KindFileUpload:
		return "File upload"
	case KindSynFlood, KindUDPFlood, KindHighFrequency:
		return "DDoS"
	}
	return ""
}

// LegacyIndex is the integer alarm-type index of the category, as stored by
// older sinks: 0 SQL injection, 1 file upload, 2 DDoS.
func (k DetectorKind) LegacyIndex() int {
	switch k {
	case KindSQLInjection:
		return 0
	case KindFileUpload:
		return 1
	case KindSynFlood, KindUDPFlood, KindHighFrequency:
		return 2
	}
	return -1
}

// MarshalText encodes the kind by name.
func (k DetectorKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid detector kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *DetectorKind) UnmarshalText(text []byte) error {
	parsed, err := ParseDetectorKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseDetectorKind maps a kind name back to its DetectorKind.
func ParseDetectorKind(s string) (DetectorKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown detector kind: %q", s)
}

// DetectorKindFromIndex converts a legacy alarm-type index into a kind.
// Index 2 maps to KindSynFlood, the representative DDoS kind.
// It panics on an index outside 0..2: callers must only pass indices they own.
func DetectorKindFromIndex(i int) DetectorKind {
	switch i {
	case 0:
		return KindSQLInjection
	case 1:
		return KindFileUpload
	case 2:
		return KindSynFlood
	}
	panic(fmt.Sprintf("invalid alarm type index: %d", i))
}

// AlertRecord is a single emitted finding.
type AlertRecord struct {
	ID        string       `json:"id" msgpack:"id"`
	Kind      DetectorKind `json:"-" msgpack:"-"`
	KindName  string       `json:"kind" msgpack:"kind"`
	Category  string       `json:"category" msgpack:"category"`
	Evidence  string       `json:"evidence" msgpack:"evidence"`
	SourceIP  string       `json:"source_ip" msgpack:"source_ip"`
	Context   string       `json:"context" msgpack:"context"`
	Timestamp time.Time    `json:"timestamp" msgpack:"timestamp"`
	Blacklist bool         `json:"blacklist" msgpack:"blacklist"`
}

// NewAlertRecord builds a record with a fresh ID. It panics when kind is not a
// defined DetectorKind; an empty sourceIP is replaced by UnknownSourceIP.
func NewAlertRecord(kind DetectorKind, evidence, sourceIP, context string, ts time.Time) *AlertRecord {
	if !kind.Valid() {
		panic(fmt.Sprintf("invalid detector kind: %d", uint8(kind)))
	}
	if strings.TrimSpace(sourceIP) == "" {
		sourceIP = UnknownSourceIP
	}
	return &AlertRecord{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Kind:      kind,
		KindName:  kind.String(),
		Category:  kind.Category(),
		Evidence:  evidence,
		SourceIP:  sourceIP,
		Context:   context,
		Timestamp: ts,
	}
}
