package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NATSSink publishes alerts to "<prefix>.<kind>".
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	proto  bool
}

// NewNATSSink creates a sink on an existing connection.
func NewNATSSink(nc *nats.Conn, cfg config.NATSSinkConfig) (*NATSSink, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "pcapsentry.alerts"
	}
	var useProto bool
	switch cfg.Encoding {
	case "", "json":
	case "proto":
		useProto = true
	default:
		return nil, fmt.Errorf("unknown nats sink encoding %q", cfg.Encoding)
	}
	return &NATSSink{nc: nc, prefix: prefix, proto: useProto}, nil
}

// Subject returns the subject alerts of kind are published on.
func (s *NATSSink) Subject(kind string) string {
	return s.prefix + "." + kind
}

// SaveAlert implements model.AlertSink.
func (s *NATSSink) SaveAlert(_ context.Context, alert *model.AlertRecord) error {
	msg := nats.NewMsg(s.Subject(alert.KindName))
	var err error
	if s.proto {
		msg.Header.Set("Content-Type", "application/protobuf")
		msg.Data, err = EncodeAlertProto(alert)
	} else {
		msg.Header.Set("Content-Type", "application/json")
		msg.Data, err = json.Marshal(alert)
	}
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// EncodeAlertProto encodes an alert as a protobuf Struct.
func EncodeAlertProto(alert *model.AlertRecord) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"id":        alert.ID,
		"kind":      alert.KindName,
		"category":  alert.Category,
		"evidence":  alert.Evidence,
		"source_ip": alert.SourceIP,
		"context":   alert.Context,
		"timestamp": alert.Timestamp.UTC().Format(time.RFC3339Nano),
		"blacklist": alert.Blacklist,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// DecodeAlertProto reverses EncodeAlertProto.
func DecodeAlertProto(data []byte) (*model.AlertRecord, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	f := st.GetFields()
	kind, err := model.ParseDetectorKind(f["kind"].GetStringValue())
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("invalid alert timestamp: %w", err)
	}
	return &model.AlertRecord{
		ID:        f["id"].GetStringValue(),
		Kind:      kind,
		KindName:  kind.String(),
		Category:  f["category"].GetStringValue(),
		Evidence:  f["evidence"].GetStringValue(),
		SourceIP:  f["source_ip"].GetStringValue(),
		Context:   f["context"].GetStringValue(),
		Timestamp: ts,
		Blacklist: f["blacklist"].GetBoolValue(),
	}, nil
}
