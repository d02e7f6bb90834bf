package probe

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CaptureNotice announces a capture file that is ready for analysis.
type CaptureNotice struct {
	Path       string
	Packets    int
	CapturedAt time.Time
}

// Marshal encodes the notice as a protobuf Struct.
func (n CaptureNotice) Marshal() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"path":        n.Path,
		"packets":     n.Packets,
		"captured_at": n.CapturedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// UnmarshalCaptureNotice decodes a notice produced by Marshal.
func UnmarshalCaptureNotice(data []byte) (CaptureNotice, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return CaptureNotice{}, fmt.Errorf("invalid capture notice: %w", err)
	}
	f := st.GetFields()
	n := CaptureNotice{
		Path:    f["path"].GetStringValue(),
		Packets: int(f["packets"].GetNumberValue()),
	}
	if n.Path == "" {
		return CaptureNotice{}, fmt.Errorf("capture notice without path")
	}
	if ts := f["captured_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return CaptureNotice{}, fmt.Errorf("invalid capture notice time: %w", err)
		}
		n.CapturedAt = t
	}
	return n, nil
}

// Publisher announces finished capture files on a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a publisher on an existing connection.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Publish serializes the notice and publishes it.
func (p *Publisher) Publish(n CaptureNotice) error {
	data, err := n.Marshal()
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}
