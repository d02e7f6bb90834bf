package pcap

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PcapSentry/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleFrames() []Frame {
	return []Frame{
		{Timestamp: base, SrcIP: "10.0.0.5", DstIP: "192.168.1.1", Transport: model.TransportTCP, SrcPort: 51000, DstPort: 80, Payload: []byte("GET / HTTP/1.1\r\n\r\n")},
		{Timestamp: base.Add(time.Millisecond)},
		{Timestamp: base.Add(2 * time.Millisecond), SrcIP: "10.0.0.6", DstIP: "192.168.1.1", Transport: model.TransportUDP, SrcPort: 40000, DstPort: 53, Payload: []byte{1, 2}},
	}
}

func readAll(t *testing.T, r *Reader) []*model.PacketRecord {
	t.Helper()
	var recs []*model.PacketRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, ErrEndOfCapture) {
			return recs
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestReader_ClassicPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcap")
	if err := WriteFile(path, sampleFrames()); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}

	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if reader.Format() != "pcap" || reader.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("Unexpected format/link type: %s/%s", reader.Format(), reader.LinkType())
	}

	recs := readAll(t, reader)
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	if recs[0].Transport != model.TransportTCP || string(recs[0].Payload) != "GET / HTTP/1.1\r\n\r\n" {
		t.Errorf("Unexpected first record: %+v", recs[0])
	}
	if recs[1].HasNetwork() {
		t.Errorf("ARP record should have no network layer: %+v", recs[1])
	}
	if !recs[2].Timestamp.Equal(base.Add(2 * time.Millisecond)) {
		t.Errorf("Timestamp = %s, want capture timestamp", recs[2].Timestamp)
	}

	// Once exhausted the reader keeps reporting end of capture.
	if _, err := reader.Next(); !errors.Is(err, ErrEndOfCapture) {
		t.Errorf("Expected ErrEndOfCapture, got %v", err)
	}
}

func TestReader_Pcapng(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcapng")
	if err := WriteNgFile(path, sampleFrames()); err != nil {
		t.Fatalf("Failed to write pcapng: %v", err)
	}

	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if reader.Format() != "pcapng" {
		t.Errorf("Expected pcapng format, got %s", reader.Format())
	}
	if recs := readAll(t, reader); len(recs) != 3 {
		t.Errorf("Expected 3 records, got %d", len(recs))
	}
}

func TestReader_EmptyCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	if err := WriteFile(path, nil); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}
	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); !errors.Is(err, ErrEndOfCapture) {
		t.Errorf("Expected ErrEndOfCapture for an empty capture, got %v", err)
	}
}

func TestReader_OpenErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewReader(filepath.Join(dir, "missing.pcap"), zerolog.Nop()); !errors.Is(err, ErrCaptureOpen) {
		t.Errorf("Expected ErrCaptureOpen for a missing file, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.pcap")
	if err := os.WriteFile(garbage, []byte("this is not a capture file at all"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	_, err := NewReader(garbage, zerolog.Nop())
	var capErr *CaptureError
	if !errors.As(err, &capErr) || !errors.Is(err, ErrCaptureOpen) {
		t.Errorf("Expected *CaptureError wrapping ErrCaptureOpen, got %v", err)
	}
}

func TestReader_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.pcap")
	if err := WriteFile(path, sampleFrames()); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read pcap: %v", err)
	}
	// Cut the last record in half.
	if err := os.WriteFile(path, data[:len(data)-10], 0644); err != nil {
		t.Fatalf("Failed to truncate pcap: %v", err)
	}

	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	recs := readAll(t, reader)
	if len(recs) != 2 {
		t.Errorf("Expected 2 complete records before the truncated tail, got %d", len(recs))
	}
	if !reader.Stats().Truncated {
		t.Error("Expected Stats().Truncated to be set")
	}
}

func TestReader_SkipsUndecodableFrame(t *testing.T) {
	good, err := sampleFrames()[0].Raw()
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	bad := RawPacket{CaptureInfo: good.CaptureInfo, Data: []byte{0x01, 0x02, 0x03}}
	bad.CaptureInfo.CaptureLength, bad.CaptureInfo.Length = 3, 3

	path := filepath.Join(t.TempDir(), "mixed.pcap")
	if err := WriteRawFile(path, layers.LinkTypeEthernet, 0, []RawPacket{bad, good}); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}

	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	recs := readAll(t, reader)
	if len(recs) != 1 {
		t.Errorf("Expected 1 decodable record, got %d", len(recs))
	}
	if s := reader.Stats(); s.Frames != 2 || s.Skipped != 1 || s.Decoded != 1 {
		t.Errorf("Unexpected stats: %+v", s)
	}
}

func TestReader_ReadPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.pcap")
	if err := WriteFile(path, sampleFrames()); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}
	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	out := make(chan *model.PacketRecord)
	errCh := make(chan error, 1)
	go func() { errCh <- reader.ReadPackets(context.Background(), out) }()

	count := 0
	for range out {
		count++
	}
	if err := <-errCh; err != nil {
		t.Errorf("ReadPackets returned %v", err)
	}
	if count != 3 {
		t.Errorf("Expected to read 3 packets, but got %d", count)
	}
}

func TestReader_FatalReadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.pcap")
	if err := WriteFile(path, sampleFrames()[:1]); err != nil {
		t.Fatalf("Failed to write pcap: %v", err)
	}
	// A record header claiming more bytes than the snap length.
	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[8:], 1<<24)
	binary.LittleEndian.PutUint32(hdr[12:], 1<<24)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("Failed to open pcap: %v", err)
	}
	f.Write(hdr)
	f.Close()

	reader, err := NewReader(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != nil {
		t.Fatalf("First record should decode: %v", err)
	}
	_, err = reader.Next()
	var capErr *CaptureError
	if !errors.As(err, &capErr) || !errors.Is(err, ErrCaptureRead) {
		t.Errorf("Expected *CaptureError wrapping ErrCaptureRead, got %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, ErrEndOfCapture) {
		t.Errorf("Reader must stay finished after a fatal error, got %v", err)
	}
}
