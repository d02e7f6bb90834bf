// Package persistent buffers live-captured frames and writes them out as pcap files.
package persistent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PcapSentry/pkg/pcap"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
)

// FileTimeFormat is the timestamp layout of drained capture files.
const FileTimeFormat = "20060102150405"

// Buffer collects frames while capturing is on. Drain moves everything
// collected so far into a new capture file and empties the buffer.
type Buffer struct {
	drainMu   sync.Mutex
	mu        sync.Mutex
	packets   []pcap.RawPacket
	capturing bool
	dropped   int

	dir        string
	linkType   layers.LinkType
	snapLen    uint32
	maxPackets int
	log        zerolog.Logger
}

// Options configures a Buffer.
type Options struct {
	Dir        string
	LinkType   layers.LinkType
	SnapLen    uint32
	MaxPackets int // 0 means unbounded
}

// NewBuffer creates the output directory and returns a stopped buffer.
func NewBuffer(opts Options, logger zerolog.Logger) (*Buffer, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &Buffer{
		dir:        opts.Dir,
		linkType:   opts.LinkType,
		snapLen:    opts.SnapLen,
		maxPackets: opts.MaxPackets,
		log:        logger.With().Str("component", "capture_buffer").Logger(),
	}, nil
}

// Start turns buffering on. It reports false when it was already on.
func (b *Buffer) Start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capturing {
		b.log.Warn().Msg("capture already running")
		return false
	}
	b.capturing = true
	return true
}

// Stop turns buffering off. Frames already held stay until drained.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.capturing = false
	b.mu.Unlock()
}

// Capturing reports whether frames are currently accepted.
func (b *Buffer) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capturing
}

// Add copies one frame into the buffer. It reports false when capturing is
// off or the buffer is full.
func (b *Buffer) Add(ci gopacket.CaptureInfo, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.capturing {
		return false
	}
	if b.maxPackets > 0 && len(b.packets) >= b.maxPackets {
		b.dropped++
		return false
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.packets = append(b.packets, pcap.RawPacket{CaptureInfo: ci, Data: cp})
	return true
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Drain writes all buffered frames to capture_<yyyyMMddHHmmss>.pcap in the
// output directory and clears the buffer. With nothing buffered it returns
// an empty path and writes no file. On a write error the frames are kept.
func (b *Buffer) Drain(now time.Time) (string, int, error) {
	b.drainMu.Lock()
	defer b.drainMu.Unlock()

	b.mu.Lock()
	pkts := b.packets
	b.packets = nil
	dropped := b.dropped
	b.dropped = 0
	b.mu.Unlock()

	if len(pkts) == 0 {
		b.log.Debug().Msg("no packets captured, nothing to save")
		return "", 0, nil
	}

	path, err := b.write(now, pkts)
	if err != nil {
		b.restore(pkts)
		return "", 0, err
	}

	ev := b.log.Info().Str("path", path).Int("packets", len(pkts))
	if dropped > 0 {
		ev = ev.Int("dropped", dropped)
	}
	ev.Msg("capture saved")
	return path, len(pkts), nil
}

// write stores pkts in a new file, never overwriting one drained within the
// same second: the name is claimed with O_EXCL and suffixed _N on collision.
func (b *Buffer) write(now time.Time, pkts []pcap.RawPacket) (string, error) {
	f, path, err := b.createUnique(now)
	if err != nil {
		return "", err
	}
	if err := pcap.WritePackets(f, b.linkType, b.snapLen, pkts); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close capture file: %w", err)
	}
	return path, nil
}

func (b *Buffer) createUnique(now time.Time) (*os.File, string, error) {
	base := "capture_" + now.Format(FileTimeFormat)
	path := filepath.Join(b.dir, base+".pcap")
	for i := 1; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("failed to create capture file: %w", err)
		}
		path = filepath.Join(b.dir, fmt.Sprintf("%s_%d.pcap", base, i))
	}
}

func (b *Buffer) restore(pkts []pcap.RawPacket) {
	b.mu.Lock()
	b.packets = append(pkts, b.packets...)
	b.mu.Unlock()
}
