package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"PcapSentry/internal/engine/protocol"
	"PcapSentry/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
)

const pcapngMagic = 0x0A0D0D0A

// packetSource is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Stats counts what a Reader has seen so far.
type Stats struct {
	Frames    int
	Decoded   int
	Skipped   int
	Truncated bool
}

// Reader reads packets from a pcap or pcapng file.
type Reader struct {
	path   string
	file   *os.File
	source packetSource
	format string
	stats  Stats
	log    zerolog.Logger
	done   bool
}

// NewReader opens the capture at filePath. The format is chosen from the
// file magic, so both classic pcap and pcapng are accepted.
func NewReader(filePath string, logger zerolog.Logger) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, &CaptureError{Kind: ErrCaptureOpen, Path: filePath, Err: err}
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, &CaptureError{Kind: ErrCaptureOpen, Path: filePath, Err: fmt.Errorf("reading file magic: %w", err)}
	}

	var (
		source packetSource
		format string
	)
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		source, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		format = "pcapng"
	} else {
		source, err = pcapgo.NewReader(br)
		format = "pcap"
	}
	if err != nil {
		f.Close()
		return nil, &CaptureError{Kind: ErrCaptureOpen, Path: filePath, Err: err}
	}

	r := &Reader{
		path:   filePath,
		file:   f,
		source: source,
		format: format,
		log:    logger.With().Str("component", "pcap_reader").Str("path", filePath).Logger(),
	}
	r.log.Debug().Str("format", format).Str("link_type", source.LinkType().String()).Msg("capture opened")
	return r, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// LinkType is the link-layer type declared in the capture header.
func (r *Reader) LinkType() layers.LinkType {
	return r.source.LinkType()
}

// Format is "pcap" or "pcapng".
func (r *Reader) Format() string {
	return r.format
}

// Stats returns a copy of the reader counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Next returns the next decodable packet. Frames that fail to decode are
// skipped with a warning. A truncated trailing record ends the capture.
// It returns ErrEndOfCapture when no packets remain and a *CaptureError for
// any other read failure.
func (r *Reader) Next() (*model.PacketRecord, error) {
	for {
		if r.done {
			return nil, ErrEndOfCapture
		}

		data, ci, err := r.source.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			r.done = true
			return nil, ErrEndOfCapture
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.done = true
			r.stats.Truncated = true
			r.log.Warn().Int("frames", r.stats.Frames).Msg("capture ends with a truncated record, treating as end of capture")
			return nil, ErrEndOfCapture
		default:
			r.done = true
			return nil, &CaptureError{Kind: ErrCaptureRead, Path: r.path, Err: err}
		}

		r.stats.Frames++
		rec, err := protocol.ParsePacket(data, r.source.LinkType(), ci)
		if err != nil {
			r.stats.Skipped++
			r.log.Warn().Err(err).Int("frame", r.stats.Frames).Msg("skipping undecodable frame")
			continue
		}
		r.stats.Decoded++
		return rec, nil
	}
}

// ReadPackets reads all packets from the capture and sends them to out.
// It closes out when done and returns nil at end of capture.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketRecord) error {
	defer close(out)
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, ErrEndOfCapture) {
				return nil
			}
			return err
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
