// Package live captures frames from a network interface with libpcap.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/probe/persistent"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/rs/zerolog"
)

// LiveCapture reads frames from a network interface into a Buffer.
type LiveCapture struct {
	handle *pcap.Handle
	log    zerolog.Logger
}

// OpenLive opens the configured interface and applies the BPF filter.
func OpenLive(cfg config.ProbeConfig, logger zerolog.Logger) (*LiveCapture, error) {
	if cfg.Interface == "" {
		return nil, errors.New("probe.interface is required for live capture")
	}
	// A short read timeout lets Run notice cancellation.
	handle, err := pcap.OpenLive(cfg.Interface, cfg.SnapLen, cfg.Promiscuous, 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", cfg.Interface, err)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid bpf filter %q: %w", cfg.BPFFilter, err)
		}
	}
	log := logger.With().Str("component", "live_capture").Str("iface", cfg.Interface).Logger()
	log.Info().Str("filter", cfg.BPFFilter).Msg("capture started")
	return &LiveCapture{handle: handle, log: log}, nil
}

// LinkType returns the link type of the interface.
func (c *LiveCapture) LinkType() layers.LinkType {
	return c.handle.LinkType()
}

// Run copies frames into buf until ctx is cancelled.
func (c *LiveCapture) Run(ctx context.Context, buf *persistent.Buffer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := c.handle.ReadPacketData()
		switch {
		case err == nil:
			buf.Add(ci, data)
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
		default:
			return fmt.Errorf("live capture read failed: %w", err)
		}
	}
}

// Close releases the handle.
func (c *LiveCapture) Close() {
	c.handle.Close()
	c.log.Info().Msg("capture stopped")
}
