package detector

import (
	"fmt"
	"sort"
	"time"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"
)

// WindowMode selects how volumetric counts are computed.
type WindowMode string

const (
	// WindowCapture counts every sample of the analysed capture.
	WindowCapture WindowMode = "capture"
	// WindowSliding counts the densest TimeWindow-long interval of capture time.
	WindowSliding WindowMode = "sliding"
)

// Thresholds holds the volumetric limits. Every check is strictly greater-than.
type Thresholds struct {
	RequestThreshold int
	SynThreshold     int
	UDPThreshold     int
	TimeWindow       time.Duration
	Mode             WindowMode
}

// DefaultThresholds returns the built-in limits: 100 requests per source,
// 1000 TCP and 5000 UDP packets, nominal 10s window over the whole capture.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RequestThreshold: 100,
		SynThreshold:     1000,
		UDPThreshold:     5000,
		TimeWindow:       10 * time.Second,
		Mode:             WindowCapture,
	}
}

// ThresholdsFromConfig converts the YAML thresholds section.
func ThresholdsFromConfig(cfg config.ThresholdsConfig) (Thresholds, error) {
	window, err := cfg.Window()
	if err != nil {
		return Thresholds{}, err
	}
	mode := WindowMode(cfg.WindowMode)
	if mode == "" {
		mode = WindowCapture
	}
	if mode != WindowCapture && mode != WindowSliding {
		return Thresholds{}, fmt.Errorf("unknown window mode %q", cfg.WindowMode)
	}
	return Thresholds{
		RequestThreshold: cfg.RequestThreshold,
		SynThreshold:     cfg.SynThreshold,
		UDPThreshold:     cfg.UDPThreshold,
		TimeWindow:       window,
		Mode:             mode,
	}, nil
}

// VolumetricDetector raises high-frequency and flood findings from traffic samples.
type VolumetricDetector struct {
	th Thresholds
}

func NewVolumetricDetector(th Thresholds) *VolumetricDetector {
	return &VolumetricDetector{th: th}
}

// Run evaluates one transport's sample. isUpload, when non-nil, excludes
// upload flows from the per-source count; it does not affect the flood total.
func (d *VolumetricDetector) Run(samples model.TrafficSample, transport model.Transport, isUpload func(model.FlowKey) bool) []Finding {
	var findings []Finding
	windowSecs := int(d.th.TimeWindow / time.Second)
	protoLabel := "protocol type: " + transport.String()

	// Per-source high frequency.
	bySource := make(map[string][]time.Time)
	var all []time.Time
	for key, ts := range samples {
		all = append(all, ts...)
		if isUpload != nil && isUpload(key) {
			continue
		}
		bySource[key.SrcIP] = append(bySource[key.SrcIP], ts...)
	}

	sources := make([]string, 0, len(bySource))
	for src := range bySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		count := d.count(bySource[src])
		if count > d.th.RequestThreshold {
			findings = append(findings, Finding{
				Kind:     model.KindHighFrequency,
				Evidence: fmt.Sprintf("[High-frequency request] source IP %s sent %d requests within %d seconds (non-file-upload)", src, count, windowSecs),
				SourceIP: src,
				Context:  protoLabel,
			})
		}
	}

	// Protocol-total flood.
	total := d.count(all)
	switch transport {
	case model.TransportTCP:
		if total > d.th.SynThreshold {
			findings = append(findings, Finding{
				Kind:     model.KindSynFlood,
				Evidence: fmt.Sprintf("[SYN Flood] detected %d TCP packets within %d seconds", total, windowSecs),
				SourceIP: model.UnknownSourceIP,
				Context:  protoLabel,
			})
		}
	case model.TransportUDP:
		if total > d.th.UDPThreshold {
			findings = append(findings, Finding{
				Kind:     model.KindUDPFlood,
				Evidence: fmt.Sprintf("[UDP Flood] detected %d UDP packets within %d seconds", total, windowSecs),
				SourceIP: model.UnknownSourceIP,
				Context:  protoLabel,
			})
		}
	}
	return findings
}

func (d *VolumetricDetector) count(ts []time.Time) int {
	if d.th.Mode == WindowSliding {
		return MaxInWindow(ts, d.th.TimeWindow)
	}
	return len(ts)
}

// MaxInWindow returns the largest number of timestamps falling inside any
// half-open interval [t, t+window). ts need not be sorted and is not modified.
func MaxInWindow(ts []time.Time, window time.Duration) int {
	if len(ts) == 0 {
		return 0
	}
	if window <= 0 {
		return len(ts)
	}
	sorted := make([]time.Time, len(ts))
	copy(sorted, ts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	best, lo := 0, 0
	for hi := range sorted {
		for sorted[hi].Sub(sorted[lo]) >= window {
			lo++
		}
		if n := hi - lo + 1; n > best {
			best = n
		}
	}
	return best
}
