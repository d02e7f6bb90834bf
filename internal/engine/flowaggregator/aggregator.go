package flowaggregator

import (
	"net"

	"PcapSentry/internal/engine/protocol"
	"PcapSentry/internal/model"
)

// KeyOf derives the flow key of a record. It reports false for records
// without a network or transport header.
func KeyOf(rec *model.PacketRecord) (model.FlowKey, bool) {
	if !rec.HasNetwork() || rec.Transport == model.TransportNone {
		return model.FlowKey{}, false
	}
	return model.FlowKey{
		SrcIP:     rec.SrcIP.String(),
		SrcPort:   rec.SrcPort,
		DstIP:     rec.DstIP.String(),
		DstPort:   rec.DstPort,
		Transport: rec.Transport,
	}, true
}

// Options configures an Aggregator.
type Options struct {
	// TargetIP, when set, drops every record whose destination differs.
	TargetIP       net.IP
	PayloadFilter  protocol.Filter
	MaxStreamBytes int
	// UploadMatch, when set, is tested against the payload of every sampled
	// flow regardless of PayloadFilter.
	UploadMatch func([]byte) bool
}

// Aggregator builds, in a single pass, the stream buffer for the payload
// filter and one traffic sample per transport.
type Aggregator struct {
	opts    Options
	streams *KeyedAggregator
	samples map[model.Transport]*KeyedAggregator
}

// NewAggregator creates an empty aggregator. One Aggregator serves one analysis.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{
		opts:    opts,
		streams: NewKeyedAggregator("streams", opts.MaxStreamBytes),
		samples: map[model.Transport]*KeyedAggregator{
			model.TransportTCP: NewKeyedAggregator("tcp", 0),
			model.TransportUDP: NewKeyedAggregator("udp", 0),
		},
	}
}

// Accepts reports whether rec passes the target-IP gate and has a flow key.
func (a *Aggregator) Accepts(rec *model.PacketRecord) (model.FlowKey, bool) {
	key, ok := KeyOf(rec)
	if !ok {
		return key, false
	}
	if a.opts.TargetIP != nil && !rec.DstIP.Equal(a.opts.TargetIP) {
		return key, false
	}
	return key, true
}

// Ingest folds one record into the aggregates. It is safe for concurrent use,
// but records of the same flow must be ingested from a single goroutine to
// keep their arrival order.
func (a *Aggregator) Ingest(rec *model.PacketRecord) bool {
	key, ok := a.Accepts(rec)
	if !ok {
		return false
	}
	if len(rec.Payload) > 0 && a.opts.PayloadFilter.Match(rec) {
		a.streams.AppendPayload(key, rec.Payload)
	}
	if s, ok := a.samples[rec.Transport]; ok {
		s.AppendTimestamp(key, rec.Timestamp)
		s.ObserveUpload(key, rec.Payload, a.opts.UploadMatch)
	}
	return true
}

// Streams returns the payload stream buffer.
func (a *Aggregator) Streams() model.StreamBuffer {
	return a.streams.Streams()
}

// Samples returns the traffic sample for one transport.
func (a *Aggregator) Samples(t model.Transport) model.TrafficSample {
	s, ok := a.samples[t]
	if !ok {
		return model.TrafficSample{}
	}
	return s.Samples()
}

// IsUpload reports whether the flow's payload matched UploadMatch.
func (a *Aggregator) IsUpload(key model.FlowKey) bool {
	s, ok := a.samples[key.Transport]
	return ok && s.IsUpload(key)
}

// TruncatedStreams returns how many flows hit MaxStreamBytes.
func (a *Aggregator) TruncatedStreams() int {
	return a.streams.TruncatedFlows()
}

// Reset clears all aggregates.
func (a *Aggregator) Reset() {
	a.streams.Reset()
	for _, s := range a.samples {
		s.Reset()
	}
}

// BuildStreamBuffer drains records into a stream buffer for filter.
func BuildStreamBuffer(records []*model.PacketRecord, filter protocol.Filter) model.StreamBuffer {
	agg := NewAggregator(Options{PayloadFilter: filter})
	for _, rec := range records {
		agg.Ingest(rec)
	}
	return agg.Streams()
}

// BuildTrafficSample collects the timestamps of records of one transport.
func BuildTrafficSample(records []*model.PacketRecord, transport model.Transport) model.TrafficSample {
	agg := NewAggregator(Options{})
	for _, rec := range records {
		agg.Ingest(rec)
	}
	return agg.Samples(transport)
}
