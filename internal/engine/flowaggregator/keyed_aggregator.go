package flowaggregator

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"PcapSentry/internal/model"
)

const (
	defaultShardCount = 256
	// uploadCarryBytes of a flow's payload are kept between packets so that an
	// upload indicator split across segments still matches.
	uploadCarryBytes = 512
)

// flowEntry is what a KeyedAggregator accumulates for one flow.
type flowEntry struct {
	payload    []byte
	timestamps []time.Time
	truncated  bool
	upload     bool
	carry      []byte
}

// Shard is a part of a sharded map, containing its own map and a mutex.
type Shard struct {
	flows map[model.FlowKey]*flowEntry
	mu    sync.Mutex
}

// KeyedAggregator accumulates per-flow payloads or timestamps in a sharded
// map. Appends to the same flow are kept in call order.
type KeyedAggregator struct {
	Name           string
	shards         []*Shard
	shardCount     uint32
	maxStreamBytes int
}

// NewKeyedAggregator creates a new sharded aggregator. maxStreamBytes caps
// the buffered payload per flow; 0 means unlimited.
func NewKeyedAggregator(name string, maxStreamBytes int) *KeyedAggregator {
	agg := &KeyedAggregator{
		Name:           name,
		shards:         make([]*Shard, defaultShardCount),
		shardCount:     defaultShardCount,
		maxStreamBytes: maxStreamBytes,
	}
	for i := 0; i < defaultShardCount; i++ {
		agg.shards[i] = &Shard{flows: make(map[model.FlowKey]*flowEntry)}
	}
	return agg
}

// FlowHash is the fnv-1a hash of a flow key. It selects both the shard and,
// in the manager, the worker that owns the flow.
func FlowHash(key model.FlowKey) uint32 {
	hasher := fnv.New32a()
	var ports [5]byte
	binary.BigEndian.PutUint16(ports[0:2], key.SrcPort)
	binary.BigEndian.PutUint16(ports[2:4], key.DstPort)
	ports[4] = byte(key.Transport)
	hasher.Write([]byte(key.SrcIP))
	hasher.Write([]byte(key.DstIP))
	hasher.Write(ports[:])
	return hasher.Sum32()
}

func (ka *KeyedAggregator) getShard(key model.FlowKey) *Shard {
	return ka.shards[FlowHash(key)%ka.shardCount]
}

func (s *Shard) entry(key model.FlowKey) *flowEntry {
	e, ok := s.flows[key]
	if !ok {
		e = &flowEntry{}
		s.flows[key] = e
	}
	return e
}

// AppendPayload appends payload to the flow's buffer. Empty payloads are ignored.
func (ka *KeyedAggregator) AppendPayload(key model.FlowKey, payload []byte) {
	if len(payload) == 0 {
		return
	}
	shard := ka.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e := shard.entry(key)
	if ka.maxStreamBytes > 0 {
		room := ka.maxStreamBytes - len(e.payload)
		if room <= 0 {
			e.truncated = true
			return
		}
		if len(payload) > room {
			payload = payload[:room]
			e.truncated = true
		}
	}
	e.payload = append(e.payload, payload...)
}

// AppendTimestamp records one packet observation for the flow.
func (ka *KeyedAggregator) AppendTimestamp(key model.FlowKey, ts time.Time) {
	shard := ka.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e := shard.entry(key)
	e.timestamps = append(e.timestamps, ts)
}

// ObserveUpload tests the flow's payload against match, carrying the tail of
// earlier packets forward. Once a flow matches it stays flagged.
func (ka *KeyedAggregator) ObserveUpload(key model.FlowKey, payload []byte, match func([]byte) bool) {
	if len(payload) == 0 || match == nil {
		return
	}
	shard := ka.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	e := shard.entry(key)
	if e.upload {
		return
	}
	window := append(e.carry, payload...)
	if match(window) {
		e.upload = true
		e.carry = nil
		return
	}
	if len(window) > uploadCarryBytes {
		window = window[len(window)-uploadCarryBytes:]
	}
	e.carry = append([]byte(nil), window...)
}

// IsUpload reports whether ObserveUpload flagged the flow.
func (ka *KeyedAggregator) IsUpload(key model.FlowKey) bool {
	shard := ka.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.flows[key]
	return ok && e.upload
}

// GetFlowCount returns the total number of flows in the aggregator.
func (ka *KeyedAggregator) GetFlowCount() int {
	count := 0
	for _, shard := range ka.shards {
		shard.mu.Lock()
		count += len(shard.flows)
		shard.mu.Unlock()
	}
	return count
}

// TruncatedFlows returns the number of flows whose payload hit the byte cap.
func (ka *KeyedAggregator) TruncatedFlows() int {
	count := 0
	for _, shard := range ka.shards {
		shard.mu.Lock()
		for _, e := range shard.flows {
			if e.truncated {
				count++
			}
		}
		shard.mu.Unlock()
	}
	return count
}

// Streams merges the shards into a StreamBuffer. Flows with no payload are omitted.
func (ka *KeyedAggregator) Streams() model.StreamBuffer {
	out := make(model.StreamBuffer)
	for _, shard := range ka.shards {
		shard.mu.Lock()
		for k, e := range shard.flows {
			if len(e.payload) > 0 {
				out[k] = e.payload
			}
		}
		shard.mu.Unlock()
	}
	return out
}

// Samples merges the shards into a TrafficSample. Flows with no timestamps are omitted.
func (ka *KeyedAggregator) Samples() model.TrafficSample {
	out := make(model.TrafficSample)
	for _, shard := range ka.shards {
		shard.mu.Lock()
		for k, e := range shard.flows {
			if len(e.timestamps) > 0 {
				out[k] = e.timestamps
			}
		}
		shard.mu.Unlock()
	}
	return out
}

// Reset drops every flow.
func (ka *KeyedAggregator) Reset() {
	for _, shard := range ka.shards {
		shard.mu.Lock()
		shard.flows = make(map[model.FlowKey]*flowEntry)
		shard.mu.Unlock()
	}
}
