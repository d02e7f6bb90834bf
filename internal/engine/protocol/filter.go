package protocol

import (
	"sort"
	"strings"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"
)

// FilterSpec is the membership rule behind one protocol label. An empty
// port set matches any port of the transport.
type FilterSpec struct {
	Transport model.Transport
	Ports     []uint16
}

func (s FilterSpec) match(rec *model.PacketRecord) bool {
	if rec.Transport != s.Transport {
		return false
	}
	if len(s.Ports) == 0 {
		return true
	}
	for _, p := range s.Ports {
		if rec.SrcPort == p || rec.DstPort == p {
			return true
		}
	}
	return false
}

// FilterTable maps protocol labels to their filter specs. A table is not
// modified after construction and may be shared between goroutines.
type FilterTable struct {
	specs map[string]FilterSpec
}

// DefaultFilterTable returns the built-in labels HTTP, HTTPS, DNS, TCP and UDP.
func DefaultFilterTable() *FilterTable {
	return &FilterTable{specs: map[string]FilterSpec{
		"HTTP":  {Transport: model.TransportTCP, Ports: []uint16{80, 8080}},
		"HTTPS": {Transport: model.TransportTCP, Ports: []uint16{443}},
		"DNS":   {Transport: model.TransportUDP, Ports: []uint16{53}},
		"TCP":   {Transport: model.TransportTCP},
		"UDP":   {Transport: model.TransportUDP},
	}}
}

// NewFilterTable returns the default table extended (or overridden) by defs.
func NewFilterTable(defs map[string]config.ProtocolDef) (*FilterTable, error) {
	table := DefaultFilterTable()
	for name, def := range defs {
		transport, err := model.ParseTransport(def.Transport)
		if err != nil {
			return nil, err
		}
		ports := append([]uint16(nil), def.Ports...)
		table.specs[strings.ToUpper(name)] = FilterSpec{Transport: transport, Ports: ports}
	}
	return table, nil
}

// Labels returns the known labels in sorted order.
func (t *FilterTable) Labels() []string {
	labels := make([]string, 0, len(t.specs))
	for l := range t.specs {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Lookup returns the spec for a single label.
func (t *FilterTable) Lookup(label string) (FilterSpec, bool) {
	s, ok := t.specs[strings.ToUpper(label)]
	return s, ok
}

// Filter is a resolved set of labels.
type Filter struct {
	specs []FilterSpec
}

// Resolve turns labels into a Filter. Unknown labels contribute no match and
// are returned so that the caller can report them.
func (t *FilterTable) Resolve(labels []string) (Filter, []string) {
	var (
		f       Filter
		unknown []string
	)
	for _, l := range labels {
		spec, ok := t.Lookup(l)
		if !ok {
			unknown = append(unknown, l)
			continue
		}
		f.specs = append(f.specs, spec)
	}
	return f, unknown
}

// Match reports whether rec belongs to any label of the filter. Records
// without an IPv4 header never match.
func (f Filter) Match(rec *model.PacketRecord) bool {
	if !rec.HasNetwork() || rec.Transport == model.TransportNone {
		return false
	}
	for _, s := range f.specs {
		if s.match(rec) {
			return true
		}
	}
	return false
}

// Empty reports whether the filter can never match.
func (f Filter) Empty() bool {
	return len(f.specs) == 0
}

// Matches resolves labels and tests rec in one step.
func (t *FilterTable) Matches(rec *model.PacketRecord, labels []string) bool {
	f, _ := t.Resolve(labels)
	return f.Match(rec)
}
