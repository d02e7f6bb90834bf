package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"PcapSentry/internal/model"
	"PcapSentry/pkg/pcap"
)

// generator appends the frames of one scenario.
type generator func(g *gen)

var scenarios = map[string]generator{
	"benign": func(g *gen) {
		for i := 0; i < 50; i++ {
			g.http(g.randomSource(), "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
		}
		for i := 0; i < 20; i++ {
			g.udp(g.randomSource(), 53, []byte{0x12, 0x34, 0x01, 0x00})
		}
	},
	"sqli": func(g *gen) {
		g.http("10.0.0.5", "GET /login?user=admin' OR 1=1-- HTTP/1.1\r\nHost: shop\r\n\r\n")
		g.http("10.0.0.6", "GET /item?id=1 UNION ALL SELECT password FROM users HTTP/1.1\r\n\r\n")
	},
	"upload": func(g *gen) {
		g.http("10.0.0.7", "POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=----x\r\n\r\n"+
			"------x\r\nContent-Disposition: form-data; name=\"file\"; filename=\"shell.php\"\r\n\r\n"+
			"<?php eval($_POST['cmd']); ?>\r\n------x--\r\n")
	},
	"synflood": func(g *gen) {
		for i := 0; i < 1500; i++ {
			g.syn(g.randomSource())
		}
	},
	"udpflood": func(g *gen) {
		for i := 0; i < 6000; i++ {
			g.udp(g.randomSource(), 53, []byte("flood"))
		}
	},
	"highfreq": func(g *gen) {
		for i := 0; i < 150; i++ {
			g.http("10.0.0.9", "GET /api/items HTTP/1.1\r\n\r\n")
		}
	},
}

type gen struct {
	rng    *rand.Rand
	target string
	now    time.Time
	port   uint16
	frames []pcap.Frame
}

func (g *gen) next() time.Time {
	g.now = g.now.Add(time.Duration(g.rng.Intn(2000)) * time.Microsecond)
	return g.now
}

func (g *gen) srcPort() uint16 {
	g.port++
	if g.port < 1024 {
		g.port = 1024
	}
	return g.port
}

func (g *gen) randomSource() string {
	return fmt.Sprintf("172.16.%d.%d", g.rng.Intn(256), g.rng.Intn(254)+1)
}

func (g *gen) http(src, payload string) {
	g.frames = append(g.frames, pcap.Frame{
		Timestamp: g.next(), SrcIP: src, DstIP: g.target, Transport: model.TransportTCP,
		SrcPort: g.srcPort(), DstPort: 80, Payload: []byte(payload),
	})
}

func (g *gen) syn(src string) {
	g.frames = append(g.frames, pcap.Frame{
		Timestamp: g.next(), SrcIP: src, DstIP: g.target, Transport: model.TransportTCP,
		SrcPort: g.srcPort(), DstPort: 80, SYN: true,
	})
}

func (g *gen) udp(src string, dstPort uint16, payload []byte) {
	g.frames = append(g.frames, pcap.Frame{
		Timestamp: g.next(), SrcIP: src, DstIP: g.target, Transport: model.TransportUDP,
		SrcPort: g.srcPort(), DstPort: dstPort, Payload: payload,
	})
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	scenario := flag.String("s", "all", "Comma-separated scenarios, or 'all': "+strings.Join(names(), ", "))
	target := flag.String("target", "192.168.1.1", "Destination address of the generated traffic")
	ng := flag.Bool("ng", false, "Write pcapng instead of classic pcap")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	selected := names()
	if *scenario != "all" {
		selected = strings.Split(*scenario, ",")
	}

	g := &gen{
		rng:    rand.New(rand.NewSource(*seed)),
		target: *target,
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		port:   40000,
	}
	for _, name := range selected {
		fn, ok := scenarios[strings.TrimSpace(name)]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q, valid: %s\n", name, strings.Join(names(), ", "))
			os.Exit(1)
		}
		fn(g)
	}

	write := pcap.WriteFile
	if *ng {
		write = pcap.WriteNgFile
	}
	if err := write(*outputFile, g.frames); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write capture: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d packets (%s) to %s\n", len(g.frames), strings.Join(selected, ","), *outputFile)
}

func names() []string {
	out := make([]string, 0, len(scenarios))
	for n := range scenarios {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
