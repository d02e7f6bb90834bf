package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"PcapSentry/internal/engine/protocol"
	"PcapSentry/pkg/pcap"

	"github.com/rs/zerolog"
)

// Prints the first packets of a capture with the protocol labels they match.
func main() {
	limit := flag.Int("n", 20, "Number of packets to print")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Println("Usage: go run ./scripts/pcapana [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	reader, err := pcap.NewReader(flag.Arg(0), zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer reader.Close()

	table := protocol.DefaultFilterTable()
	fmt.Printf("format=%s linktype=%s\n", reader.Format(), reader.LinkType())

	for i := 0; i < *limit; i++ {
		rec, err := reader.Next()
		if errors.Is(err, pcap.ErrEndOfCapture) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		if !rec.HasNetwork() {
			fmt.Printf("[%s] non-IPv4 len=%d\n", rec.Timestamp.Format("15:04:05.000"), rec.Length)
			continue
		}
		var labels []string
		for _, l := range table.Labels() {
			if table.Matches(rec, []string{l}) {
				labels = append(labels, l)
			}
		}
		fmt.Printf("[%s] %s:%d -> %s:%d %s len=%d payload=%d labels=%s\n",
			rec.Timestamp.Format("15:04:05.000"),
			rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort,
			rec.Transport, rec.Length, len(rec.Payload), strings.Join(labels, ","),
		)
	}
	s := reader.Stats()
	fmt.Printf("frames=%d decoded=%d skipped=%d truncated=%v\n", s.Frames, s.Decoded, s.Skipped, s.Truncated)
}
