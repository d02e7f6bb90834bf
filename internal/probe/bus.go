package probe

import (
	"fmt"
	"time"

	"PcapSentry/internal/config"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus is a NATS connection, optionally backed by an embedded server.
type Bus struct {
	nc  *nats.Conn
	ns  *server.Server
	log zerolog.Logger
}

// Connect dials cfg.URL, or starts an embedded server on cfg.Port when
// cfg.Embedded is set and connects to it.
func Connect(cfg config.NATSConfig, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{log: logger.With().Str("component", "bus").Logger()}

	url := cfg.URL
	if cfg.Embedded {
		ns, err := server.NewServer(&server.Options{
			Host:   "127.0.0.1",
			Port:   cfg.Port,
			NoLog:  true,
			NoSigs: true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}
		b.ns = ns
		url = ns.ClientURL()
		b.log.Info().Str("url", url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		if b.ns != nil {
			b.ns.Shutdown()
		}
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	b.nc = nc
	b.log.Info().Str("url", url).Msg("connected to NATS")
	return b, nil
}

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn {
	return b.nc
}

// Close drains the connection and stops the embedded server.
func (b *Bus) Close() {
	if b.nc != nil {
		// Drain is asynchronous and would race the embedded server shutdown.
		if b.ns != nil {
			b.nc.Close()
		} else if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
	}
	b.log.Info().Msg("NATS connection closed")
}
