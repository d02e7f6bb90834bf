package sink

import (
	"context"
	"fmt"
	"regexp"

	"PcapSentry/internal/config"
	"PcapSentry/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    ID        String,
    Timestamp DateTime64(3),
    Kind      LowCardinality(String),
    Category  LowCardinality(String),
    SourceIP  String,
    Context   String,
    Evidence  String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Kind, Timestamp);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialClickHouse is replaced in tests.
var dialClickHouse = connect

// ClickHouseSink inserts alerts into a ClickHouse table.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
	log   zerolog.Logger
}

// NewClickHouseSink connects and ensures the alert table exists.
func NewClickHouseSink(cfg config.ClickHouseConfig, logger zerolog.Logger) (*ClickHouseSink, error) {
	table := cfg.Table
	if table == "" {
		table = "security_alerts"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}

	conn, err := dialClickHouse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log := logger.With().Str("component", "clickhouse_sink").Logger()
	log.Info().Str("table", table).Msg("connected to ClickHouse and ensured table exists")

	return &ClickHouseSink{conn: conn, table: table, log: log}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// SaveAlert implements model.AlertSink.
func (s *ClickHouseSink) SaveAlert(ctx context.Context, alert *model.AlertRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	if err := batch.Append(
		alert.ID,
		alert.Timestamp,
		alert.KindName,
		alert.Category,
		alert.SourceIP,
		alert.Context,
		alert.Evidence,
	); err != nil {
		return fmt.Errorf("failed to append alert to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	s.log.Debug().Str("id", alert.ID).Msg("alert written to ClickHouse")
	return nil
}

// Close closes the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
