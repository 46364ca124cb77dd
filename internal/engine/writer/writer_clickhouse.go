package writer

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/factory"
	"StreamCoverage/internal/model"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, interval time.Duration) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, interval)
	})
}

const createTableStatement = `
CREATE TABLE IF NOT EXISTS stream_coverage (
    Timestamp    DateTime,
    SrcIP        String,
    DstIP        String,
    SrcPort      UInt16,
    DstPort      UInt16,
    Direction    LowCardinality(String),
    LoStart      UInt64,
    HiEnd        UInt64,
    Complete     Bool,
    Gaps         UInt32,
    Covered      UInt64,
    Observations UInt64,
    Duplicates   UInt64,
    LastUpdate   DateTime64(6)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (SrcIP, DstIP, SrcPort, DstPort, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval}, nil
}

// GetInterval returns the configured snapshot interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
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

// Write inserts one row per stream into the stream_coverage table.
func (w *ClickHouseWriter) Write(flows []model.FlowStatus, timestamp string) error {
	if len(flows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO stream_coverage")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	snapshotTime, err := model.ParseSnapshotName(timestamp)
	if err != nil {
		return fmt.Errorf("invalid snapshot timestamp %q: %w", timestamp, err)
	}

	for _, f := range flows {
		err = batch.Append(
			snapshotTime,
			f.Key.Flow.Src.String(),
			f.Key.Flow.Dst.String(),
			f.Key.SrcPort,
			f.Key.DstPort,
			f.Key.Direction.String(),
			f.LoStart,
			f.HiEnd,
			f.Complete,
			uint32(f.Gaps),
			f.Covered,
			f.Observations,
			f.Duplicates,
			f.LastUpdate.Time(),
		)
		if err != nil {
			return fmt.Errorf("failed to append stream to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Wrote %d streams to ClickHouse", len(flows))
	return nil
}
