package query

import (
	"StreamCoverage/internal/config"
	"StreamCoverage/internal/model"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// HistoryPoint is one persisted snapshot of a stream.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	LoStart   uint64    `json:"lo_start"`
	HiEnd     uint64    `json:"hi_end"`
	Complete  bool      `json:"complete"`
	Gaps      uint32    `json:"gaps"`
	Covered   uint64    `json:"covered"`
}

// Totals summarizes the latest snapshot of every stream.
type Totals struct {
	Streams  uint64 `json:"streams"`
	Complete uint64 `json:"complete"`
	Gaps     uint64 `json:"gaps"`
	Covered  uint64 `json:"covered"`
}

// Querier reads coverage snapshots written by the ClickHouse writer.
type Querier interface {
	StreamHistory(ctx context.Context, key model.StreamKey, until time.Time) ([]HistoryPoint, error)
	Totals(ctx context.Context, until time.Time) (Totals, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// FromConfig returns a querier for the first enabled ClickHouse writer, or
// nil when none is configured.
func FromConfig(cfg *config.Config) (Querier, error) {
	for _, def := range cfg.Writers {
		if def.Enabled && def.Type == "clickhouse" {
			return NewClickHouseQuerier(def.ClickHouse)
		}
	}
	return nil, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

// buildHistoryQuery selects every snapshot of key, oldest first. A zero
// until means no upper bound.
func buildHistoryQuery(key model.StreamKey, until time.Time) (string, []interface{}) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT Timestamp, LoStart, HiEnd, Complete, Gaps, Covered
		FROM stream_coverage
	`)

	whereClauses := []string{"SrcIP = ?", "DstIP = ?", "SrcPort = ?", "DstPort = ?", "Direction = ?"}
	args := []interface{}{
		key.Flow.Src.String(),
		key.Flow.Dst.String(),
		key.SrcPort,
		key.DstPort,
		key.Direction.String(),
	}
	if !until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, until)
	}

	queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	queryBuilder.WriteString(" ORDER BY Timestamp")
	return queryBuilder.String(), args
}

// buildTotalsQuery sums the latest snapshot of each stream.
func buildTotalsQuery(until time.Time) (string, []interface{}) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			COUNT(*) AS Streams,
			countIf(LatestComplete) AS Complete,
			SUM(LatestGaps) AS Gaps,
			SUM(LatestCovered) AS Covered
		FROM (
			SELECT
				argMax(Complete, Timestamp) AS LatestComplete,
				argMax(Gaps, Timestamp) AS LatestGaps,
				argMax(Covered, Timestamp) AS LatestCovered
			FROM stream_coverage
	`)

	var args []interface{}
	if !until.IsZero() {
		queryBuilder.WriteString(" WHERE Timestamp <= ?")
		args = append(args, until)
	}

	queryBuilder.WriteString(`
			GROUP BY SrcIP, DstIP, SrcPort, DstPort, Direction
		)
	`)
	return queryBuilder.String(), args
}

// StreamHistory returns the persisted snapshots of one stream.
func (q *clickhouseQuerier) StreamHistory(ctx context.Context, key model.StreamKey, until time.Time) ([]HistoryPoint, error) {
	sql, args := buildHistoryQuery(key, until)
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.LoStart, &p.HiEnd, &p.Complete, &p.Gaps, &p.Covered); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Totals returns coverage totals over the latest snapshot of every stream.
func (q *clickhouseQuerier) Totals(ctx context.Context, until time.Time) (Totals, error) {
	sql, args := buildTotalsQuery(until)
	var t Totals
	row := q.conn.QueryRow(ctx, sql, args...)
	if err := row.Scan(&t.Streams, &t.Complete, &t.Gaps, &t.Covered); err != nil {
		return Totals{}, fmt.Errorf("failed to scan totals: %w", err)
	}
	return t, nil
}
