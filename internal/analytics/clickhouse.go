package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/patrickwarner/openvast/internal/tracking"
)

var _ tracking.BeaconRecorder = (*BeaconLog)(nil)

// ErrUnavailable is returned when the beacon log DB is not configured.
var ErrUnavailable = errors.New("beacon log unavailable")

// BeaconLog persists beacon outcomes to ClickHouse.
type BeaconLog struct {
	DB *sql.DB
}

// PoolConfig sizes the ClickHouse connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// OutcomeSummary counts beacons per event and outcome.
type OutcomeSummary struct {
	Event        string  `json:"event"`
	Outcome      string  `json:"outcome"`
	Count        uint64  `json:"count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

const createBeaconsTable = `CREATE TABLE IF NOT EXISTS tracking_beacons (
       timestamp    DateTime64(3),
       session_id   String,
       event        LowCardinality(String),
       url          String,
       outcome      LowCardinality(String),
       status_code  Int32,
       latency_ms   Int64,
       error_code   Int32,
       device_type  LowCardinality(String),
       error        String
   ) ENGINE=MergeTree() ORDER BY (session_id, timestamp)
   TTL toDateTime(timestamp) + INTERVAL 30 DAY`

// InitClickHouse connects to ClickHouse through an instrumented driver and
// ensures the beacons table exists.
func InitClickHouse(dsn string, pool PoolConfig) (*BeaconLog, error) {
	driverName, err := otelsql.Register("clickhouse",
		otelsql.WithAttributes(
			attribute.String("db.system", "clickhouse"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	bl := NewBeaconLog(db)
	if err := bl.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	zap.L().Info("Connected to ClickHouse",
		zap.Int("max_open_conns", pool.MaxOpenConns),
		zap.Int("max_idle_conns", pool.MaxIdleConns))
	return bl, nil
}

// NewBeaconLog wraps an open database.
func NewBeaconLog(db *sql.DB) *BeaconLog {
	return &BeaconLog{DB: db}
}

// EnsureSchema creates the beacons table if needed.
func (b *BeaconLog) EnsureSchema(ctx context.Context) error {
	if b == nil || b.DB == nil {
		return ErrUnavailable
	}
	if _, err := b.DB.ExecContext(ctx, createBeaconsTable); err != nil {
		return fmt.Errorf("clickhouse create table: %w", err)
	}
	return nil
}

// RecordBeacon inserts one beacon row.
func (b *BeaconLog) RecordBeacon(ctx context.Context, rec tracking.BeaconRecord) error {
	if b == nil || b.DB == nil {
		return ErrUnavailable
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	stmt := `INSERT INTO tracking_beacons (timestamp, session_id, event, url, outcome, status_code, latency_ms, error_code, device_type, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := b.DB.ExecContext(ctx, stmt, ts, rec.SessionID, rec.Event, rec.URL, rec.Outcome,
		int32(rec.StatusCode), rec.Latency.Milliseconds(), int32(rec.ErrorCode), rec.DeviceType, rec.Error); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("event", rec.Event))
		return fmt.Errorf("insert %s beacon: %w", rec.Event, err)
	}
	return nil
}

// GetBeaconsBySession returns up to limit beacons of a session, oldest first.
func (b *BeaconLog) GetBeaconsBySession(ctx context.Context, sessionID string, limit int) ([]tracking.BeaconRecord, error) {
	if b == nil || b.DB == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT timestamp, session_id, event, url, outcome, status_code, latency_ms, error_code, device_type, error
		FROM tracking_beacons WHERE session_id = ? ORDER BY timestamp LIMIT ?`
	rows, err := b.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query beacons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []tracking.BeaconRecord
	for rows.Next() {
		var (
			rec       tracking.BeaconRecord
			status    int32
			latencyMs int64
			code      int32
		)
		if err := rows.Scan(&rec.Timestamp, &rec.SessionID, &rec.Event, &rec.URL, &rec.Outcome,
			&status, &latencyMs, &code, &rec.DeviceType, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan beacon: %w", err)
		}
		rec.StatusCode = int(status)
		rec.Latency = time.Duration(latencyMs) * time.Millisecond
		rec.ErrorCode = int(code)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SummarizeOutcomes aggregates beacons recorded since the given time.
func (b *BeaconLog) SummarizeOutcomes(ctx context.Context, since time.Time) ([]OutcomeSummary, error) {
	if b == nil || b.DB == nil {
		return nil, ErrUnavailable
	}

	query := `SELECT event, outcome, count() AS n, avg(latency_ms) AS avg_latency
		FROM tracking_beacons WHERE timestamp >= ?
		GROUP BY event, outcome ORDER BY event, outcome`
	rows, err := b.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("summarize beacons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []OutcomeSummary
	for rows.Next() {
		var s OutcomeSummary
		if err := rows.Scan(&s.Event, &s.Outcome, &s.Count, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping reports whether ClickHouse is reachable.
func (b *BeaconLog) Ping(ctx context.Context) error {
	if b == nil || b.DB == nil {
		return ErrUnavailable
	}
	return b.DB.PingContext(ctx)
}

// Close releases the database handle.
func (b *BeaconLog) Close() error {
	if b == nil || b.DB == nil {
		return nil
	}
	return b.DB.Close()
}
