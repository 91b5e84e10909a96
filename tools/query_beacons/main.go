package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/openvast/internal/analytics"
	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/observability"
	"go.uber.org/zap"
)

func main() {
	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var (
		session string
		dsn     string
		since   time.Duration
		limit   int
	)
	flag.StringVar(&session, "session", "", "session ID; prints that session's beacons")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.DurationVar(&since, "since", time.Hour, "summary window when no session is given")
	flag.IntVar(&limit, "limit", 100, "maximum beacons to print")
	flag.Parse()

	cfg := config.Load()
	if dsn == "" {
		dsn = cfg.ClickHouseDSN
	}

	bl, err := analytics.InitClickHouse(dsn, analytics.PoolConfig{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.CHConnMaxLifetime,
		ConnMaxIdleTime: cfg.CHConnMaxIdleTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = bl.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out any
	if session != "" {
		out, err = bl.GetBeaconsBySession(ctx, session, limit)
	} else {
		logger.Info("summarizing beacon outcomes", zap.Duration("since", since))
		out, err = bl.SummarizeOutcomes(ctx, time.Now().Add(-since))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "query beacons: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode beacons: %v\n", err)
		os.Exit(1)
	}
}
