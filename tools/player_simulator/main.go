package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/db"
	"github.com/patrickwarner/openvast/internal/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	server      string
	tagURL      string
	xmlFile     string
	totalPlays  int
	conc        int
	duration    time.Duration
	rate        float64
	clickRate   float64
	abandonRate float64
	errorRate   float64
	ticks       int
	stats       bool
	flush       bool
	redisAddr   string
	debug       bool
	label       string
)

var logger *zap.Logger

var httpClient *http.Client

var userAgents = []string{
	// Mobile
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

	// Desktop
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
}

const statsInterval = 5 * time.Second

var (
	countPlays     uint64
	countCompleted uint64
	countAbandoned uint64
	countFailed    uint64
	countNoAd      uint64
	countErrors    uint64
	countClicks    uint64
)

type sessionCreated struct {
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

type signalBody struct {
	Signal     string `json:"signal"`
	PositionMs int64  `json:"position_ms,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ErrorCode  int    `json:"error_code,omitempty"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "vastd base URL")
	flag.StringVar(&tagURL, "tag", "", "VAST ad tag URL each session resolves")
	flag.StringVar(&xmlFile, "xml", "", "file holding an inline VAST document (instead of -tag)")
	flag.IntVar(&totalPlays, "plays", 100, "total ad plays to simulate")
	flag.IntVar(&conc, "concurrency", 10, "concurrent players")
	flag.DurationVar(&duration, "duration", 0, "how long to run (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "plays started per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per play")
	flag.Float64Var(&abandonRate, "abandon-rate", 0.1, "probability a viewer leaves mid-play")
	flag.Float64Var(&errorRate, "error-rate", 0.02, "probability the player reports a media error")
	flag.IntVar(&ticks, "ticks", 8, "progress reports per play")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush cached VAST documents from redis first")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "player-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	source, err := sessionSource()
	if err != nil {
		logger.Fatal("invalid source", zap.Error(err))
	}

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   conc,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushDocuments()
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	roll := func() float64 {
		rmu.Lock()
		defer rmu.Unlock()
		return r.Float64()
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var interval time.Duration
	if rate > 0 {
		interval = time.Duration(float64(time.Second) / rate)
	}

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}

	start := time.Now()
	for i := 0; ; i++ {
		if totalPlays > 0 && i >= totalPlays {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if interval > 0 {
			time.Sleep(interval)
		}
		wg.Add(1)
		sem <- struct{}{}
		ua := userAgents[i%len(userAgents)]
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countPlays, 1)
			play(source, ua, roll)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

// sessionSource builds the POST /v1/sessions body.
func sessionSource() ([]byte, error) {
	switch {
	case xmlFile != "":
		data, err := os.ReadFile(xmlFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", xmlFile, err)
		}
		return json.Marshal(map[string]string{"xml": string(data)})
	case tagURL != "":
		return json.Marshal(map[string]string{"url": tagURL})
	default:
		return nil, fmt.Errorf("-tag or -xml is required")
	}
}

func flushDocuments() {
	cfg := config.Load()
	addr := redisAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr, cfg.DocumentCacheTTL)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	keys, err := store.Client.Keys(store.Ctx, "vast:doc:*").Result()
	if err != nil {
		logger.Error("failed to list cached documents", zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := store.Client.Del(store.Ctx, keys...).Err(); err != nil {
			logger.Error("failed to delete cached documents", zap.Error(err))
			return
		}
	}
	logger.Info("redis document cache flushed",
		zap.String("addr", addr),
		zap.Int("keys_deleted", len(keys)))
}

// play walks one session through a viewer's lifetime.
func play(source []byte, ua string, roll func() float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var created sessionCreated
	status, err := call(ctx, "POST", "/v1/sessions", ua, source, &created)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("create session", zap.Error(err))
		return
	}
	if status == http.StatusUnprocessableEntity {
		atomic.AddUint64(&countNoAd, 1)
		return
	}
	if status != http.StatusCreated {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", status))
		return
	}
	id := created.SessionID
	signal := func(body signalBody) bool {
		st, err := call(ctx, "POST", "/v1/sessions/"+id+"/signals", ua, mustMarshal(body), nil)
		if err != nil || st != http.StatusOK {
			atomic.AddUint64(&countErrors, 1)
			logger.Debug("signal rejected", zap.String("session_id", id), zap.String("signal", body.Signal), zap.Int("status", st), zap.Error(err))
			return false
		}
		return true
	}

	if roll() < errorRate {
		signal(signalBody{Signal: "error", ErrorCode: 405})
		atomic.AddUint64(&countFailed, 1)
		return
	}
	if !signal(signalBody{Signal: "rendered"}) {
		return
	}

	total := created.DurationMs
	if total <= 0 {
		total = 15000
	}
	leaveAt := -1
	if roll() < abandonRate {
		leaveAt = 1 + int(roll()*float64(ticks))
	}
	for t := 1; t <= ticks; t++ {
		if t == leaveAt {
			if _, err := call(ctx, "DELETE", "/v1/sessions/"+id, ua, nil, nil); err != nil {
				atomic.AddUint64(&countErrors, 1)
			}
			atomic.AddUint64(&countAbandoned, 1)
			return
		}
		signal(signalBody{Signal: "progress", PositionMs: total * int64(t) / int64(ticks), DurationMs: total})
	}
	if roll() < clickRate && signal(signalBody{Signal: "click"}) {
		atomic.AddUint64(&countClicks, 1)
	}
	signal(signalBody{Signal: "complete"})
	signal(signalBody{Signal: "close"})
	atomic.AddUint64(&countCompleted, 1)
	logger.Debug("play finished", zap.String("session_id", id), zap.String("ua", ua))
}

func call(ctx context.Context, method, path, ua string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func printStats() {
	plays := atomic.LoadUint64(&countPlays)
	completed := atomic.LoadUint64(&countCompleted)
	clicks := atomic.LoadUint64(&countClicks)
	var ctr float64
	if completed > 0 {
		ctr = float64(clicks) / float64(completed)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("plays", plays),
		zap.Uint64("completed", completed),
		zap.Uint64("abandoned", atomic.LoadUint64(&countAbandoned)),
		zap.Uint64("failed", atomic.LoadUint64(&countFailed)),
		zap.Uint64("no_ad", atomic.LoadUint64(&countNoAd)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Uint64("clicks", clicks),
		zap.Float64("ctr", ctr))
}
