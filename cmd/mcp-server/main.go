package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/openvast/internal/config"
	"github.com/patrickwarner/openvast/internal/db"
	"github.com/patrickwarner/openvast/internal/observability"
	"github.com/patrickwarner/openvast/internal/vast"
)

// ParseVASTInput names the document to resolve: a tag URL or inline XML.
type ParseVASTInput struct {
	URL string `json:"url,omitempty"`
	XML string `json:"xml,omitempty"`
}

// MediaSummary describes one media file.
type MediaSummary struct {
	URL     string `json:"url"`
	Type    string `json:"type"`
	Bitrate int    `json:"bitrate"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// ParseVASTOutput summarizes a resolved ad, or why it failed.
type ParseVASTOutput struct {
	OK              bool           `json:"ok"`
	AdID            string         `json:"ad_id,omitempty"`
	AdSystem        string         `json:"ad_system,omitempty"`
	AdTitle         string         `json:"ad_title,omitempty"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	WrapperDepth    int            `json:"wrapper_depth"`
	Impressions     int            `json:"impressions"`
	ErrorURLs       int            `json:"error_urls"`
	TrackingEvents  map[string]int `json:"tracking_events,omitempty"`
	ClickThroughURL string         `json:"click_through_url,omitempty"`
	MediaFiles      []MediaSummary `json:"media_files,omitempty"`
	SelectedMedia   *MediaSummary  `json:"selected_media,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	VASTErrorCode   int            `json:"vast_error_code,omitempty"`
}

// VASTServer holds the MCP tool dependencies.
type VASTServer struct {
	parser   *vast.Parser
	playable []string
	logger   *zap.Logger
}

func summarizeMedia(mf vast.MediaFile) MediaSummary {
	return MediaSummary{URL: mf.URL, Type: mf.Type, Bitrate: mf.Bitrate, Width: mf.Width, Height: mf.Height}
}

func summarize(m *vast.Model, playable []string) ParseVASTOutput {
	out := ParseVASTOutput{
		OK:              true,
		AdID:            m.AdID,
		AdSystem:        m.AdSystem,
		AdTitle:         m.AdTitle,
		DurationSeconds: m.Duration.Seconds(),
		WrapperDepth:    m.WrapperDepth,
		Impressions:     len(m.ImpressionURLs),
		ErrorURLs:       len(m.ErrorURLs),
		TrackingEvents:  make(map[string]int, len(m.TrackingEvents)),
		ClickThroughURL: m.ClickThroughURL,
	}
	for e, urls := range m.TrackingEvents {
		out.TrackingEvents[string(e)] = len(urls)
	}
	for _, mf := range m.MediaFiles {
		out.MediaFiles = append(out.MediaFiles, summarizeMedia(mf))
	}
	if mf, ok := m.SelectMediaFile(playable); ok {
		sel := summarizeMedia(mf)
		out.SelectedMedia = &sel
	}
	return out
}

// ParseVAST resolves a VAST document, following wrappers, and summarizes the
// ad. Parse failures are reported in the output rather than as tool errors.
func (s *VASTServer) ParseVAST(ctx context.Context, req *mcp.CallToolRequest, input ParseVASTInput) (*mcp.CallToolResult, ParseVASTOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var (
		model *vast.Model
		err   error
	)
	switch {
	case input.XML != "":
		model, err = s.parser.ParseBytes(ctx, []byte(input.XML))
	case input.URL != "":
		model, err = s.parser.Parse(ctx, input.URL)
	default:
		return nil, ParseVASTOutput{}, errors.New("url or xml is required")
	}
	if err != nil {
		s.logger.Info("parse_vast failed", zap.String("url", input.URL), zap.Error(err))
		return nil, ParseVASTOutput{
			Error:         err.Error(),
			ErrorKind:     vast.KindName(err),
			VASTErrorCode: vast.ErrorCode(err),
		}, nil
	}
	s.logger.Info("parse_vast resolved",
		zap.String("ad_id", model.AdID),
		zap.Int("wrapper_depth", model.WrapperDepth))
	return nil, summarize(model, s.playable), nil
}

func newMCPServer(vs *VASTServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "openvast",
		Version: observability.ServiceVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "parse_vast",
		Description: "Resolve a VAST 2.0 ad tag, following wrappers, and summarize the linear ad",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Ad tag URL to fetch",
				},
				"xml": map[string]interface{}{
					"type":        "string",
					"description": "Inline VAST document (takes precedence over url)",
				},
			},
		},
	}, vs.ParseVAST)
	return server
}

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService("openvast-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var reader vast.DocumentReader = vast.NewHTTPReader(cfg.FetchTimeout, cfg.MaxDocumentBytes, cfg.TrackingUserAgent, logger, nil)
	if cfg.DocumentCacheEnabled {
		store, err := db.InitRedis(cfg.RedisAddr, cfg.DocumentCacheTTL)
		if err != nil {
			logger.Warn("Redis unavailable, fetching without cache", zap.Error(err))
		} else {
			defer store.Close()
			reader = vast.NewCachingReader(reader, store, cfg.FetchTimeout, logger)
		}
	}

	server := newMCPServer(&VASTServer{
		parser:   vast.NewParser(reader, cfg.MaxWrapperDepth, logger, nil),
		playable: cfg.PlayableMIMETypes,
		logger:   logger,
	})

	// Run the MCP server with logging transport for debugging
	stdioTransport := &mcp.StdioTransport{}
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio with logging enabled")

	if err := server.Run(context.Background(), loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
