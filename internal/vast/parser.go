package vast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickwarner/openvast/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxWrapperDepth is the number of wrapper documents a chain may
// contain before the parse fails.
const DefaultMaxWrapperDepth = 5

// Parser turns VAST documents into resolved Models, following wrapper
// redirections through a DocumentReader. A Parser is safe for concurrent use.
type Parser struct {
	reader   DocumentReader
	maxDepth int
	logger   *zap.Logger
	metrics  observability.MetricsRegistry
	tracer   trace.Tracer
}

// NewParser creates a Parser. maxDepth <= 0 selects DefaultMaxWrapperDepth.
func NewParser(reader DocumentReader, maxDepth int, logger *zap.Logger, metrics observability.MetricsRegistry) *Parser {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxWrapperDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Parser{
		reader:   reader,
		maxDepth: maxDepth,
		logger:   logger.Named("parser"),
		metrics:  metrics,
		tracer:   observability.Tracer("vast"),
	}
}

// MaxDepth returns the configured wrapper limit.
func (p *Parser) MaxDepth() int {
	return p.maxDepth
}

// Parse fetches the document at rawURL and resolves it. Canceling ctx aborts
// any outstanding wrapper fetch.
func (p *Parser) Parse(ctx context.Context, rawURL string) (*Model, error) {
	return p.run(ctx, rawURL, nil)
}

// ParseBytes resolves a document supplied by the caller. Wrapper targets are
// still fetched through the reader.
func (p *Parser) ParseBytes(ctx context.Context, data []byte) (*Model, error) {
	if data == nil {
		data = []byte{}
	}
	return p.run(ctx, "", data)
}

func (p *Parser) run(ctx context.Context, rawURL string, data []byte) (*Model, error) {
	start := time.Now()
	m, err := p.resolve(ctx, 0, rawURL, data, &chain{tracking: make(map[Event][]string)})
	p.metrics.RecordParseLatency(time.Since(start))

	if err != nil {
		p.metrics.IncrementParses(KindName(err))
		p.logger.Warn("VAST parse failed",
			zap.String("url", rawURL),
			zap.String("kind", KindName(err)),
			zap.Int("vast_error_code", ErrorCode(err)),
			zap.Error(err))
		return nil, err
	}

	p.metrics.IncrementParses("success")
	if observability.ShouldSample(observability.GetSamplingRate()) {
		p.logger.Info("VAST parsed",
			zap.String("url", rawURL),
			zap.String("ad_system", m.AdSystem),
			zap.Int("wrapper_depth", m.WrapperDepth),
			zap.Int("media_files", len(m.MediaFiles)),
			zap.Duration("elapsed", time.Since(start)))
	}
	return m, nil
}

// chain accumulates the URLs contributed by wrapper documents, outermost first.
type chain struct {
	impressions   []string
	errorURLs     []string
	clickTracking []string
	tracking      map[Event][]string
}

func (c *chain) absorb(w *wrapperElement) {
	c.impressions = appendURLs(c.impressions, w.Impressions)
	c.errorURLs = appendURLs(c.errorURLs, w.Errors)
	for _, cr := range w.Creatives {
		if cr.Linear == nil {
			continue
		}
		addTracking(c.tracking, cr.Linear.TrackingEvents)
		if cr.Linear.VideoClicks != nil {
			c.clickTracking = appendURLs(c.clickTracking, cr.Linear.VideoClicks.ClickTracking)
		}
	}
}

func (c *chain) fail(kind error, depth int, rawURL string, err error) *ParseError {
	return &ParseError{
		Kind:      kind,
		Depth:     depth,
		URL:       rawURL,
		ErrorURLs: cloneStrings(c.errorURLs),
		Err:       err,
	}
}

// resolve handles the document at depth, recursing into wrapper targets.
// data is nil when the document must be fetched from rawURL.
func (p *Parser) resolve(ctx context.Context, depth int, rawURL string, data []byte, acc *chain) (*Model, error) {
	ctx, span := p.tracer.Start(ctx, "vast.parse_hop", trace.WithAttributes(
		attribute.Int("vast.depth", depth),
		attribute.String("vast.url", rawURL),
	))
	defer span.End()

	m, err := p.hop(ctx, depth, rawURL, data, acc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindName(err))
	}
	return m, err
}

func (p *Parser) hop(ctx context.Context, depth int, rawURL string, data []byte, acc *chain) (*Model, error) {
	if data == nil {
		fetched, err := p.fetch(ctx, depth, rawURL, acc)
		if err != nil {
			return nil, err
		}
		data = fetched
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, acc.fail(ErrMalformedDocument, depth, rawURL, err)
	}

	ad := doc.firstAd()
	if ad == nil {
		pe := acc.fail(ErrMissingRequiredField, depth, rawURL, nil)
		pe.Field = "Ad"
		return nil, pe
	}

	if ad.InLine != nil {
		m, err := buildModel(ad, acc)
		if err != nil {
			pe := acc.fail(ErrMissingRequiredField, depth, rawURL, err)
			pe.Field = "MediaFiles"
			return nil, pe
		}
		m.WrapperDepth = depth
		return m, nil
	}

	// The wrapper's own error URLs count as parsed from here on, so
	// failures further down the chain report to it as well.
	w := ad.Wrapper
	acc.absorb(w)

	target := cleanURL(w.VASTAdTagURI.String())
	if target == "" {
		pe := acc.fail(ErrMissingRequiredField, depth, rawURL, nil)
		pe.Field = "VASTAdTagURI"
		return nil, pe
	}

	// This document is wrapper number depth+1.
	if depth+1 > p.maxDepth {
		return nil, acc.fail(ErrWrapperDepthExceeded, depth, rawURL,
			fmt.Errorf("limit of %d wrappers reached before %s", p.maxDepth, target))
	}

	p.metrics.IncrementWrapperHops()
	p.logger.Debug("following wrapper",
		zap.Int("depth", depth),
		zap.String("from", rawURL),
		zap.String("to", target))

	return p.resolve(ctx, depth+1, target, nil, acc)
}

func (p *Parser) fetch(ctx context.Context, depth int, rawURL string, acc *chain) ([]byte, error) {
	if cleanURL(rawURL) == "" {
		return nil, acc.fail(ErrNetwork, depth, rawURL, errors.New("invalid document URL"))
	}
	if err := ctx.Err(); err != nil {
		return nil, acc.fail(ErrNetwork, depth, rawURL, err)
	}

	data, err := p.reader.ReadDocument(ctx, rawURL)
	if err != nil {
		pe := acc.fail(ErrNetwork, depth, rawURL, err)
		var se *StatusError
		if errors.As(err, &se) {
			pe.StatusCode = se.StatusCode
		}
		return nil, pe
	}
	return data, nil
}

// buildModel merges the InLine ad with the URLs accumulated from wrappers.
// The first Linear creative with a usable media file supplies media,
// tracking, clicks and duration.
func buildModel(ad *adElement, acc *chain) (*Model, error) {
	in := ad.InLine

	var linear *linearElement
	var media []MediaFile
	for _, cr := range in.Creatives {
		if cr.Linear == nil {
			continue
		}
		if files := mediaFiles(cr.Linear.MediaFiles); len(files) > 0 {
			linear = cr.Linear
			media = files
			break
		}
	}
	if linear == nil {
		return nil, errors.New("no linear creative with a valid media file")
	}

	m := &Model{
		AdID:              strings.TrimSpace(ad.ID),
		AdSystem:          in.AdSystem.String(),
		AdTitle:           in.AdTitle.String(),
		Description:       in.Description.String(),
		ImpressionURLs:    appendURLs(cloneStrings(acc.impressions), in.Impressions),
		ErrorURLs:         appendURLs(cloneStrings(acc.errorURLs), in.Errors),
		MediaFiles:        media,
		TrackingEvents:    CloneTable(acc.tracking),
		ClickTrackingURLs: cloneStrings(acc.clickTracking),
		Duration:          parseDuration(linear.Duration.String()),
	}
	addTracking(m.TrackingEvents, linear.TrackingEvents)
	if vc := linear.VideoClicks; vc != nil {
		m.ClickThroughURL = cleanURL(vc.ClickThrough.String())
		m.ClickTrackingURLs = appendURLs(m.ClickTrackingURLs, vc.ClickTracking)
	}
	return m, nil
}

func mediaFiles(elems []mediaFileElement) []MediaFile {
	var out []MediaFile
	for _, el := range elems {
		u := cleanURL(el.URL)
		if u == "" {
			continue
		}
		delivery := strings.ToLower(strings.TrimSpace(el.Delivery))
		if delivery == "" {
			delivery = DeliveryProgressive
		}
		out = append(out, MediaFile{
			ID:           strings.TrimSpace(el.ID),
			URL:          u,
			Type:         strings.TrimSpace(el.Type),
			Bitrate:      atoiOrZero(el.Bitrate),
			Width:        atoiOrZero(el.Width),
			Height:       atoiOrZero(el.Height),
			Delivery:     delivery,
			APIFramework: strings.TrimSpace(el.APIFramework),
		})
	}
	return out
}

func addTracking(table map[Event][]string, elems []trackingElement) {
	for _, t := range elems {
		e, ok := ParseEvent(t.Event)
		if !ok {
			continue
		}
		if u := cleanURL(t.URL); u != "" {
			table[e] = append(table[e], u)
		}
	}
}

// appendURLs appends the well-formed URLs of elems to dst in order.
func appendURLs(dst []string, elems []textElement) []string {
	for _, el := range elems {
		if u := cleanURL(el.String()); u != "" {
			dst = append(dst, u)
		}
	}
	return dst
}
