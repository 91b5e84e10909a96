package macros

import (
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrUnresolved is returned by an ExpansionFunc when the context carries no
// value for the macro. The placeholder is then stripped from the URL.
var ErrUnresolved = errors.New("macro value unavailable")

// placeholderPattern matches VAST macros in their literal ([NAME]) and
// percent-encoded (%5BNAME%5D) forms. Upper-case names only, so IPv6 hosts
// such as [::1] are never touched. The encoded form is only a macro when the
// name is known; otherwise it is advertiser data and stays as is.
var placeholderPattern = regexp.MustCompile(`(?:\[|%5[Bb])([A-Z][A-Z0-9_]*)(?:\]|%5[Dd])`)

// Expander substitutes VAST macros in tracking URLs with observability.
type Expander struct {
	logger       *zap.Logger
	expansions   map[string]ExpansionFunc
	expansionsMu sync.RWMutex
	strictMode   bool // unresolved macros fail the expansion instead of being stripped

	metrics *expanderMetrics
}

// ExpansionFunc resolves one macro against the expansion context.
type ExpansionFunc func(ctx *Context) (string, error)

type expanderMetrics struct {
	expansionCounter  *prometheus.CounterVec
	expansionDuration prometheus.Histogram
	strippedCounter   *prometheus.CounterVec
}

func newExpanderMetrics(factory promauto.Factory) *expanderMetrics {
	return &expanderMetrics{
		expansionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openvast_macro_expansions_total",
				Help: "Total number of macro expansions performed",
			},
			[]string{"macro", "success"},
		),
		expansionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "openvast_macro_expansion_duration_seconds",
				Help:    "Time taken to expand all macros in a URL",
				Buckets: prometheus.DefBuckets,
			},
		),
		strippedCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openvast_macro_stripped_total",
				Help: "Placeholders removed because no value was available",
			},
			[]string{"macro"},
		),
	}
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *expanderMetrics
)

// NewExpander creates an expander registered against the default Prometheus registry.
func NewExpander(logger *zap.Logger) *Expander {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = newExpanderMetrics(promauto.With(prometheus.DefaultRegisterer))
	})
	return newExpander(logger, false, defaultMetrics)
}

// NewExpanderForTesting creates an expander with an isolated metrics registry.
func NewExpanderForTesting(logger *zap.Logger, strictMode bool) *Expander {
	return newExpander(logger, strictMode, newExpanderMetrics(promauto.With(prometheus.NewRegistry())))
}

func newExpander(logger *zap.Logger, strictMode bool, m *expanderMetrics) *Expander {
	e := &Expander{
		logger:     logger.Named("macros"),
		expansions: make(map[string]ExpansionFunc),
		strictMode: strictMode,
		metrics:    m,
	}
	e.registerDefaultMacros()
	return e
}

// SetStrictMode enables or disables strict expansion mode.
func (e *Expander) SetStrictMode(strict bool) {
	e.expansionsMu.Lock()
	defer e.expansionsMu.Unlock()
	e.strictMode = strict
}

// ExpandURL replaces every macro in rawURL. Resolved values are query-escaped;
// unresolved placeholders are removed so they never reach the wire literally.
// The rest of the URL is left byte-for-byte intact.
func (e *Expander) ExpandURL(rawURL string, ctx *Context) (string, error) {
	start := time.Now()
	defer func() {
		e.metrics.expansionDuration.Observe(time.Since(start).Seconds())
	}()

	if rawURL == "" {
		return "", nil
	}
	if _, err := url.Parse(rawURL); err != nil {
		e.logger.Error("Failed to parse URL for macro expansion",
			zap.String("url", rawURL),
			zap.Error(err))
		return rawURL, err
	}
	if ctx == nil {
		ctx = &Context{}
	}

	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	var firstErr error
	found := 0
	expanded := placeholderPattern.ReplaceAllStringFunc(rawURL, func(placeholder string) string {
		name := placeholderPattern.FindStringSubmatch(placeholder)[1]
		if placeholder[0] == '%' && !e.known(name, ctx) {
			return placeholder
		}
		found++

		value, err := e.resolve(name, ctx)
		if err != nil {
			e.metrics.expansionCounter.WithLabelValues(name, "false").Inc()
			e.metrics.strippedCounter.WithLabelValues(name).Inc()
			if !errors.Is(err, ErrUnresolved) {
				e.logger.Warn("Failed to expand macro",
					zap.String("macro", name),
					zap.String("url", rawURL),
					zap.Error(err))
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("macro %s: %w", name, err)
			}
			return ""
		}
		e.metrics.expansionCounter.WithLabelValues(name, "true").Inc()
		return url.QueryEscape(value)
	})

	if firstErr != nil && e.strictMode {
		return "", firstErr
	}

	if found > 0 {
		e.logger.Debug("Expanded macros in URL",
			zap.String("original_url", rawURL),
			zap.String("expanded_url", expanded),
			zap.Int("macros_found", found))
	}
	return expanded, nil
}

// resolve looks up a registered macro first, then the context's custom values.
// Callers hold expansionsMu.
func (e *Expander) resolve(name string, ctx *Context) (string, error) {
	if fn, ok := e.expansions[name]; ok {
		return fn(ctx)
	}
	if v, ok := ctx.Custom[name]; ok {
		return v, nil
	}
	return "", ErrUnresolved
}

// known reports whether name has a registered function or a context value.
// Callers hold expansionsMu.
func (e *Expander) known(name string, ctx *Context) bool {
	if _, ok := e.expansions[name]; ok {
		return true
	}
	_, ok := ctx.Custom[name]
	return ok
}

// RegisterMacro adds or replaces a macro expansion function.
func (e *Expander) RegisterMacro(name string, expansionFunc ExpansionFunc) error {
	if name == "" {
		return fmt.Errorf("macro name cannot be empty")
	}
	if !placeholderPattern.MatchString("[" + name + "]") {
		return fmt.Errorf("macro name %q must be upper-case letters, digits or underscores", name)
	}
	if expansionFunc == nil {
		return fmt.Errorf("expansion function cannot be nil")
	}

	e.expansionsMu.Lock()
	defer e.expansionsMu.Unlock()
	e.expansions[name] = expansionFunc

	e.logger.Info("Registered custom macro", zap.String("macro", name))
	return nil
}

// RegisterStaticMacros registers a fixed value for each name, e.g. a
// publisher or app id supplied through configuration.
func (e *Expander) RegisterStaticMacros(values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := values[name]
		if err := e.RegisterMacro(name, func(*Context) (string, error) { return value, nil }); err != nil {
			return err
		}
	}
	return nil
}

// GetRegisteredMacros returns the sorted names of all registered macros.
func (e *Expander) GetRegisteredMacros() []string {
	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	macros := make([]string, 0, len(e.expansions))
	for name := range e.expansions {
		macros = append(macros, name)
	}
	sort.Strings(macros)
	return macros
}

// ValidateURL returns the bracketed macros in rawURL that no registered
// function handles. Such placeholders are still legal; they resolve from
// Context.Custom or get stripped. Unknown percent-encoded names are data and
// are not reported.
func (e *Expander) ValidateURL(rawURL string) []string {
	e.expansionsMu.RLock()
	defer e.expansionsMu.RUnlock()

	var unsupported []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(rawURL, -1) {
		if m[0][0] == '%' {
			continue
		}
		if _, ok := e.expansions[m[1]]; !ok {
			unsupported = append(unsupported, m[1])
		}
	}
	return unsupported
}

// registerDefaultMacros registers the VAST 2.0 macros plus a few common extras.
func (e *Expander) registerDefaultMacros() {
	e.expansions["ERRORCODE"] = func(ctx *Context) (string, error) {
		if ctx.ErrorCode <= 0 {
			return "", ErrUnresolved
		}
		return strconv.Itoa(ctx.ErrorCode), nil
	}

	e.expansions["CACHEBUSTING"] = func(ctx *Context) (string, error) {
		if ctx.CacheBuster != "" {
			return ctx.CacheBuster, nil
		}
		return fmt.Sprintf("%08d", rand.Intn(100000000)), nil
	}

	e.expansions["CONTENTPLAYHEAD"] = func(ctx *Context) (string, error) {
		if ctx.ContentPlayhead == nil {
			return "", ErrUnresolved
		}
		return FormatPlayhead(*ctx.ContentPlayhead), nil
	}

	e.expansions["ASSETURI"] = func(ctx *Context) (string, error) {
		if ctx.AssetURI == "" {
			return "", ErrUnresolved
		}
		return ctx.AssetURI, nil
	}

	e.expansions["TIMESTAMP"] = func(ctx *Context) (string, error) {
		return ctx.timestamp().Format("2006-01-02T15:04:05.000Z07:00"), nil
	}

	e.expansions["TIMESTAMP_MS"] = func(ctx *Context) (string, error) {
		return strconv.FormatInt(ctx.timestamp().UnixMilli(), 10), nil
	}

	e.expansions["UUID"] = func(ctx *Context) (string, error) {
		return uuid.New().String(), nil
	}
}
