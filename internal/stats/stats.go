package stats

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pspoerri/geo2mbtiles/internal/perr"
)

// Stats is the single explicitly-passed handle that replaces module-global
// counters. It is constructed once by the engine and threaded into every
// stage that can raise a per-feature error or wants to record a timing span.
type Stats struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	errorCounters map[perr.Kind]prometheus.Counter
	errorTallies  map[perr.Kind]*atomic.Int64
	limiters      map[perr.Kind]*rate.Limiter

	tilesWritten   atomic.Int64
	featuresEmitted atomic.Int64
	bytesWritten   atomic.Int64

	spanDuration *prometheus.HistogramVec
}

// errorKinds lists the kinds that get their own counter/limiter. CountError
// neither counts nor logs kinds outside this list (e.g. Internal).
var errorKinds = []perr.Kind{
	perr.GeometryInvalid,
	perr.ProfileRejected,
	perr.MissingNodeReference,
	perr.SourceParseError,
	perr.IoFailure,
	perr.OutOfDisk,
}

// New builds a Stats sink logging through logger and registering Prometheus
// collectors on a private registry (so concurrent test runs never collide
// on the default global registry).
func New(logger *zap.Logger) *Stats {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stats{
		logger:        logger,
		registry:      prometheus.NewRegistry(),
		errorCounters: make(map[perr.Kind]prometheus.Counter, len(errorKinds)),
		errorTallies:  make(map[perr.Kind]*atomic.Int64, len(errorKinds)),
		limiters:      make(map[perr.Kind]*rate.Limiter, len(errorKinds)),
	}

	for _, k := range errorKinds {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geo2mbtiles_errors_total",
			Help: "Count of per-feature errors by kind.",
			ConstLabels: prometheus.Labels{
				"kind": k.String(),
			},
		})
		s.registry.MustRegister(c)
		s.errorCounters[k] = c
		s.errorTallies[k] = new(atomic.Int64)
		// One log line per second per kind: enough to notice a systemic
		// problem without a bad input block flooding the log.
		s.limiters[k] = rate.NewLimiter(rate.Limit(1), 1)
	}

	s.spanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo2mbtiles_stage_duration_seconds",
		Help:    "Elapsed time of named pipeline stages.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	s.registry.MustRegister(s.spanDuration)

	return s
}

// CountError records a per-feature error. GeometryInvalid and ProfileRejected
// are never fatal; the policy dispatch for the rest lives in perr.Fatal.
// Logging is rate-limited per kind so a bad input block cannot flood stderr.
func (s *Stats) CountError(kind perr.Kind, op string, err error) {
	if c, ok := s.errorCounters[kind]; ok {
		c.Inc()
		s.errorTallies[kind].Add(1)
	}
	if lim, ok := s.limiters[kind]; ok && lim.Allow() {
		s.logger.Warn("feature error",
			zap.String("kind", kind.String()),
			zap.String("op", op),
			zap.Error(err))
	}
}

// ErrorCount returns the running tally for a kind (e.g. missing_node_ref for
// the end-of-run summary).
func (s *Stats) ErrorCount(kind perr.Kind) int64 {
	if t, ok := s.errorTallies[kind]; ok {
		return t.Load()
	}
	return 0
}

// AddTile records one tile written to MBTiles.
func (s *Stats) AddTile(bytes int) {
	s.tilesWritten.Add(1)
	s.bytesWritten.Add(int64(bytes))
}

// AddFeature records one feature accepted by the renderer.
func (s *Stats) AddFeature() {
	s.featuresEmitted.Add(1)
}

// TilesWritten, FeaturesEmitted, BytesWritten back the exit-time summary.
func (s *Stats) TilesWritten() int64    { return s.tilesWritten.Load() }
func (s *Stats) FeaturesEmitted() int64 { return s.featuresEmitted.Load() }
func (s *Stats) BytesWritten() int64    { return s.bytesWritten.Load() }

// Handler exposes the Prometheus registry for an optional /metrics pull
// during long batch runs.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Logger returns the structured logger threaded through the pipeline.
func (s *Stats) Logger() *zap.Logger { return s.logger }

// Span is a scoped timing measurement. StartSpan/End always record elapsed
// time on every exit path, including error returns, when used with defer.
type Span struct {
	stats *Stats
	name  string
	start time.Time
}

// StartSpan begins a timing span for a named pipeline stage.
func (s *Stats) StartSpan(name string) *Span {
	return &Span{stats: s, name: name, start: time.Now()}
}

// End records the elapsed duration since StartSpan. Safe to call via defer
// immediately after StartSpan so every exit path (including panics recovered
// upstream) is measured.
func (sp *Span) End() {
	sp.stats.spanDuration.WithLabelValues(sp.name).Observe(time.Since(sp.start).Seconds())
}
