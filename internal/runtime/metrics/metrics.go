// Package metrics exposes Prometheus collectors for framing and decoding.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "connectflow"
	subsystem = "decoder"
)

// Collector tracks frame, decode and session statistics.
type Collector struct {
	mu sync.RWMutex

	// Per-message-type counts
	messageCounts map[string]*MessageStats

	// Prometheus collectors
	framesTotal      *prometheus.CounterVec
	frameBytes       *prometheus.HistogramVec
	framingErrors    *prometheus.CounterVec
	decodeTotal      *prometheus.CounterVec
	walkErrorsTotal  *prometheus.CounterVec
	sessionsTotal    *prometheus.CounterVec
	sessionDurations *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// MessageStats holds decode counts for a single message type.
type MessageStats struct {
	Decoded       uint64    `json:"decoded"`
	Fallbacks     uint64    `json:"fallbacks"`
	Failures      uint64    `json:"failures"`
	WalkErrors    uint64    `json:"walk_errors"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Snapshot provides a point-in-time view of the collector.
type Snapshot struct {
	TotalDecoded  uint64                   `json:"total_decoded"`
	TotalFallback uint64                   `json:"total_fallback"`
	TotalFailed   uint64                   `json:"total_failed"`
	Messages      map[string]*MessageStats `json:"messages"`
	CollectedAt   time.Time                `json:"collected_at"`
}

// Tier labels used by RecordDecode.
const (
	TierSchema   = "schema"
	TierFallback = "fallback"
	TierFailed   = "failed"
)

// Frame kind labels.
const (
	KindData    = "data"
	KindTrailer = "trailer"
)

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates a collector bound to registerer, or the default registerer
// when nil. Call Register before recording.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Collector{
		messageCounts:    make(map[string]*MessageStats),
		registerer:       registerer,
		framesTotal:      newCounterVec("frames_total", "Total number of Connect frames demultiplexed", []string{"kind"}),
		frameBytes:       newHistogramVec("frame_bytes", "Payload size of demultiplexed frames", prometheus.ExponentialBuckets(16, 4, 10), []string{"kind"}),
		framingErrors:    newCounterVec("framing_errors_total", "Total number of framing errors", []string{"reason"}),
		decodeTotal:      newCounterVec("decode_total", "Total number of message decodes by tier", []string{"message", "tier"}),
		walkErrorsTotal:  newCounterVec("walk_errors_total", "Total number of wire walk errors", []string{"message"}),
		sessionsTotal:    newCounterVec("sessions_total", "Total number of finished stream sessions", []string{"outcome"}),
		sessionDurations: newHistogramVec("session_duration_seconds", "Duration of stream sessions", prometheus.DefBuckets, []string{"outcome"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	err := errors.Join(
		register(c.registerer, &c.framesTotal),
		register(c.registerer, &c.frameBytes),
		register(c.registerer, &c.framingErrors),
		register(c.registerer, &c.decodeTotal),
		register(c.registerer, &c.walkErrorsTotal),
		register(c.registerer, &c.sessionsTotal),
		register(c.registerer, &c.sessionDurations),
	)
	if err != nil {
		return err
	}

	c.registered = true
	return nil
}

// register adopts an already registered collector with the same descriptor
// so several Collectors can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, col *T) error {
	err := reg.Register(*col)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	if existing, ok := already.ExistingCollector.(T); ok {
		*col = existing
	}
	return nil
}

// RecordFrame counts one demultiplexed frame.
func (c *Collector) RecordFrame(kind string, size int) {
	if c == nil {
		return
	}
	c.framesTotal.WithLabelValues(kind).Inc()
	c.frameBytes.WithLabelValues(kind).Observe(float64(size))
}

// RecordFramingError counts a framing failure such as an oversized header.
func (c *Collector) RecordFramingError(reason string) {
	if c == nil {
		return
	}
	c.framingErrors.WithLabelValues(reason).Inc()
}

// RecordDecode counts one message decode and the walk errors it reported.
func (c *Collector) RecordDecode(message, tier string, walkErrors int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.getOrCreateMessageStats(message)
	switch tier {
	case TierSchema:
		stats.Decoded++
	case TierFallback:
		stats.Fallbacks++
	default:
		stats.Failures++
	}
	stats.WalkErrors += uint64(walkErrors)
	stats.LastUpdatedAt = time.Now()

	c.decodeTotal.WithLabelValues(message, tier).Inc()
	if walkErrors > 0 {
		c.walkErrorsTotal.WithLabelValues(message).Add(float64(walkErrors))
	}
}

// RecordSession counts a finished session with its outcome and duration.
func (c *Collector) RecordSession(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.sessionsTotal.WithLabelValues(outcome).Inc()
	c.sessionDurations.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Snapshot returns a point-in-time copy of the per-message statistics.
func (c *Collector) Snapshot() Snapshot {
	snapshot := Snapshot{
		Messages:    make(map[string]*MessageStats),
		CollectedAt: time.Now(),
	}
	if c == nil {
		return snapshot
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, stats := range c.messageCounts {
		copied := *stats
		snapshot.Messages[name] = &copied
		snapshot.TotalDecoded += stats.Decoded
		snapshot.TotalFallback += stats.Fallbacks
		snapshot.TotalFailed += stats.Failures
	}
	return snapshot
}

func (c *Collector) getOrCreateMessageStats(message string) *MessageStats {
	if stats, ok := c.messageCounts[message]; ok {
		return stats
	}
	stats := &MessageStats{}
	c.messageCounts[message] = stats
	return stats
}

// Reset resets all metrics (useful for testing).
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCounts = make(map[string]*MessageStats)
	c.framesTotal.Reset()
	c.frameBytes.Reset()
	c.framingErrors.Reset()
	c.decodeTotal.Reset()
	c.walkErrorsTotal.Reset()
	c.sessionsTotal.Reset()
	c.sessionDurations.Reset()
}
