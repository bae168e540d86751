package metrics

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/pkg/cache"
)

var (
	_ macro.Recorder                 = (*Collector)(nil)
	_ authorization.DecisionRecorder = (*Collector)(nil)
	_ CacheSource                    = (*authorization.PermissionCache)(nil)
)

// CacheSource is a cache whose statistics the collector reports
type CacheSource interface {
	Size() int
	Metrics() *cache.Metrics
}

// Collector collects and aggregates metrics for the application.
// It receives rule decisions and macro executions as well as API calls.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Rule metrics
	decisions sync.Map // map[decisionKey]*uint64
	macros    sync.Map // map[macroKey]*uint64

	// Cache reference (optional, for querying cache-specific metrics)
	cache CacheSource

	// Exporter receives decision and macro events as they happen (optional)
	exporter *PrometheusExporter
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

type decisionKey struct {
	Collection string
	Operation  string
	Allowed    bool
	Cached     bool
}

type macroKey struct {
	Name   string
	Kind   string
	Failed bool
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	Evictions   uint64
	Expired     uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// RuleMetrics holds decision and macro counts.
type RuleMetrics struct {
	// Allowed and Denied are keyed by "collection:operation"
	Allowed   map[string]uint64
	Denied    map[string]uint64
	CacheHits uint64

	// MacroCalls and MacroFailures are keyed by macro name
	MacroCalls    map[string]uint64
	MacroFailures map[string]uint64
	UnknownMacros uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache CacheSource) {
	c.cache = cache
}

// SetExporter forwards decision and macro events to a Prometheus exporter.
func (c *Collector) SetExporter(exporter *PrometheusExporter) {
	c.exporter = exporter
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	counter := c.getOrCreateCounter(&c.apiRequests, method)
	atomic.AddUint64(counter, 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	counter := c.getOrCreateCounter(&c.apiErrors, method)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordDecision records a resolved authorization request.
func (c *Collector) RecordDecision(collection string, operation string, allowed bool, cached bool) {
	val, _ := c.decisions.LoadOrStore(decisionKey{collection, operation, allowed, cached}, new(uint64))
	atomic.AddUint64(val.(*uint64), 1)

	if c.exporter != nil {
		c.exporter.RecordDecision(collection, operation, allowed, cached)
	}
}

// RecordMacro records one macro execution.
func (c *Collector) RecordMacro(name string, kind string, failed bool) {
	val, _ := c.macros.LoadOrStore(macroKey{name, kind, failed}, new(uint64))
	atomic.AddUint64(val.(*uint64), 1)

	if c.exporter != nil {
		c.exporter.RecordMacro(kind, failed)
	}
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{KeysCurrent: int64(c.cache.Size())}
	}

	return &CacheMetrics{
		Hits:        metrics.Hits,
		Misses:      metrics.Misses,
		HitRate:     metrics.HitRate(),
		KeysCurrent: int64(c.cache.Size()),
		Evictions:   metrics.KeysEvicted,
		Expired:     metrics.KeysExpired,
	}
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	// Collect request counts
	c.apiRequests.Range(func(key, value interface{}) bool {
		result.RequestCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	// Collect error counts
	c.apiErrors.Range(func(key, value interface{}) bool {
		result.ErrorCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	// Collect duration totals
	c.apiDuration.Range(func(key, value interface{}) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// GetRuleMetrics returns decision and macro counts.
func (c *Collector) GetRuleMetrics() *RuleMetrics {
	result := &RuleMetrics{
		Allowed:       make(map[string]uint64),
		Denied:        make(map[string]uint64),
		MacroCalls:    make(map[string]uint64),
		MacroFailures: make(map[string]uint64),
	}

	c.decisions.Range(func(key, value interface{}) bool {
		k := key.(decisionKey)
		count := atomic.LoadUint64(value.(*uint64))
		label := strings.Join([]string{k.Collection, k.Operation}, ":")
		if k.Allowed {
			result.Allowed[label] += count
		} else {
			result.Denied[label] += count
		}
		if k.Cached {
			result.CacheHits += count
		}
		return true
	})

	c.macros.Range(func(key, value interface{}) bool {
		k := key.(macroKey)
		count := atomic.LoadUint64(value.(*uint64))
		result.MacroCalls[k.Name] += count
		if k.Failed {
			result.MacroFailures[k.Name] += count
		}
		if k.Kind == macro.KindUnknown {
			result.UnknownMacros += count
		}
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
