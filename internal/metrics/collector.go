package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tyxk8160/mathtag"
)

// Collector provides simple built-in metrics collection
type Collector struct {
	rewriteMetrics    *RewriteMetrics
	operationCounters map[string]*int64
	mu                sync.RWMutex
	startTime         time.Time
}

// RewriteMetrics tracks rewrite activity
type RewriteMetrics struct {
	// Documents
	DocumentsProcessed int64 `json:"documents_processed"`
	DocumentErrors     int64 `json:"document_errors"`

	// Rewrite passes
	TextNodesScanned int64 `json:"text_nodes_scanned"`
	NodesRewritten   int64 `json:"nodes_rewritten"`
	InlineSpans      int64 `json:"inline_spans"`
	BlockSpans       int64 `json:"block_spans"`
	NodesSkipped     int64 `json:"nodes_skipped"`

	// Build cache
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Uptime
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		rewriteMetrics: &RewriteMetrics{
			StartTime: now,
		},
		operationCounters: make(map[string]*int64),
		startTime:         now,
	}
}

// RecordResult records one successfully processed document
func (c *Collector) RecordResult(result mathtag.Result) {
	m := c.rewriteMetrics
	atomic.AddInt64(&m.DocumentsProcessed, 1)
	atomic.AddInt64(&m.TextNodesScanned, int64(result.TextNodes))
	atomic.AddInt64(&m.NodesRewritten, int64(result.Rewritten))
	atomic.AddInt64(&m.InlineSpans, int64(result.InlineSpans))
	atomic.AddInt64(&m.BlockSpans, int64(result.BlockSpans))
	atomic.AddInt64(&m.NodesSkipped, int64(result.Skipped))
}

// IncrementDocumentError records a document that failed to process
func (c *Collector) IncrementDocumentError() {
	atomic.AddInt64(&c.rewriteMetrics.DocumentErrors, 1)
}

// IncrementCacheHit records a build that reused a cached result
func (c *Collector) IncrementCacheHit() {
	atomic.AddInt64(&c.rewriteMetrics.CacheHits, 1)
}

// IncrementCacheMiss records a build that had to rewrite the source
func (c *Collector) IncrementCacheMiss() {
	atomic.AddInt64(&c.rewriteMetrics.CacheMisses, 1)
}

// IncrementCustomCounter increments a custom named counter
func (c *Collector) IncrementCustomCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.operationCounters[name]; exists {
		atomic.AddInt64(counter, 1)
	} else {
		var newCounter int64 = 1
		c.operationCounters[name] = &newCounter
	}
}

// GetMetrics returns a snapshot of the current metrics
func (c *Collector) GetMetrics() RewriteMetrics {
	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	m := c.rewriteMetrics
	return RewriteMetrics{
		DocumentsProcessed: atomic.LoadInt64(&m.DocumentsProcessed),
		DocumentErrors:     atomic.LoadInt64(&m.DocumentErrors),
		TextNodesScanned:   atomic.LoadInt64(&m.TextNodesScanned),
		NodesRewritten:     atomic.LoadInt64(&m.NodesRewritten),
		InlineSpans:        atomic.LoadInt64(&m.InlineSpans),
		BlockSpans:         atomic.LoadInt64(&m.BlockSpans),
		NodesSkipped:       atomic.LoadInt64(&m.NodesSkipped),
		CacheHits:          atomic.LoadInt64(&m.CacheHits),
		CacheMisses:        atomic.LoadInt64(&m.CacheMisses),
		StartTime:          startTime,
		Uptime:             time.Since(startTime),
	}
}

// GetCustomCounters returns all custom counters
func (c *Collector) GetCustomCounters() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64)
	for name, counter := range c.operationCounters {
		result[name] = atomic.LoadInt64(counter)
	}
	return result
}

// Reset resets all metrics to zero
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.rewriteMetrics
	atomic.StoreInt64(&m.DocumentsProcessed, 0)
	atomic.StoreInt64(&m.DocumentErrors, 0)
	atomic.StoreInt64(&m.TextNodesScanned, 0)
	atomic.StoreInt64(&m.NodesRewritten, 0)
	atomic.StoreInt64(&m.InlineSpans, 0)
	atomic.StoreInt64(&m.BlockSpans, 0)
	atomic.StoreInt64(&m.NodesSkipped, 0)
	atomic.StoreInt64(&m.CacheHits, 0)
	atomic.StoreInt64(&m.CacheMisses, 0)

	c.operationCounters = make(map[string]*int64)
	c.startTime = time.Now()
}

// GetErrorRate returns the percentage of documents that failed
func (c *Collector) GetErrorRate() float64 {
	processed := atomic.LoadInt64(&c.rewriteMetrics.DocumentsProcessed)
	errors := atomic.LoadInt64(&c.rewriteMetrics.DocumentErrors)

	if processed+errors == 0 {
		return 0.0
	}

	return float64(errors) / float64(processed+errors) * 100.0
}

// GetCacheHitRate returns the percentage of builds served from the cache
func (c *Collector) GetCacheHitRate() float64 {
	hits := atomic.LoadInt64(&c.rewriteMetrics.CacheHits)
	misses := atomic.LoadInt64(&c.rewriteMetrics.CacheMisses)

	if hits+misses == 0 {
		return 0.0
	}

	return float64(hits) / float64(hits+misses) * 100.0
}
