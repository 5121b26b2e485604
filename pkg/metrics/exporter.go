package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/router"
	"github.com/playforge/arcadia/pkg/syncer"
	"github.com/playforge/arcadia/pkg/txn"
)

// Sources provides the stat snapshots the exporter scrapes. Nil fields are
// skipped, so partially assembled servers still export what they have.
type Sources struct {
	Cache    func(ctx context.Context) cache.Stats
	Lock     func() lock.Stats
	Sync     func() syncer.Stats
	Txn      func() txn.Stats
	Router   func() router.Stats
	Sessions func() int
}

// Exporter converts component stat snapshots into Prometheus metrics at
// scrape time. Components keep their own counters; nothing is double-counted.
type Exporter struct {
	src Sources

	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvicted   *prometheus.Desc
	cacheExpired   *prometheus.Desc
	cacheTracked   *prometheus.Desc
	cacheMemory    *prometheus.Desc
	cacheAvgMs     *prometheus.Desc
	lockAcquired   *prometheus.Desc
	lockFailed     *prometheus.Desc
	lockTimedOut   *prometheus.Desc
	lockReleased   *prometheus.Desc
	lockRenewFail  *prometheus.Desc
	lockActive     *prometheus.Desc
	lockAvgWaitMs  *prometheus.Desc
	syncPending    *prometheus.Desc
	syncEnqueued   *prometheus.Desc
	syncFlushed    *prometheus.Desc
	syncFlushFail  *prometheus.Desc
	syncDropped    *prometheus.Desc
	syncDirect     *prometheus.Desc
	txnStarted     *prometheus.Desc
	txnCommitted   *prometheus.Desc
	txnRolledBack  *prometheus.Desc
	txnTimedOut    *prometheus.Desc
	txnPartial     *prometheus.Desc
	txnActive      *prometheus.Desc
	routeProcessed *prometheus.Desc
	routeFailed    *prometheus.Desc
	routeRejected  *prometheus.Desc
	routeByKind    *prometheus.Desc
	routeAvgMs     *prometheus.Desc
	receivers      *prometheus.Desc
	sessions       *prometheus.Desc
}

// NewExporter creates and registers the snapshot exporter.
// Returns nil when metrics are disabled.
func NewExporter(src Sources) *Exporter {
	if !IsEnabled() {
		return nil
	}

	desc := func(sub, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, sub, name), help, nil, nil)
	}

	e := &Exporter{
		src: src,

		cacheHits:    desc("cache", "hits_total", "Cache reads answered from Redis"),
		cacheMisses:  desc("cache", "misses_total", "Cache reads that missed"),
		cacheEvicted: desc("cache", "evicted_total", "Keys removed by LRU eviction"),
		cacheExpired: desc("cache", "expired_total", "Keys observed expired during cleanup"),
		cacheTracked: desc("cache", "tracked_keys", "Keys currently tracked for eviction"),
		cacheMemory:  desc("cache", "memory_bytes", "Redis memory in use"),
		cacheAvgMs:   desc("cache", "avg_response_ms", "Cache response time moving average"),

		lockAcquired:  desc("lock", "acquired_total", "Locks acquired"),
		lockFailed:    desc("lock", "failed_total", "Lock acquisitions that failed"),
		lockTimedOut:  desc("lock", "timed_out_total", "Lock waits that hit their deadline"),
		lockReleased:  desc("lock", "released_total", "Locks released"),
		lockRenewFail: desc("lock", "renew_failures_total", "Lock renewals that found the lock lost"),
		lockActive:    desc("lock", "active", "Locks currently held"),
		lockAvgWaitMs: desc("lock", "avg_wait_ms", "Lock wait time moving average"),

		syncPending:   desc("sync", "pending", "Write-behind entries awaiting flush"),
		syncEnqueued:  desc("sync", "enqueued_total", "Write-behind entries enqueued"),
		syncFlushed:   desc("sync", "flushed_total", "Documents flushed to MongoDB"),
		syncFlushFail: desc("sync", "flush_failures_total", "Flush batches that failed"),
		syncDropped:   desc("sync", "dropped_total", "Write-behind entries dropped after requeue"),
		syncDirect:    desc("sync", "write_through_total", "Writes persisted synchronously"),

		txnStarted:    desc("txn", "started_total", "Transactions begun"),
		txnCommitted:  desc("txn", "committed_total", "Transactions committed"),
		txnRolledBack: desc("txn", "rolled_back_total", "Transactions rolled back"),
		txnTimedOut:   desc("txn", "timed_out_total", "Transactions expired by the sweeper"),
		txnPartial:    desc("txn", "partial_total", "Commits with failed cache compensation"),
		txnActive:     desc("txn", "active", "Transactions currently open"),

		routeProcessed: desc("router", "processed_total", "Messages routed"),
		routeFailed:    desc("router", "failed_total", "Messages with at least one failed delivery"),
		routeRejected:  desc("router", "rejected_total", "Messages rejected by validation"),
		routeAvgMs:     desc("router", "avg_latency_ms", "Routing latency moving average"),
		receivers:      desc("router", "receivers", "Registered receivers"),
		routeByKind: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "router", "messages_total"),
			"Messages routed by target kind", []string{"kind"}, nil),

		sessions: desc("session", "count", "Registered sessions"),
	}
	GetRegistry().MustRegister(e)
	return e
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(e, ch)
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	if e.src.Cache != nil {
		st := e.src.Cache(context.Background())
		counter(e.cacheHits, float64(st.Hits))
		counter(e.cacheMisses, float64(st.Misses))
		counter(e.cacheEvicted, float64(st.Evicted))
		counter(e.cacheExpired, float64(st.Expired))
		gauge(e.cacheTracked, float64(st.TrackedKeys))
		gauge(e.cacheMemory, float64(st.MemoryBytes))
		gauge(e.cacheAvgMs, st.AvgResponseMs)
	}
	if e.src.Lock != nil {
		st := e.src.Lock()
		counter(e.lockAcquired, float64(st.Acquired))
		counter(e.lockFailed, float64(st.Failed))
		counter(e.lockTimedOut, float64(st.TimedOut))
		counter(e.lockReleased, float64(st.Released))
		counter(e.lockRenewFail, float64(st.RenewFailures))
		gauge(e.lockActive, float64(st.Active))
		gauge(e.lockAvgWaitMs, st.AvgWaitMs)
	}
	if e.src.Sync != nil {
		st := e.src.Sync()
		gauge(e.syncPending, float64(st.Pending))
		counter(e.syncEnqueued, float64(st.Enqueued))
		counter(e.syncFlushed, float64(st.Flushed))
		counter(e.syncFlushFail, float64(st.FlushFailures))
		counter(e.syncDropped, float64(st.Dropped))
		counter(e.syncDirect, float64(st.WriteThrough))
	}
	if e.src.Txn != nil {
		st := e.src.Txn()
		counter(e.txnStarted, float64(st.Started))
		counter(e.txnCommitted, float64(st.Committed))
		counter(e.txnRolledBack, float64(st.RolledBack))
		counter(e.txnTimedOut, float64(st.TimedOut))
		counter(e.txnPartial, float64(st.Partial))
		gauge(e.txnActive, float64(st.Active))
	}
	if e.src.Router != nil {
		st := e.src.Router()
		counter(e.routeProcessed, float64(st.Processed))
		counter(e.routeFailed, float64(st.Failed))
		counter(e.routeRejected, float64(st.Rejected))
		gauge(e.routeAvgMs, st.AvgLatencyMs)
		gauge(e.receivers, float64(st.Receivers))
		for kind, n := range st.ByKind {
			counter(e.routeByKind, float64(n), kind)
		}
	}
	if e.src.Sessions != nil {
		gauge(e.sessions, float64(e.src.Sessions()))
	}
}

var _ prometheus.Collector = (*Exporter)(nil)
