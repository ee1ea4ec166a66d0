package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-chat-broker/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_rejected_total",
		Help: "Total connection attempts rejected (e.g. worker slab full).",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connections_active",
		Help: "Current number of connected clients across all workers.",
	})
	PostsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posts_received_total",
		Help: "Total posts decoded from client connections.",
	})
	PostsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posts_broadcast_total",
		Help: "Total posts fanned out to connected clients (sum across recipients).",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_fanout",
		Help: "Number of clients targeted by the most recent broadcast on a worker.",
	})
	SendQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "send_queue_dropped_total",
		Help: "Total posts dropped because a connection's send queue was full.",
	})
	SendQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "send_queue_depth_max",
		Help: "Observed max queued posts among connections in the last sample window.",
	})
	SendQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "send_queue_depth_avg",
		Help: "Approximate average queued posts per connection in the last sample window.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_errors_total",
		Help: "Total frame-level decode errors (fatal, connection reset).",
	})
	MalformedPosts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_posts_total",
		Help: "Total schema-level decode errors (non-fatal, frame discarded).",
	})
	ShellTasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shell_tasks_submitted_total",
		Help: "Total commands submitted to the shell bridge.",
	})
	ShellTasksFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shell_tasks_finished_total",
		Help: "Total shell tasks that produced a result.",
	})
	ShellTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shell_tasks_dropped_total",
		Help: "Total shell tasks dropped because the bridge queue was full.",
	})
	WorkerConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_connections",
		Help: "Current number of connections owned by each worker.",
	}, []string{"worker"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrListen     = "listen"
	ErrAccept     = "accept"
	ErrConnRead   = "conn_read"
	ErrConnWrite  = "conn_write"
	ErrContext    = "context_cancelled"
	ErrShellSpawn = "shell_spawn"
)

// StartHTTP serves Prometheus metrics at /metrics, readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping Prometheus.
var (
	localAccepted    uint64
	localRejected    uint64
	localActive      uint64
	localPostsRx     uint64
	localPostsBcast  uint64
	localFanout      uint64
	localQueueDrops  uint64
	localQDMax       uint64
	localQDAvg       uint64
	localDecodeErr   uint64
	localMalformed   uint64
	localShellSubmit uint64
	localShellFin    uint64
	localShellDrop   uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of local counters, suitable for periodic logging.
type Snapshot struct {
	Accepted        uint64
	Rejected        uint64
	Active          uint64
	PostsReceived   uint64
	PostsBroadcast  uint64
	Fanout          uint64
	QueueDrops      uint64
	QueueDepthMax   uint64
	QueueDepthAvg   uint64
	DecodeErrors    uint64
	MalformedPosts  uint64
	ShellSubmitted  uint64
	ShellFinished   uint64
	ShellDropped    uint64
	Errors          uint64
}

func Snap() Snapshot {
	return Snapshot{
		Accepted:       atomic.LoadUint64(&localAccepted),
		Rejected:       atomic.LoadUint64(&localRejected),
		Active:         atomic.LoadUint64(&localActive),
		PostsReceived:  atomic.LoadUint64(&localPostsRx),
		PostsBroadcast: atomic.LoadUint64(&localPostsBcast),
		Fanout:         atomic.LoadUint64(&localFanout),
		QueueDrops:     atomic.LoadUint64(&localQueueDrops),
		QueueDepthMax:  atomic.LoadUint64(&localQDMax),
		QueueDepthAvg:  atomic.LoadUint64(&localQDAvg),
		DecodeErrors:   atomic.LoadUint64(&localDecodeErr),
		MalformedPosts: atomic.LoadUint64(&localMalformed),
		ShellSubmitted: atomic.LoadUint64(&localShellSubmit),
		ShellFinished:  atomic.LoadUint64(&localShellFin),
		ShellDropped:   atomic.LoadUint64(&localShellDrop),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

func IncConnectionsAccepted() {
	ConnectionsAccepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncConnectionsRejected() {
	ConnectionsRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func SetConnectionsActive(n int) {
	ConnectionsActive.Set(float64(n))
	atomic.StoreUint64(&localActive, uint64(n))
}

func SetWorkerConnections(worker string, n int) {
	WorkerConnections.WithLabelValues(worker).Set(float64(n))
}

func IncPostsReceived() {
	PostsReceived.Inc()
	atomic.AddUint64(&localPostsRx, 1)
}

func AddPostsBroadcast(n int) {
	PostsBroadcast.Add(float64(n))
	atomic.AddUint64(&localPostsBcast, uint64(n))
}

func SetBroadcastFanout(n int) {
	BroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncSendQueueDropped() {
	SendQueueDropped.Inc()
	atomic.AddUint64(&localQueueDrops, 1)
}

// SetQueueDepth records a snapshot of max and avg send-queue depth.
func SetQueueDepth(max, avg int) {
	SendQueueDepthMax.Set(float64(max))
	SendQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

func IncDecodeError() {
	DecodeErrors.Inc()
	atomic.AddUint64(&localDecodeErr, 1)
}

func IncMalformedPost() {
	MalformedPosts.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncShellTaskSubmitted() {
	ShellTasksSubmitted.Inc()
	atomic.AddUint64(&localShellSubmit, 1)
}

func IncShellTaskFinished() {
	ShellTasksFinished.Inc()
	atomic.AddUint64(&localShellFin, 1)
}

func IncShellTaskDropped() {
	ShellTasksDropped.Inc()
	atomic.AddUint64(&localShellDrop, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (call once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrListen, ErrAccept, ErrConnRead, ErrConnWrite, ErrContext, ErrShellSpawn} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: treat as ready so the endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
