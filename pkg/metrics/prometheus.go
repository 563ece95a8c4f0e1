package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the kitchen server.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Simulation loop
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	tickOverruns prometheus.Counter
	tickClamped  prometheus.Counter

	// Commands and gameplay
	commands           *prometheus.CounterVec
	orders             *prometheus.CounterVec
	activeOrders       prometheus.Gauge
	stationTransitions *prometheus.CounterVec
	pointsAwarded      *prometheus.CounterVec
	teamScore          *prometheus.GaugeVec
	matchRemaining     prometheus.Gauge
	matchesStarted     prometheus.Counter
	matchesCompleted   prometheus.Counter

	// Replication transport
	connectedClients  prometheus.Gauge
	broadcasts        prometheus.Counter
	broadcastBytes    prometheus.Counter
	broadcastsDropped prometheus.Counter
	snapshotsSent     prometheus.Counter

	// Command queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Station workers
	workerCount       prometheus.Gauge
	workerTickLatency prometheus.Histogram

	// Leaderboard repository
	leaderboardPlayers        prometheus.Gauge
	leaderboardUpdates        prometheus.Counter
	repositoryQueryLatency    prometheus.Histogram
	repositorySnapshotLatency prometheus.Histogram

	// Persistence and analytics
	persistenceLatency *prometheus.HistogramVec
	persistenceErrors  *prometheus.CounterVec
	analyticsEvents    *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var (
	mu            sync.RWMutex
	globalManager *Manager
	// Custom registry to avoid default Go metrics.
	customRegistry = prometheus.NewRegistry()
)

func init() {
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "reciperage",
		subsystem:        "server",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// Use swaps the manager behind the package-level recorders.
func Use(m *Manager) error {
	if m == nil {
		return ErrNilManager
	}
	mu.Lock()
	globalManager = m
	mu.Unlock()
	return nil
}

func current() *Manager {
	mu.RLock()
	defer mu.RUnlock()
	return globalManager
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.ticks = m.counter("ticks_total", "Total number of simulation ticks executed")
	m.tickDuration = m.histogram("tick_duration_milliseconds", "Wall time spent inside a simulation tick")
	m.tickOverruns = m.counter("tick_overruns_total", "Ticks that exceeded their time budget")
	m.tickClamped = m.counter("tick_dt_clamped_total", "Ticks whose elapsed time was clamped to the maximum step")

	m.commands = m.counterVec("commands_total", "Client commands by kind and result", "kind", "result")
	m.orders = m.counterVec("orders_total", "Order lifecycle events by outcome", "outcome")
	m.activeOrders = m.gauge("active_orders", "Orders currently waiting to be delivered")
	m.stationTransitions = m.counterVec("station_transitions_total", "Station state transitions", "kind", "from", "to")
	m.pointsAwarded = m.counterVec("points_awarded_total", "Points awarded to teams", "team")
	m.teamScore = m.gaugeVec("team_score", "Current score per team in the running match", "team")
	m.matchRemaining = m.gauge("match_remaining_seconds", "Time left in the running match")
	m.matchesStarted = m.counter("matches_started_total", "Matches started")
	m.matchesCompleted = m.counter("matches_completed_total", "Matches that reached game over")

	m.connectedClients = m.gauge("connected_clients", "Clients connected to the replication transport")
	m.broadcasts = m.counter("broadcasts_total", "Replication messages broadcast")
	m.broadcastBytes = m.counter("broadcast_bytes_total", "Bytes broadcast to clients")
	m.broadcastsDropped = m.counter("broadcasts_dropped_total", "Messages dropped because a client buffer was full")
	m.snapshotsSent = m.counter("snapshots_sent_total", "Full snapshots sent for resync")

	m.queueSize = m.gauge("queue_size", "Current size of the command queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the command queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Command queue utilization (0-1)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Commands enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Commands dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Commands rejected by a full or closed queue")

	m.workerCount = m.gauge("worker_count", "Station workers running")
	m.workerTickLatency = m.histogram("worker_tick_latency_milliseconds", "Time a worker spends ticking its stations")

	m.leaderboardPlayers = m.gauge("leaderboard_players", "Players on the leaderboard")
	m.leaderboardUpdates = m.counter("leaderboard_updates_total", "Leaderboard score updates")
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Leaderboard query latency")
	m.repositorySnapshotLatency = m.histogram("repository_snapshot_rebuild_milliseconds", "Leaderboard snapshot rebuild time")

	m.persistenceLatency = m.histogramVec("persistence_latency_milliseconds", "Persistence operation latency", "backend", "op")
	m.persistenceErrors = m.counterVec("persistence_errors_total", "Persistence operation failures", "backend", "op")
	m.analyticsEvents = m.counterVec("analytics_events_total", "Analytics events by result", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "GC pause time")
}

// Simulation loop.

// RecordTick records one simulation tick and its wall time.
func RecordTick(durationMs float64) {
	m := current()
	m.ticks.Inc()
	m.tickDuration.Observe(durationMs)
}

// RecordTickOverrun counts a tick that ran past its budget.
func RecordTickOverrun() { current().tickOverruns.Inc() }

// RecordTickClamped counts a tick whose dt was clamped.
func RecordTickClamped() { current().tickClamped.Inc() }

// Gameplay.

// RecordCommand counts a client command; result is accepted, rejected, duplicate or dropped.
func RecordCommand(kind, result string) { current().commands.WithLabelValues(kind, result).Inc() }

// RecordOrder counts an order lifecycle event: spawned, delivered, failed or expired.
func RecordOrder(outcome string) { current().orders.WithLabelValues(outcome).Inc() }

// UpdateActiveOrders sets the active order gauge.
func UpdateActiveOrders(n int) { current().activeOrders.Set(float64(n)) }

// RecordStationTransition counts a station state change.
func RecordStationTransition(kind, from, to string) {
	current().stationTransitions.WithLabelValues(kind, from, to).Inc()
}

// RecordPointsAwarded adds points to a team counter.
func RecordPointsAwarded(team string, points int) {
	if points > 0 {
		current().pointsAwarded.WithLabelValues(team).Add(float64(points))
	}
}

// UpdateTeamScore sets the running score of a team.
func UpdateTeamScore(team string, score int) { current().teamScore.WithLabelValues(team).Set(float64(score)) }

// UpdateMatchRemaining sets the remaining match time in seconds.
func UpdateMatchRemaining(seconds float64) { current().matchRemaining.Set(seconds) }

// RecordMatchStarted counts a started match.
func RecordMatchStarted() { current().matchesStarted.Inc() }

// RecordMatchCompleted counts a match that reached game over and clears team gauges.
func RecordMatchCompleted() {
	m := current()
	m.matchesCompleted.Inc()
	m.teamScore.Reset()
}

// Replication transport.

// UpdateConnectedClients sets the number of connected clients.
func UpdateConnectedClients(n int) { current().connectedClients.Set(float64(n)) }

// RecordBroadcast counts a broadcast message and its size.
func RecordBroadcast(bytes int) {
	m := current()
	m.broadcasts.Inc()
	m.broadcastBytes.Add(float64(bytes))
}

// RecordBroadcastDropped counts a message dropped for a slow client.
func RecordBroadcastDropped() { current().broadcastsDropped.Inc() }

// RecordSnapshotSent counts a resync snapshot.
func RecordSnapshotSent() { current().snapshotsSent.Inc() }

// Command queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { current().queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { current().queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { current().queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { current().queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { current().queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { current().queueEnqueueErrors.Inc() }

// Station workers.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { current().workerCount.Set(float64(count)) }

// RecordWorkerTickLatency records how long a worker took for its partition.
func RecordWorkerTickLatency(latencyMs float64) { current().workerTickLatency.Observe(latencyMs) }

// Leaderboard.

// UpdateLeaderboardPlayers sets the number of ranked players.
func UpdateLeaderboardPlayers(count int) { current().leaderboardPlayers.Set(float64(count)) }

// RecordLeaderboardUpdate increments the leaderboard updates counter.
func RecordLeaderboardUpdate() { current().leaderboardUpdates.Inc() }

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) { current().repositoryQueryLatency.Observe(latencyMs) }

// RecordRepositorySnapshotLatency records a snapshot rebuild.
func RecordRepositorySnapshotLatency(latencyMs float64) {
	current().repositorySnapshotLatency.Observe(latencyMs)
}

// Persistence and analytics.

// RecordPersistence records a persistence call; failed calls also bump the error counter.
func RecordPersistence(backend, op string, latencyMs float64, err error) {
	m := current()
	m.persistenceLatency.WithLabelValues(backend, op).Observe(latencyMs)
	if err != nil {
		m.persistenceErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordAnalyticsEvent counts an analytics event: published, dropped or failed.
func RecordAnalyticsEvent(result string) { current().analyticsEvents.WithLabelValues(result).Inc() }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	current().errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { current().systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { current().systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { current().systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
