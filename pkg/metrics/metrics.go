package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "slicecache"

	// Status label values for task and write outcomes
	StatusSuccess = "success"
	StatusError   = "error"
	StatusAborted = "aborted"
	StatusStale   = "stale"

	Cache      = "cache"
	Scheduler  = "scheduler"
	Checkpoint = "checkpoint"
)

// Labels holds constant labels applied to all metrics.
// These distinguish several viewers exporting to the same Prometheus.
type Labels struct {
	Volume      string // volume identifier (e.g., directory name or "phantom")
	Axis        string // slicing plane (e.g., "Axial")
	Environment string // deployment environment (e.g., "development")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Volume != "" {
		labels["volume"] = l.Volume
	}
	if l.Axis != "" {
		labels["axis"] = l.Axis
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	return labels
}

type Metrics struct {
	// Window state
	position      prometheus.Gauge
	windowRadius  prometheus.Gauge
	windowSlots   prometheus.Gauge
	memoryBytes   prometheus.Gauge
	windowGrowths prometheus.Counter

	// Repositioning
	lookups    *prometheus.CounterVec
	fullJumps  prometheus.Counter
	shiftSteps prometheus.Counter

	// Slot tasks
	tasksSubmitted *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   prometheus.Histogram

	// Scheduler
	queued     *prometheus.GaugeVec
	running    prometheus.Gauge
	raised     prometheus.Counter
	queueDelay prometheus.Histogram

	// Session checkpoints
	checkpointWrites *prometheus.CounterVec

	errors *prometheus.CounterVec
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	// Slice renders run from a few milliseconds to seconds on large stacks.
	taskBuckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	m := &Metrics{
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "position",
			Help:      "Slice position currently shown",
		}),
		windowRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "window_radius",
			Help:      "Number of cached slices on each side of the current one",
		}),
		windowSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "window_slots",
			Help:      "Number of slots in the ring",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "estimated_memory_bytes",
			Help:      "Estimated memory held by cached drawables",
		}),
		windowGrowths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "window_growths_total",
			Help:      "Total number of times a cache miss grew the window",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "lookups_total",
			Help:      "Total position changes by result (hit/miss)",
		}, []string{"result"}),
		fullJumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "full_jumps_total",
			Help:      "Total number of position changes that refilled the whole window",
		}),
		shiftSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "shift_steps_total",
			Help:      "Total number of single-slot incremental shifts",
		}),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "tasks_submitted_total",
			Help:      "Total slot tasks submitted by priority and status",
		}, []string{"priority", "status"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "tasks_completed_total",
			Help:      "Total slot tasks finished by status (success/error/aborted/stale)",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Cache,
			Name:      "task_duration_seconds",
			Help:      "Time to render a single slice",
			Buckets:   taskBuckets,
		}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Scheduler,
			Name:      "queued",
			Help:      "Number of tasks waiting for a worker by priority",
		}, []string{"priority"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Scheduler,
			Name:      "running",
			Help:      "Number of tasks currently running",
		}),
		raised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Scheduler,
			Name:      "raised_total",
			Help:      "Total queued tasks promoted to high priority",
		}),
		queueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Scheduler,
			Name:      "queue_delay_seconds",
			Help:      "Time a task waited between submission and start",
			Buckets:   taskBuckets,
		}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Checkpoint,
			Name:      "writes_total",
			Help:      "Total session checkpoint writes by status",
		}, []string{"status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
	}

	err := errors.Join(
		reg.Register(m.position),
		reg.Register(m.windowRadius),
		reg.Register(m.windowSlots),
		reg.Register(m.memoryBytes),
		reg.Register(m.windowGrowths),
		reg.Register(m.lookups),
		reg.Register(m.fullJumps),
		reg.Register(m.shiftSteps),
		reg.Register(m.tasksSubmitted),
		reg.Register(m.tasksCompleted),
		reg.Register(m.taskDuration),
		reg.Register(m.queued),
		reg.Register(m.running),
		reg.Register(m.raised),
		reg.Register(m.queueDelay),
		reg.Register(m.checkpointWrites),
		reg.Register(m.errors),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants.
const (
	ErrTypeSubmit     = "submit"
	ErrTypeTaskPanic  = "task_panic"
	ErrTypeCheckpoint = "checkpoint"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// UpdateWindowMetrics updates the window state gauges.
func (m *Metrics) UpdateWindowMetrics(position, radius, slots int) {
	if m == nil {
		return
	}
	m.position.Set(float64(position))
	m.windowRadius.Set(float64(radius))
	m.windowSlots.Set(float64(slots))
}

// SetEstimatedMemory records the bytes held by cached drawables.
func (m *Metrics) SetEstimatedMemory(bytes int) {
	if m == nil {
		return
	}
	m.memoryBytes.Set(float64(bytes))
}

// RecordLookup records whether the slice for a new position was already cached.
func (m *Metrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(result).Inc()
}

// IncFullJump records a position change that cleared and refilled the window.
func (m *Metrics) IncFullJump() {
	if m == nil {
		return
	}
	m.fullJumps.Inc()
}

// AddShiftSteps records incremental single-slot shifts.
func (m *Metrics) AddShiftSteps(steps int) {
	if m == nil || steps <= 0 {
		return
	}
	m.shiftSteps.Add(float64(steps))
}

// IncWindowGrowth records a miss-triggered window growth.
func (m *Metrics) IncWindowGrowth() {
	if m == nil {
		return
	}
	m.windowGrowths.Inc()
}

// RecordTaskSubmitted records a submission attempt.
// Pass nil error for accepted tasks, non-nil for rejected ones.
func (m *Metrics) RecordTaskSubmitted(priority string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.tasksSubmitted.WithLabelValues(priority, status).Inc()
}

// RecordTaskCompleted records a finished slot task. Duration is only observed
// for successful renders so aborted work does not skew the histogram.
func (m *Metrics) RecordTaskCompleted(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.taskDuration.Observe(durationSeconds)
	}
}

// UpdateSchedulerMetrics updates queue depth and running gauges.
func (m *Metrics) UpdateSchedulerMetrics(high, normal, running int) {
	if m == nil {
		return
	}
	m.queued.WithLabelValues("high").Set(float64(high))
	m.queued.WithLabelValues("normal").Set(float64(normal))
	m.running.Set(float64(running))
}

// IncRaised records a queued task promoted to high priority.
func (m *Metrics) IncRaised() {
	if m == nil {
		return
	}
	m.raised.Inc()
}

// ObserveQueueDelay records how long a task waited before it started.
func (m *Metrics) ObserveQueueDelay(seconds float64) {
	if m == nil {
		return
	}
	m.queueDelay.Observe(seconds)
}

// RecordCheckpointWrite records a session checkpoint write outcome.
func (m *Metrics) RecordCheckpointWrite(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.checkpointWrites.WithLabelValues(status).Inc()
}
