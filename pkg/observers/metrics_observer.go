package observers

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "hfsm"

// MetricsObserver exports prometheus metrics about the states a machine
// reports
type MetricsObserver struct {
	machine string
	now     func() time.Time

	visits      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	current     *prometheus.GaugeVec
	timeInState *prometheus.HistogramVec

	mutex   sync.Mutex
	last    string
	entered time.Time
}

// NewMetricsObserver creates a metrics observer for the machine called
// machine. Metrics are registered with reg; a nil reg leaves them
// unregistered.
func NewMetricsObserver(machine string, reg prometheus.Registerer) *MetricsObserver {
	factory := promauto.With(reg)
	return &MetricsObserver{
		machine: machine,
		now:     time.Now,
		visits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "state_visits_total",
				Help:      "Number of times a qualified state was reported",
			},
			[]string{"machine", "state"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "transitions_total",
				Help:      "Number of reported moves between qualified states",
			},
			[]string{"machine", "from", "to"},
		),
		current: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "current_state",
				Help:      "1 for the qualified state the machine currently rests in",
			},
			[]string{"machine", "state"},
		),
		timeInState: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "time_in_state_seconds",
				Help:      "Time spent in a qualified state before the next report",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"machine", "state"},
		),
	}
}

// Receive records one state report
func (o *MetricsObserver) Receive(state string, _ any) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	now := o.now()
	o.visits.WithLabelValues(o.machine, state).Inc()

	if o.last != "" {
		o.transitions.WithLabelValues(o.machine, o.last, state).Inc()
		o.current.WithLabelValues(o.machine, o.last).Set(0)
		o.timeInState.WithLabelValues(o.machine, o.last).Observe(now.Sub(o.entered).Seconds())
	}
	o.current.WithLabelValues(o.machine, state).Set(1)

	o.last = state
	o.entered = now
}

// Reset clears all recorded series
func (o *MetricsObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visits.Reset()
	o.transitions.Reset()
	o.current.Reset()
	o.timeInState.Reset()
	o.last = ""
	o.entered = time.Time{}
}
