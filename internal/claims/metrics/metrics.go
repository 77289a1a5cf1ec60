package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label used for successful commands; failures are labelled with
// their domain error code.
const OutcomeOK = "ok"

// Metrics provides observability for the claims module.
type Metrics struct {
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Lookups         *prometheus.CounterVec
}

// New registers the claims metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimreg_commands_total",
			Help: "Registry commands applied, by command and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimreg_command_duration_seconds",
			Help:    "Duration of registry commands including store and event sink",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"command"}),
		Lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "claimreg_lookups_total",
			Help: "Claim lookups, by result",
		}, []string{"result"}),
	}
}

// ObserveCommand records one command. Call with time.Now() taken at the start
// of the operation.
func (m *Metrics) ObserveCommand(command, outcome string, start time.Time) {
	m.Commands.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}

// ObserveLookup records a read, labelled "hit" or "miss".
func (m *Metrics) ObserveLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Lookups.WithLabelValues(result).Inc()
}
