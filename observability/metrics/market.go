package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"ctfadapter/core/events"
	"ctfadapter/core/types"
	"ctfadapter/native/market"
)

type MarketMetrics struct {
	questionsInitialized prometheus.Counter
	questionResets       prometheus.Counter
	questionsFlagged     prometheus.Counter
	resolutions          *prometheus.CounterVec
	emergencyResolutions prometheus.Counter
	pauseTransitions     *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			questionsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_questions_initialized_total",
				Help: "Count of questions registered with the adapter.",
			}),
			questionResets: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_question_resets_total",
				Help: "Count of oracle requests re-issued after a dispute or admin failsafe.",
			}),
			questionsFlagged: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_questions_flagged_total",
				Help: "Count of questions flagged for emergency resolution.",
			}),
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_resolutions_total",
				Help: "Count of oracle-driven resolutions by outcome.",
			}, []string{"outcome"}),
			emergencyResolutions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_emergency_resolutions_total",
				Help: "Count of admin emergency resolutions.",
			}),
			pauseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_pause_transitions_total",
				Help: "Count of pause and unpause transitions.",
			}, []string{"state"}),
		}
		prometheus.MustRegister(
			marketRegistry.questionsInitialized,
			marketRegistry.questionResets,
			marketRegistry.questionsFlagged,
			marketRegistry.resolutions,
			marketRegistry.emergencyResolutions,
			marketRegistry.pauseTransitions,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) QuestionInitialized()    { m.questionsInitialized.Inc() }
func (m *MarketMetrics) QuestionReset()          { m.questionResets.Inc() }
func (m *MarketMetrics) QuestionFlagged()        { m.questionsFlagged.Inc() }
func (m *MarketMetrics) Resolved(outcome string) { m.resolutions.WithLabelValues(outcome).Inc() }
func (m *MarketMetrics) EmergencyResolved()      { m.emergencyResolutions.Inc() }
func (m *MarketMetrics) PauseTransition(state string) {
	m.pauseTransitions.WithLabelValues(state).Inc()
}

var _ events.Emitter = (*MarketMetrics)(nil)

// Emit maps engine events onto counters so the metrics can sit directly on
// the engine's emitter fan-out.
func (m *MarketMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch evt.EventType() {
	case market.EventTypeInitialized:
		m.QuestionInitialized()
	case market.EventTypeReset:
		m.QuestionReset()
	case market.EventTypeFlagged:
		m.QuestionFlagged()
	case market.EventTypeResolved:
		outcome := "unknown"
		if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
			if payload := carrier.Event(); payload != nil && payload.Attributes["outcome"] != "" {
				outcome = payload.Attributes["outcome"]
			}
		}
		m.Resolved(outcome)
	case market.EventTypeEmergencyResolved:
		m.EmergencyResolved()
	case market.EventTypePaused:
		m.PauseTransition("paused")
	case market.EventTypeUnpaused:
		m.PauseTransition("unpaused")
	}
}
