package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes
const (
	RefreshOK       = "ok"
	RefreshReplay   = "replay"
	RefreshExpired  = "expired"
	RefreshRevoked  = "revoked"
	RefreshNotFound = "not_found"
	RefreshInvalid  = "invalid"
	RefreshError    = "error"
)

// Collector counts auth outcomes. A nil *Collector is valid and records nothing.
type Collector struct {
	logins      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	lockouts    prometheus.Counter
	revocations prometheus.Counter
	infraErrors *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeauth",
			Name:      "logins_total",
			Help:      "Sessions created, by whether the device was flagged.",
		}, []string{"suspicious"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeauth",
			Name:      "refresh_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeauth",
			Name:      "lockouts_total",
			Help:      "Identifiers locked after too many failed logins.",
		}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeauth",
			Name:      "revocations_total",
			Help:      "Token ids written to the revocation registry.",
		}),
		infraErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeauth",
			Name:      "infrastructure_errors_total",
			Help:      "Requests rejected because a backing store failed.",
		}, []string{"component"}),
	}

	for _, col := range []prometheus.Collector{c.logins, c.refreshes, c.lockouts, c.revocations, c.infraErrors} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Login(suspicious bool) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(strconv.FormatBool(suspicious)).Inc()
}

func (c *Collector) Refresh(outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) Lockout() {
	if c == nil {
		return
	}
	c.lockouts.Inc()
}

func (c *Collector) Revoked(n int) {
	if c == nil {
		return
	}
	c.revocations.Add(float64(n))
}

func (c *Collector) InfrastructureError(component string) {
	if c == nil {
		return
	}
	c.infraErrors.WithLabelValues(component).Inc()
}
