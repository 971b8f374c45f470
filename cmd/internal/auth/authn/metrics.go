package authn

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Login outcomes, used as the metric label.
const (
	outcomeSuccess     = "success"
	outcomeInvalid     = "invalid_credentials"
	outcomeLocked      = "locked"
	outcomeMFARequired = "mfa_required"
	outcomeError       = "error"
)

type metrics struct {
	logins *prometheus.CounterVec
}

func newMetrics() metrics {
	return metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	if err := reg.Register(m.logins); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.logins = existing
			}
		}
	}
}
