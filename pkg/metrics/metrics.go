package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		New,
	),
)

// Metrics groups the credential lifecycle and ledger collectors.
type Metrics struct {
	Issued        *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Revocations   *prometheus.CounterVec
	LedgerAnchor  *prometheus.CounterVec
	LedgerCheck   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_issued_total",
			Help: "Issue calls, split by whether an existing live credential was returned.",
		}, []string{"reused"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_verifications_total",
			Help: "Verification outcomes by reason.",
		}, []string{"reason"}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_revocations_total",
			Help: "Successful revocations by kind (owner, admin).",
		}, []string{"kind"}),
		LedgerAnchor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_anchor_total",
			Help: "Ledger anchor attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		LedgerCheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_check_total",
			Help: "Advisory ledger cross-checks by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.Issued, m.Verifications, m.Revocations, m.LedgerAnchor, m.LedgerCheck} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNop returns collectors registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	m, _ := New(prometheus.NewRegistry())
	return m
}
