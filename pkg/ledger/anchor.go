package ledger

import (
	"context"
	"time"

	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/metrics"

	"go.uber.org/zap"
)

// AnchorKind tags the outcome of an anchoring attempt.
type AnchorKind string

const (
	AnchorAnchored AnchorKind = "ANCHORED"
	AnchorSkipped  AnchorKind = "SKIPPED"
	AnchorFailed   AnchorKind = "FAILED"
)

// References stored on a credential when no transaction hash exists. Neither can be
// mistaken for a chain hash.
const (
	DisabledRef   = "ledger-disabled"
	UnanchoredRef = "unanchored"
)

const (
	OpRegister = "register"
	OpRevoke   = "revoke"
)

type Anchor struct {
	Kind       AnchorKind
	TxHash     string
	Reason     string
	Err        error
	Submission *Submission
}

func Anchored(sub *Submission) Anchor {
	return Anchor{Kind: AnchorAnchored, TxHash: sub.TxHash, Submission: sub}
}

func Skipped(reason string) Anchor {
	return Anchor{Kind: AnchorSkipped, Reason: reason}
}

func Failed(err error) Anchor {
	return Anchor{Kind: AnchorFailed, Reason: err.Error(), Err: err}
}

// Ref is the weak reference persisted in ledger_tx_ref.
func (a Anchor) Ref() string {
	switch a.Kind {
	case AnchorAnchored:
		return a.TxHash
	case AnchorSkipped:
		return DisabledRef
	default:
		return UnanchoredRef
	}
}

// Anchorer applies the enabled flag and the check deadline on top of an Oracle and
// reports every attempt as a tagged outcome instead of an error.
type Anchorer struct {
	oracle       Oracle
	enabled      bool
	checkTimeout time.Duration
	metrics      *metrics.Metrics
}

func NewAnchorer(oracle Oracle, settings *config.Settings, m *metrics.Metrics) *Anchorer {
	return &Anchorer{
		oracle:       oracle,
		enabled:      settings.Ledger.Enabled && oracle != nil,
		checkTimeout: settings.Ledger.Timeout,
		metrics:      m,
	}
}

func (a *Anchorer) Enabled() bool { return a.enabled }

func (a *Anchorer) Oracle() Oracle { return a.oracle }

func (a *Anchorer) Register(ctx context.Context, req RegisterRequest) Anchor {
	if !a.enabled {
		return a.record(OpRegister, Skipped("ledger disabled"))
	}
	sub, err := a.oracle.RegisterKey(ctx, req)
	if err != nil {
		return a.record(OpRegister, Failed(err))
	}
	return a.record(OpRegister, Anchored(sub))
}

func (a *Anchorer) Revoke(ctx context.Context, keyHash string, ownerID int64) Anchor {
	if !a.enabled {
		return a.record(OpRevoke, Skipped("ledger disabled"))
	}
	sub, err := a.oracle.RevokeKey(ctx, keyHash, ownerID)
	if err != nil {
		return a.record(OpRevoke, Failed(err))
	}
	return a.record(OpRevoke, Anchored(sub))
}

// Check is the advisory cross-check: true only when the hash is registered, not
// revoked and valid on chain within the deadline. It never returns an error.
func (a *Anchorer) Check(ctx context.Context, keyHash string) bool {
	if !a.enabled {
		a.metrics.LedgerCheck.WithLabelValues("disabled").Inc()
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.checkTimeout)
	defer cancel()

	outcome, ok := a.check(ctx, keyHash)
	a.metrics.LedgerCheck.WithLabelValues(outcome).Inc()
	return ok
}

func (a *Anchorer) check(ctx context.Context, keyHash string) (string, bool) {
	log := zap.L().With(zap.String("key_hash", keyHash), zap.String("oracle", a.oracle.Kind()))

	registered, err := a.oracle.IsKeyRegistered(ctx, keyHash)
	if err != nil {
		log.Warn("ledger cross-check degraded", zap.Error(err))
		return "error", false
	}
	if !registered {
		return "unregistered", false
	}

	revoked, err := a.oracle.IsKeyRevoked(ctx, keyHash)
	if err != nil {
		log.Warn("ledger cross-check degraded", zap.Error(err))
		return "error", false
	}
	if revoked {
		return "revoked", false
	}

	valid, err := a.oracle.IsKeyValid(ctx, keyHash)
	if err != nil {
		log.Warn("ledger cross-check degraded", zap.Error(err))
		return "error", false
	}
	if !valid {
		return "invalid", false
	}
	return "verified", true
}

func (a *Anchorer) record(op string, anchor Anchor) Anchor {
	a.metrics.LedgerAnchor.WithLabelValues(op, string(anchor.Kind)).Inc()
	return anchor
}
