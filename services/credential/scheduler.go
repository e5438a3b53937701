package credential

import (
	"context"
	"time"

	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/task"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepBatch = 200

// Sweeper re-enqueues confirmation of audit rows left PENDING, e.g. when the
// original enqueue failed or the worker was down.
type Sweeper struct {
	repo     Repository
	enqueuer task.Enqueuer
	interval time.Duration
	minAge   time.Duration
}

func NewSweeper(repo Repository, enqueuer task.Enqueuer, settings *config.Settings) *Sweeper {
	return &Sweeper{
		repo:     repo,
		enqueuer: enqueuer,
		interval: settings.Ledger.SweepInterval,
		minAge:   settings.Ledger.ConfirmDelay,
	}
}

func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	if s.interval <= 0 {
		zap.L().Warn("[Scheduler] ledger sweep disabled", zap.Duration("interval", s.interval))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started ledger confirmation sweep", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			n, err := s.Sweep(ctx)
			if err != nil {
				zap.L().Error("[Scheduler] ledger sweep failed", zap.Error(err))
				continue
			}
			zap.L().Info("[Scheduler] ledger sweep finished",
				zap.Int("requeued", n),
				zap.Duration("duration", time.Since(start)),
			)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

// Sweep enqueues an immediate confirmation for each stale pending row and returns
// how many were found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	txs, err := s.repo.ListPendingLedgerTransactions(ctx, time.Now().UTC().Add(-s.minAge), sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, tx := range txs {
		enqueueConfirm(ctx, s.enqueuer, tx.TxHash, 0)
	}
	return len(txs), nil
}
