package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultkey-controlplane/pkg/ledger"
	"vaultkey-controlplane/pkg/rediskey"
	"vaultkey-controlplane/pkg/task"
	"vaultkey-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const confirmMaxRetry = 10

type ConfirmPayload struct {
	TxHash string `json:"tx_hash"`
}

func NewConfirmTask(txHash string) (*asynq.Task, error) {
	payload, err := json.Marshal(ConfirmPayload{TxHash: txHash})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LedgerConfirm, payload), nil
}

// enqueueConfirm schedules a receipt check. The task id is derived from the tx
// hash, so a confirmation already queued is not duplicated.
func enqueueConfirm(ctx context.Context, enqueuer task.Enqueuer, txHash string, delay time.Duration) {
	if enqueuer == nil {
		return
	}
	t, err := NewConfirmTask(txHash)
	if err != nil {
		logger(ctx).Error("failed to build confirm task", zap.Error(err))
		return
	}
	_, err = enqueuer.Enqueue(ctx, t,
		asynq.ProcessIn(delay),
		asynq.MaxRetry(confirmMaxRetry),
		asynq.TaskID(rediskey.BuildLedgerConfirmKey(txHash)),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		logger(ctx).Warn("failed to enqueue ledger confirmation, sweep will retry",
			zap.String("tx_hash", txHash), zap.Error(err))
	}
}

// Confirmer polls the oracle for receipts of pending audit rows. It never reads
// or writes credentials.
type Confirmer struct {
	repo   Repository
	oracle ledger.Oracle
}

type ConfirmerParams struct {
	fx.In

	Repo   Repository
	Oracle ledger.Oracle `optional:"true"`
}

func NewConfirmer(p ConfirmerParams) *Confirmer {
	return &Confirmer{repo: p.Repo, oracle: p.Oracle}
}

// Confirm resolves one pending transaction. A receipt that is not yet available
// is returned as an error so asynq retries with backoff.
func (c *Confirmer) Confirm(ctx context.Context, txHash string) error {
	if c.oracle == nil {
		return fmt.Errorf("ledger disabled: %w", asynq.SkipRetry)
	}
	log := zap.L().With(zap.String("tx_hash", txHash))

	receipt, err := c.oracle.Receipt(ctx, txHash)
	if errors.Is(err, ledger.ErrReceiptNotFound) {
		// simulator receipts live in the process that mined them
		if c.oracle.Kind() == ledger.KindSimulator {
			log.Warn("simulator has no receipt for transaction, leaving it to the issuing process")
			return fmt.Errorf("tx %s: %v: %w", txHash, err, asynq.SkipRetry)
		}
		log.Info("ledger transaction still pending")
		return fmt.Errorf("tx %s: %w", txHash, err)
	}
	if err != nil {
		return fmt.Errorf("fetch receipt %s: %w", txHash, err)
	}

	update := receiptUpdate(receipt, time.Now().UTC())

	if err := c.repo.UpdateLedgerTransaction(ctx, txHash, update); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info("ledger transaction already resolved")
			return nil
		}
		return fmt.Errorf("update ledger transaction %s: %w", txHash, err)
	}

	log.Info("ledger transaction resolved",
		zap.String("status", string(update.Status)),
		zap.Int64("block_number", *update.BlockNumber),
	)
	return nil
}

func receiptUpdate(r *ledger.Receipt, now time.Time) LedgerTxUpdate {
	block := int64(r.BlockNumber)
	update := LedgerTxUpdate{
		Status:      TxConfirmed,
		BlockNumber: &block,
		GasUsed:     int64(r.GasUsed),
		GasPrice:    r.GasPrice,
	}
	if r.Status == ledger.ReceiptFailed {
		update.Status = TxFailed
		msg := "transaction reverted"
		update.ErrorMessage = &msg
	} else {
		update.ConfirmedAt = &now
	}
	return update
}

func (c *Confirmer) HandleConfirm(ctx context.Context, t *asynq.Task) error {
	var p ConfirmPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", taskname.LedgerConfirm, err, asynq.SkipRetry)
	}
	if p.TxHash == "" {
		return fmt.Errorf("empty tx_hash: %w", asynq.SkipRetry)
	}
	return c.Confirm(ctx, p.TxHash)
}

func registerConfirmHandler(mux *asynq.ServeMux, c *Confirmer) {
	mux.HandleFunc(taskname.LedgerConfirm, c.HandleConfirm)
}

