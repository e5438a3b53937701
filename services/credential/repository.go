package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultkey-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
)

// sortable maps accepted sort fields to columns.
var sortable = map[string]string{
	"issued_at":      "issued_at",
	"expires_at":     "expires_at",
	"remaining_uses": "remaining_uses",
	"last_used_at":   "last_used_at",
	"status":         "status",
}

const defaultSortField = "issued_at"

type Repository interface {
	FindLiveByOwner(ctx context.Context, ownerID int64, now time.Time) (*Credential, error)
	FindByToken(ctx context.Context, token string) (*Credential, error)
	FindByHash(ctx context.Context, keyHash string) (*Credential, error)
	FindByID(ctx context.Context, id int64) (*Credential, error)
	// CreateIfNoLive inserts c unless the owner already holds a live credential,
	// in which case that credential is returned and created is false.
	CreateIfNoLive(ctx context.Context, c *Credential, now time.Time) (winner *Credential, created bool, err error)
	// ConsumeUse decrements remaining_uses by one if the credential is still live.
	ConsumeUse(ctx context.Context, id int64, now time.Time) (bool, error)
	// MarkRevoked moves an ACTIVE, unexpired credential to REVOKED.
	MarkRevoked(ctx context.Context, id int64, reason string, now time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID int64, page pagination.Page) ([]*Credential, int64, error)

	CreateLedgerTransaction(ctx context.Context, tx *LedgerTransaction) error
	UpdateLedgerTransaction(ctx context.Context, txHash string, update LedgerTxUpdate) error
	FindLedgerTransaction(ctx context.Context, txHash string) (*LedgerTransaction, error)
	ListPendingLedgerTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]*LedgerTransaction, error)
}

type LedgerTxUpdate struct {
	Status       TxStatus
	BlockNumber  *int64
	GasUsed      int64
	GasPrice     string
	ConfirmedAt  *time.Time
	ErrorMessage *string
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func liveScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND expires_at > ? AND remaining_uses > 0", StatusActive, now)
	}
}

func (r *gormRepository) FindLiveByOwner(ctx context.Context, ownerID int64, now time.Time) (*Credential, error) {
	return findLive(r.db.WithContext(ctx), ownerID, now)
}

func findLive(db *gorm.DB, ownerID int64, now time.Time) (*Credential, error) {
	var c Credential
	err := db.Scopes(liveScope(now)).
		Where("owner_id = ?", ownerID).
		Order("issued_at DESC").
		Order("id DESC").
		Take(&c).Error
	return one(&c, err)
}

func (r *gormRepository) FindByToken(ctx context.Context, token string) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).Where("bearer_token = ?", token).Take(&c).Error
	return one(&c, err)
}

func (r *gormRepository) FindByHash(ctx context.Context, keyHash string) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).Where("key_hash = ?", keyHash).Take(&c).Error
	return one(&c, err)
}

func (r *gormRepository) FindByID(ctx context.Context, id int64) (*Credential, error) {
	var c Credential
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	return one(&c, err)
}

func (r *gormRepository) CreateIfNoLive(ctx context.Context, c *Credential, now time.Time) (*Credential, bool, error) {
	var (
		winner  *Credential
		created bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// serializes issuance per owner across instances; released on commit
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", c.OwnerID).Error; err != nil {
				return fmt.Errorf("lock owner %d: %w", c.OwnerID, err)
			}
		}

		existing, err := findLive(tx, c.OwnerID, now)
		switch {
		case err == nil:
			winner = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if err := tx.Create(c).Error; err != nil {
			return err
		}
		winner, created = c, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return winner, created, nil
}

func (r *gormRepository) ConsumeUse(ctx context.Context, id int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ?", id).
		Scopes(liveScope(now)).
		Updates(map[string]interface{}{
			"remaining_uses": gorm.Expr("remaining_uses - 1"),
			"last_used_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkRevoked(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Credential{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, StatusActive, now).
		Updates(map[string]interface{}{
			"status":            StatusRevoked,
			"revoked_at":        now,
			"revocation_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ListByOwner(ctx context.Context, ownerID int64, page pagination.Page) ([]*Credential, int64, error) {
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&Credential{}).Where("owner_id = ?", ownerID)
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []*Credential
	if err := base().Scopes(page.Scope(sortable)).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *gormRepository) CreateLedgerTransaction(ctx context.Context, tx *LedgerTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *gormRepository) UpdateLedgerTransaction(ctx context.Context, txHash string, u LedgerTxUpdate) error {
	updates := map[string]interface{}{
		"status":        u.Status,
		"block_number":  u.BlockNumber,
		"gas_used":      u.GasUsed,
		"confirmed_at":  u.ConfirmedAt,
		"error_message": u.ErrorMessage,
	}
	if u.GasPrice != "" {
		updates["gas_price"] = u.GasPrice
	}

	res := r.db.WithContext(ctx).
		Model(&LedgerTransaction{}).
		Where("tx_hash = ? AND status = ?", txHash, TxPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) FindLedgerTransaction(ctx context.Context, txHash string) (*LedgerTransaction, error) {
	var tx LedgerTransaction
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).Take(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) ListPendingLedgerTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]*LedgerTransaction, error) {
	var txs []*LedgerTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", TxPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func one(c *Credential, err error) (*Credential, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
