// Package account exposes the owner directory the credential engine consults for
// role-gated actions. Accounts are managed elsewhere; this is a read-only view.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var ErrNotFound = errors.New("account: owner not found")

type Owner struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Role      string    `gorm:"column:role"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Owner) TableName() string { return "owners" }

// Directory resolves ownerId -> {id, role}.
type Directory interface {
	Lookup(ctx context.Context, ownerID int64) (*Owner, error)
}

var Module = fx.Module("account",
	fx.Provide(
		fx.Annotate(NewRepository, fx.As(new(Directory))),
	),
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Lookup(ctx context.Context, ownerID int64) (*Owner, error) {
	var o Owner
	err := r.db.WithContext(ctx).Where("id = ?", ownerID).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup owner %d: %w", ownerID, err)
	}
	return &o, nil
}
