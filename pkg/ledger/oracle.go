// Package ledger is the narrow contract to the audit chain the credential engine
// anchors key hashes on. The chain is best effort and never authoritative.
package ledger

import (
	"context"
	"errors"
	"time"
)

const (
	KindSimulator = "simulator"
	KindEthereum  = "ethereum"
)

var (
	ErrReceiptNotFound = errors.New("ledger: receipt not found")
	ErrInvalidKeyHash  = errors.New("ledger: key hash must be 0x-prefixed 32 bytes")
)

// Oracle is implemented by the simulator and the go-ethereum client.
type Oracle interface {
	RegisterKey(ctx context.Context, req RegisterRequest) (*Submission, error)
	RevokeKey(ctx context.Context, keyHash string, ownerID int64) (*Submission, error)
	IsKeyValid(ctx context.Context, keyHash string) (bool, error)
	IsKeyRegistered(ctx context.Context, keyHash string) (bool, error)
	IsKeyRevoked(ctx context.Context, keyHash string) (bool, error)
	// Receipt returns ErrReceiptNotFound while the transaction is not yet mined,
	// or when this oracle instance never saw it.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	Health(ctx context.Context) (*Health, error)
	Kind() string
}

type RegisterRequest struct {
	KeyHash   string
	OwnerID   int64
	ExpiresAt time.Time
	MaxUses   int
	KeyKind   string
}

// Submission describes a transaction accepted by the node. Mined is set when the
// oracle included it synchronously; otherwise the receipt has to be polled.
type Submission struct {
	TxHash      string
	From        string
	To          string
	GasPrice    string
	SubmittedAt time.Time
	Mined       *Receipt
}

type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "CONFIRMED"
	ReceiptFailed    ReceiptStatus = "FAILED"
)

type Receipt struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64
	GasPrice    string
}

type Health struct {
	Kind        string
	Connected   bool
	ChainID     int64
	LatestBlock uint64
	From        string
	Contract    string
}
