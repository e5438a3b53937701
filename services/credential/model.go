package credential

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// RevocationKind is the closed set of revocation paths.
type RevocationKind string

const (
	RevocationOwner RevocationKind = "owner"
	RevocationAdmin RevocationKind = "admin"
)

func (k RevocationKind) Label() string {
	switch k {
	case RevocationOwner:
		return "Revoked by owner"
	case RevocationAdmin:
		return "Emergency revocation by administrator"
	default:
		return string(k)
	}
}

type Credential struct {
	ID                int64      `gorm:"column:id;primaryKey;autoIncrement:false"`
	OwnerID           int64      `gorm:"column:owner_id;not null;index:idx_credentials_owner_status,priority:1"`
	StoredKeyEncoding string     `gorm:"column:stored_key_encoding;not null"`
	KeyHash           string     `gorm:"column:key_hash;size:66;not null;uniqueIndex:idx_credentials_key_hash"`
	BearerToken       string     `gorm:"column:bearer_token;size:128;not null;uniqueIndex:idx_credentials_bearer_token"`
	LedgerTxRef       string     `gorm:"column:ledger_tx_ref;size:128"`
	AnchorStatus      string     `gorm:"column:anchor_status;size:16"`
	KeyKind           string     `gorm:"column:key_kind;size:64"`
	Status            Status     `gorm:"column:status;size:16;not null;index:idx_credentials_owner_status,priority:2"`
	IssuedAt          time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt         time.Time  `gorm:"column:expires_at;not null"`
	RemainingUses     int        `gorm:"column:remaining_uses;not null"`
	LastUsedAt        *time.Time `gorm:"column:last_used_at"`
	RevokedAt         *time.Time `gorm:"column:revoked_at"`
	RevocationReason  *string    `gorm:"column:revocation_reason"`
}

func (Credential) TableName() string { return "credentials" }

// EffectiveStatus applies lazy expiry: an ACTIVE row past its expiry reads as EXPIRED.
func (c *Credential) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusActive && !now.Before(c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}

// IsLive reports ACTIVE, unexpired and with uses left.
func (c *Credential) IsLive(now time.Time) bool {
	return c.EffectiveStatus(now) == StatusActive && c.RemainingUses > 0
}

type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxConfirmed TxStatus = "CONFIRMED"
	TxFailed    TxStatus = "FAILED"
)

type TxType string

const (
	TxKeyIssuance   TxType = "KEY_ISSUANCE"
	TxKeyRevocation TxType = "KEY_REVOCATION"
)

// LedgerTransaction is the append-only audit record of one anchor attempt. It is
// linked to a credential only by ledger_tx_ref string equality.
type LedgerTransaction struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	TxHash       string         `gorm:"column:tx_hash;size:128;not null;uniqueIndex:idx_ledger_transactions_tx_hash"`
	KeyHash      string         `gorm:"column:key_hash;size:66;not null"`
	BlockNumber  *int64         `gorm:"column:block_number"`
	FromAddress  string         `gorm:"column:from_address;size:64"`
	ToAddress    string         `gorm:"column:to_address;size:64"`
	GasUsed      int64          `gorm:"column:gas_used"`
	GasPrice     string         `gorm:"column:gas_price;size:78"`
	Status       TxStatus       `gorm:"column:status;size:16;not null;index:idx_ledger_transactions_status,priority:1"`
	TxType       TxType         `gorm:"column:tx_type;size:32;not null"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;index:idx_ledger_transactions_status,priority:2"`
	ConfirmedAt  *time.Time     `gorm:"column:confirmed_at"`
	ErrorMessage *string        `gorm:"column:error_message"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// apply copies a resolved receipt onto a row that has not been written yet.
func (t *LedgerTransaction) apply(u LedgerTxUpdate) {
	t.Status = u.Status
	t.BlockNumber = u.BlockNumber
	t.GasUsed = u.GasUsed
	if u.GasPrice != "" {
		t.GasPrice = u.GasPrice
	}
	t.ConfirmedAt = u.ConfirmedAt
	t.ErrorMessage = u.ErrorMessage
}

// IssuedCredential is returned by Issue. BearerToken is the only secret that ever
// leaves the service.
type IssuedCredential struct {
	ID            int64     `json:"id,string"`
	OwnerID       int64     `json:"owner_id,string"`
	KeyHash       string    `json:"key_hash"`
	BearerToken   string    `json:"bearer_token"`
	KeyKind       string    `json:"key_kind"`
	LedgerTxRef   string    `json:"ledger_tx_ref"`
	AnchorStatus  string    `json:"anchor_status"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	RemainingUses int       `json:"remaining_uses"`
	Reused        bool      `json:"reused"`
}

type Reason string

const (
	ReasonValid        Reason = "VALID"
	ReasonInvalidToken Reason = "INVALID_TOKEN"
	ReasonNotOwner     Reason = "NOT_OWNER"
	ReasonStateInvalid Reason = "STATE_INVALID"
)

var reasonMessages = map[Reason]string{
	ReasonValid:        "credential verified",
	ReasonInvalidToken: "invalid credential token",
	ReasonNotOwner:     "credential does not belong to the caller",
	ReasonStateInvalid: "credential is revoked, expired or exhausted",
}

func (r Reason) Message() string { return reasonMessages[r] }

type VerificationResult struct {
	Valid               bool       `json:"valid"`
	Reason              Reason     `json:"reason"`
	Message             string     `json:"message"`
	RemainingUses       int        `json:"remaining_uses"`
	LedgerVerified      bool       `json:"ledger_verified"`
	CapabilityToken     string     `json:"capability_token,omitempty"`
	CapabilityExpiresAt *time.Time `json:"capability_expires_at,omitempty"`
}

func failed(r Reason) *VerificationResult {
	return &VerificationResult{Reason: r, Message: r.Message()}
}

// CredentialDetail is the read-only view; it never carries the bearer token or the
// stored key encoding.
type CredentialDetail struct {
	ID               int64      `json:"id,string"`
	OwnerID          int64      `json:"owner_id,string"`
	KeyHash          string     `json:"key_hash"`
	KeyKind          string     `json:"key_kind"`
	Status           Status     `json:"status"`
	LedgerTxRef      string     `json:"ledger_tx_ref"`
	AnchorStatus     string     `json:"anchor_status"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RemainingUses    int        `json:"remaining_uses"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason *string    `json:"revocation_reason,omitempty"`
}

func toDetail(c *Credential, now time.Time) *CredentialDetail {
	return &CredentialDetail{
		ID:               c.ID,
		OwnerID:          c.OwnerID,
		KeyHash:          c.KeyHash,
		KeyKind:          c.KeyKind,
		Status:           c.EffectiveStatus(now),
		LedgerTxRef:      c.LedgerTxRef,
		AnchorStatus:     c.AnchorStatus,
		IssuedAt:         c.IssuedAt,
		ExpiresAt:        c.ExpiresAt,
		RemainingUses:    c.RemainingUses,
		LastUsedAt:       c.LastUsedAt,
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
	}
}

type ListParams struct {
	OwnerID   int64
	Page      int
	Size      int
	SortField string
	SortDir   string
}

type CredentialSummary struct {
	ID            int64      `json:"id,string"`
	KeyHash       string     `json:"key_hash"`
	Status        Status     `json:"status"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RemainingUses int        `json:"remaining_uses"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

type CredentialPage struct {
	Items   []*CredentialSummary `json:"items"`
	Page    int                  `json:"page"`
	Size    int                  `json:"size"`
	Total   int64                `json:"total"`
	HasMore bool                 `json:"has_more"`
}

// KeyMaterial is handed to the in-process decryption step only.
type KeyMaterial struct {
	CredentialID int64
	OwnerID      int64
	CameraID     string
	KeyHash      string
	Key          []byte
}

type LedgerHealth struct {
	Enabled     bool   `json:"enabled"`
	Kind        string `json:"kind,omitempty"`
	Connected   bool   `json:"connected"`
	ChainID     int64  `json:"chain_id,omitempty"`
	LatestBlock uint64 `json:"latest_block,omitempty"`
	From        string `json:"from,omitempty"`
	Contract    string `json:"contract,omitempty"`
	Error       string `json:"error,omitempty"`
}
