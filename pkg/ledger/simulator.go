package ledger

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	simulatorChainID  = 1337
	simulatorFrom     = "0x0000000000000000000000000000000000c0ffee"
	simulatorContract = "0x00000000000000000000000000000000000b10c5"
	simulatorGasUsed  = 21000
)

type simulatedKey struct {
	ownerID   int64
	expiresAt time.Time
	revoked   bool
}

// Simulator is a deterministic in-memory oracle. Every write succeeds and is mined
// immediately in its own block.
type Simulator struct {
	mu       sync.Mutex
	keys     map[string]*simulatedKey
	receipts map[string]*Receipt
	block    uint64
	nonce    uint64

	Now func() time.Time
}

func NewSimulator() *Simulator {
	return &Simulator{
		keys:     make(map[string]*simulatedKey),
		receipts: make(map[string]*Receipt),
		Now:      time.Now,
	}
}

var _ Oracle = (*Simulator)(nil)

func (s *Simulator) Kind() string { return KindSimulator }

// RegisterKey records the key and mines a transaction. Registering a hash again
// overwrites its entry.
func (s *Simulator) RegisterKey(_ context.Context, req RegisterRequest) (*Submission, error) {
	if _, err := keyHashBytes(req.KeyHash); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[req.KeyHash] = &simulatedKey{ownerID: req.OwnerID, expiresAt: req.ExpiresAt}
	return s.mine("registerKey", req.KeyHash), nil
}

// RevokeKey marks the key revoked and mines a transaction. The simulator holds no
// state across restarts, so a hash it has never seen is recorded as revoked.
func (s *Simulator) RevokeKey(_ context.Context, keyHash string, ownerID int64) (*Submission, error) {
	if _, err := keyHashBytes(keyHash); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyHash]
	if !ok {
		k = &simulatedKey{ownerID: ownerID}
		s.keys[keyHash] = k
	}
	k.revoked = true
	return s.mine("revokeKey", keyHash), nil
}

func (s *Simulator) IsKeyValid(_ context.Context, keyHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyHash]
	return ok && !k.revoked && s.Now().Before(k.expiresAt), nil
}

func (s *Simulator) IsKeyRegistered(_ context.Context, keyHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[keyHash]
	return ok, nil
}

func (s *Simulator) IsKeyRevoked(_ context.Context, keyHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyHash]
	return ok && k.revoked, nil
}

func (s *Simulator) Receipt(_ context.Context, txHash string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[txHash]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	out := *r
	return &out, nil
}

func (s *Simulator) Health(context.Context) (*Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Health{
		Kind:        KindSimulator,
		Connected:   true,
		ChainID:     simulatorChainID,
		LatestBlock: s.block,
		From:        simulatorFrom,
		Contract:    simulatorContract,
	}, nil
}

// mine must be called with mu held.
func (s *Simulator) mine(method, keyHash string) *Submission {
	s.nonce++
	s.block++
	txHash := hexutil.Encode(crypto.Keccak256(
		[]byte(method),
		[]byte(keyHash),
		[]byte(strconv.FormatUint(s.nonce, 10)),
	))
	receipt := &Receipt{
		TxHash:      txHash,
		Status:      ReceiptConfirmed,
		BlockNumber: s.block,
		GasUsed:     simulatorGasUsed,
		GasPrice:    "0",
	}
	s.receipts[txHash] = receipt
	mined := *receipt
	return &Submission{
		TxHash:      txHash,
		From:        simulatorFrom,
		To:          simulatorContract,
		GasPrice:    "0",
		SubmittedAt: s.Now(),
		Mined:       &mined,
	}
}

func keyHashBytes(keyHash string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(keyHash)
	if err != nil || len(b) != len(out) {
		return out, ErrInvalidKeyHash
	}
	copy(out[:], b)
	return out, nil
}
