package ledger

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockOracle is a testify double for Oracle.
type MockOracle struct {
	mock.Mock
}

var _ Oracle = (*MockOracle)(nil)

func (m *MockOracle) RegisterKey(ctx context.Context, req RegisterRequest) (*Submission, error) {
	args := m.Called(ctx, req)
	sub, _ := args.Get(0).(*Submission)
	return sub, args.Error(1)
}

func (m *MockOracle) RevokeKey(ctx context.Context, keyHash string, ownerID int64) (*Submission, error) {
	args := m.Called(ctx, keyHash, ownerID)
	sub, _ := args.Get(0).(*Submission)
	return sub, args.Error(1)
}

func (m *MockOracle) IsKeyValid(ctx context.Context, keyHash string) (bool, error) {
	args := m.Called(ctx, keyHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockOracle) IsKeyRegistered(ctx context.Context, keyHash string) (bool, error) {
	args := m.Called(ctx, keyHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockOracle) IsKeyRevoked(ctx context.Context, keyHash string) (bool, error) {
	args := m.Called(ctx, keyHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockOracle) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	args := m.Called(ctx, txHash)
	r, _ := args.Get(0).(*Receipt)
	return r, args.Error(1)
}

func (m *MockOracle) Health(ctx context.Context) (*Health, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(*Health)
	return h, args.Error(1)
}

func (m *MockOracle) Kind() string { return "mock" }
