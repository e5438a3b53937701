package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/keycodec"
	"vaultkey-controlplane/pkg/metrics"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func settings(enabled bool) *config.Settings {
	return &config.Settings{Ledger: config.LedgerSettings{
		Enabled:       enabled,
		Mode:          config.LedgerModeSimulator,
		Timeout:       time.Second,
		RetryCount:    2,
		RetryInterval: time.Millisecond,
		FailurePolicy: config.FailurePolicyWarn,
	}}
}

var testHash = keycodec.Hash([]byte("0123456789abcdef0123456789abcdef"))

func TestSimulatorLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sim.Now = func() time.Time { return now }

	sub, err := sim.RegisterKey(ctx, RegisterRequest{KeyHash: testHash, OwnerID: 42, ExpiresAt: now.Add(time.Hour), MaxUses: 90})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sub.TxHash, "0x"))
	require.Len(t, sub.TxHash, 66)
	require.NotNil(t, sub.Mined)
	require.Equal(t, ReceiptConfirmed, sub.Mined.Status)
	require.Equal(t, uint64(1), sub.Mined.BlockNumber)

	again, err := sim.RegisterKey(ctx, RegisterRequest{KeyHash: testHash, OwnerID: 42, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	require.NotEqual(t, sub.TxHash, again.TxHash)

	ok, err := sim.IsKeyValid(ctx, testHash)
	require.NoError(t, err)
	require.True(t, ok)

	receipt, err := sim.Receipt(ctx, sub.TxHash)
	require.NoError(t, err)
	require.Equal(t, ReceiptConfirmed, receipt.Status)
	require.Equal(t, uint64(1), receipt.BlockNumber)

	// ownership is enforced by the store, not the simulator
	rev, err := sim.RevokeKey(ctx, testHash, 7)
	require.NoError(t, err)
	require.NotEqual(t, sub.TxHash, rev.TxHash)

	revoked, _ := sim.IsKeyRevoked(ctx, testHash)
	require.True(t, revoked)
	ok, _ = sim.IsKeyValid(ctx, testHash)
	require.False(t, ok)

	h, err := sim.Health(ctx)
	require.NoError(t, err)
	require.True(t, h.Connected)
	require.Equal(t, uint64(3), h.LatestBlock)

	_, err = sim.Receipt(ctx, "0xdeadbeef")
	require.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestSimulatorRevokesKeyItNeverSaw(t *testing.T) {
	ctx := context.Background()
	issuer := NewSimulator()
	_, err := issuer.RegisterKey(ctx, RegisterRequest{KeyHash: testHash, OwnerID: 42, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	// a restarted process starts from an empty simulator
	restarted := NewSimulator()
	sub, err := restarted.RevokeKey(ctx, testHash, 42)
	require.NoError(t, err)
	require.NotNil(t, sub.Mined)

	revoked, err := restarted.IsKeyRevoked(ctx, testHash)
	require.NoError(t, err)
	require.True(t, revoked)
	ok, err := restarted.IsKeyValid(ctx, testHash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = restarted.Receipt(ctx, sub.TxHash)
	require.NoError(t, err)
}

func TestSimulatorExpiry(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	now := time.Now()
	sim.Now = func() time.Time { return now }

	_, err := sim.RegisterKey(ctx, RegisterRequest{KeyHash: testHash, OwnerID: 1, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	ok, err := sim.IsKeyValid(ctx, testHash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSimulatorRejectsMalformedHash(t *testing.T) {
	_, err := NewSimulator().RegisterKey(context.Background(), RegisterRequest{KeyHash: "abc"})
	require.ErrorIs(t, err, ErrInvalidKeyHash)
	_, err = NewSimulator().RevokeKey(context.Background(), "abc", 1)
	require.ErrorIs(t, err, ErrInvalidKeyHash)
}

func TestAnchorerDisabledSkips(t *testing.T) {
	m := &MockOracle{}
	a := NewAnchorer(m, settings(false), metrics.NewNop())

	anchor := a.Register(context.Background(), RegisterRequest{KeyHash: testHash})
	require.Equal(t, AnchorSkipped, anchor.Kind)
	require.Equal(t, DisabledRef, anchor.Ref())
	require.False(t, a.Check(context.Background(), testHash))

	m.AssertNotCalled(t, "RegisterKey", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "IsKeyRegistered", mock.Anything, mock.Anything)
}

func TestAnchorerFailedIsNotDisguised(t *testing.T) {
	m := &MockOracle{}
	m.On("RegisterKey", mock.Anything, mock.Anything).Return(nil, errors.New("rpc down"))
	m.On("RevokeKey", mock.Anything, testHash, int64(42)).Return(nil, context.DeadlineExceeded)

	a := NewAnchorer(m, settings(true), metrics.NewNop())

	anchor := a.Register(context.Background(), RegisterRequest{KeyHash: testHash})
	require.Equal(t, AnchorFailed, anchor.Kind)
	require.Equal(t, UnanchoredRef, anchor.Ref())
	require.EqualError(t, anchor.Err, "rpc down")
	require.Empty(t, anchor.TxHash)

	anchor = a.Revoke(context.Background(), testHash, 42)
	require.Equal(t, AnchorFailed, anchor.Kind)
	require.ErrorIs(t, anchor.Err, context.DeadlineExceeded)
}

func TestAnchorerAnchored(t *testing.T) {
	a := NewAnchorer(NewSimulator(), settings(true), metrics.NewNop())
	anchor := a.Register(context.Background(), RegisterRequest{KeyHash: testHash, OwnerID: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.Equal(t, AnchorAnchored, anchor.Kind)
	require.Equal(t, anchor.TxHash, anchor.Ref())
	require.True(t, a.Check(context.Background(), testHash))
}

func TestAnchorerCheckDegrades(t *testing.T) {
	cases := []struct {
		name  string
		setup func(m *MockOracle)
	}{
		{"unreachable", func(m *MockOracle) {
			m.On("IsKeyRegistered", mock.Anything, testHash).Return(false, errors.New("dial tcp: refused"))
		}},
		{"unregistered", func(m *MockOracle) {
			m.On("IsKeyRegistered", mock.Anything, testHash).Return(false, nil)
		}},
		{"revoked", func(m *MockOracle) {
			m.On("IsKeyRegistered", mock.Anything, testHash).Return(true, nil)
			m.On("IsKeyRevoked", mock.Anything, testHash).Return(true, nil)
		}},
		{"invalid", func(m *MockOracle) {
			m.On("IsKeyRegistered", mock.Anything, testHash).Return(true, nil)
			m.On("IsKeyRevoked", mock.Anything, testHash).Return(false, nil)
			m.On("IsKeyValid", mock.Anything, testHash).Return(false, nil)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &MockOracle{}
			tc.setup(m)
			a := NewAnchorer(m, settings(true), metrics.NewNop())
			require.False(t, a.Check(context.Background(), testHash))
			m.AssertExpectations(t)
		})
	}
}

func TestAnchorerCheckHonoursTimeout(t *testing.T) {
	m := &MockOracle{}
	m.On("IsKeyRegistered", mock.Anything, testHash).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(false, context.DeadlineExceeded)

	s := settings(true)
	s.Ledger.Timeout = 20 * time.Millisecond
	a := NewAnchorer(m, s, metrics.NewNop())

	start := time.Now()
	require.False(t, a.Check(context.Background(), testHash))
	require.Less(t, time.Since(start), time.Second)
}

func TestCallPolicyRetriesConfiguredTimes(t *testing.T) {
	p := callPolicy{timeout: time.Second, retries: 2, interval: time.Millisecond}

	calls := 0
	err := p.do(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = p.do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestCallPolicyNoRetries(t *testing.T) {
	p := callPolicy{timeout: time.Second, retries: 0, interval: time.Millisecond}
	calls := 0
	err := p.do(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestCallPolicyPermanentErrorsStopRetrying(t *testing.T) {
	p := callPolicy{timeout: time.Second, retries: 5, interval: time.Millisecond}
	calls := 0
	err := p.do(context.Background(), "test", func(context.Context) error {
		calls++
		return ErrReceiptNotFound
	})
	require.ErrorIs(t, err, ErrReceiptNotFound)
	require.Equal(t, 1, calls)
}

func TestCallPolicyBoundsEachAttempt(t *testing.T) {
	p := callPolicy{timeout: 10 * time.Millisecond, retries: 1, interval: time.Millisecond}
	calls := 0
	err := p.do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, calls)
}

func TestRegistryABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(KeyRegistryABI))
	require.NoError(t, err)
	for _, name := range []string{"registerKey", "revokeKey", "isKeyValid", "isKeyRegistered", "isKeyRevoked"} {
		_, ok := parsed.Methods[name]
		require.True(t, ok, name)
	}
	require.True(t, parsed.Methods["isKeyValid"].IsConstant())
}

func TestParsePrivateKey(t *testing.T) {
	_, err := parsePrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	_, err = parsePrivateKey("not-a-key")
	require.Error(t, err)
}
