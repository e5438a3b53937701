package capability

import (
	"context"
	"testing"
	"time"

	"vaultkey-controlplane/pkg/codestore"
	"vaultkey-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func newTokens(t *testing.T, secret string) (*Tokens, *codestore.MemoryStore) {
	t.Helper()
	store := codestore.NewMemoryStore(0)
	s := &config.Settings{
		Credential: config.CredentialSettings{CapabilityTTL: time.Minute},
		Secrets:    config.SecretSettings{CapabilityKey: []byte(secret)},
	}
	return NewTokens(s, store), store
}

func TestIssueRedeemOnce(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTokens(t, "capability-secret-0123456789")

	issued, err := tokens.Issue(ctx, Claims{CredentialID: 11, OwnerID: 42, CameraID: "cam-7", KeyHash: "0xabc"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)
	require.NotEmpty(t, issued.ID)
	require.WithinDuration(t, time.Now().Add(time.Minute), issued.ExpiresAt, 5*time.Second)
	tok := issued.Token

	claims, err := tokens.Redeem(ctx, tok)
	require.NoError(t, err)
	require.Equal(t, int64(11), claims.CredentialID)
	require.Equal(t, int64(42), claims.OwnerID)
	require.Equal(t, "cam-7", claims.CameraID)
	require.Equal(t, "0xabc", claims.KeyHash)

	_, err = tokens.Redeem(ctx, tok)
	require.ErrorIs(t, err, ErrConsumed)
}

func TestRedeemRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	a, _ := newTokens(t, "capability-secret-aaaaaaaaaaaa")
	b, _ := newTokens(t, "capability-secret-bbbbbbbbbbbb")

	issued, err := a.Issue(ctx, Claims{CredentialID: 1, OwnerID: 1})
	require.NoError(t, err)

	_, err = b.Redeem(ctx, issued.Token)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = a.Redeem(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestRedeemExpired(t *testing.T) {
	ctx := context.Background()
	tokens, _ := newTokens(t, "capability-secret-0123456789")
	now := time.Now()
	tokens.now = func() time.Time { return now }

	issued, err := tokens.Issue(ctx, Claims{CredentialID: 1, OwnerID: 1})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = tokens.Redeem(ctx, issued.Token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	tokens, store := newTokens(t, "capability-secret-0123456789")

	issued, err := tokens.Issue(ctx, Claims{CredentialID: 5, OwnerID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	require.NoError(t, tokens.Discard(ctx, issued.ID))
	_, err = tokens.Redeem(ctx, issued.Token)
	require.ErrorIs(t, err, ErrConsumed)
}
