// Package capability mints the short-lived, single-use tokens handed out after a
// successful verification. They carry no key material.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vaultkey-controlplane/pkg/codestore"
	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/rediskey"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/fx"
)

const Issuer = "vaultkey"

var (
	ErrInvalid  = errors.New("capability: invalid token")
	ErrConsumed = errors.New("capability: token already used or expired")
)

var Module = fx.Module("capability",
	fx.Provide(NewTokens),
)

type Claims struct {
	CredentialID int64  `json:"cid,string"`
	OwnerID      int64  `json:"oid,string"`
	CameraID     string `json:"cam"`
	KeyHash      string `json:"kh"`
	jwt.RegisteredClaims
}

// Tokens issues and redeems capability tokens. Outstanding token ids live in the
// code store so each token can be redeemed once.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	store  codestore.Store
	now    func() time.Time
}

func NewTokens(settings *config.Settings, store codestore.Store) *Tokens {
	return &Tokens{
		secret: settings.Secrets.CapabilityKey,
		ttl:    settings.Credential.CapabilityTTL,
		store:  store,
		now:    time.Now,
	}
}

// Issued is a minted capability token.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

func (t *Tokens) Issue(ctx context.Context, c Claims) (*Issued, error) {
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl)
	jti := uuid.NewString()

	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    Issuer,
		Subject:   strconv.FormatInt(c.OwnerID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("sign capability: %w", err)
	}

	if err := t.store.Put(ctx, rediskey.BuildCapabilityKey(jti), strconv.FormatInt(c.CredentialID, 10), t.ttl); err != nil {
		return nil, fmt.Errorf("record capability: %w", err)
	}

	return &Issued{Token: signed, ID: jti, ExpiresAt: expiresAt}, nil
}

// Discard invalidates an issued token before it is redeemed.
func (t *Tokens) Discard(ctx context.Context, id string) error {
	return t.store.Delete(ctx, rediskey.BuildCapabilityKey(id))
}

// Redeem validates token and consumes it. A second redeem of the same token fails
// with ErrConsumed.
func (t *Tokens) Redeem(ctx context.Context, token string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ID == "" {
		return nil, ErrInvalid
	}

	ok, err := t.store.Consume(ctx, rediskey.BuildCapabilityKey(c.ID), strconv.FormatInt(c.CredentialID, 10))
	if err != nil {
		return nil, fmt.Errorf("consume capability: %w", err)
	}
	if !ok {
		return nil, ErrConsumed
	}
	return &c, nil
}
