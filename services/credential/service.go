package credential

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"vaultkey-controlplane/pkg/accesscontrol"
	"vaultkey-controlplane/pkg/capability"
	"vaultkey-controlplane/pkg/config"
	"vaultkey-controlplane/pkg/db/pagination"
	"vaultkey-controlplane/pkg/errutil"
	"vaultkey-controlplane/pkg/featureflags"
	"vaultkey-controlplane/pkg/keycodec"
	"vaultkey-controlplane/pkg/ledger"
	"vaultkey-controlplane/pkg/metrics"
	"vaultkey-controlplane/pkg/task"
	"vaultkey-controlplane/services/account"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

// Service is the credential lifecycle engine. The store is the only source of
// truth; the ledger is consulted best effort and never while a lock is held.
type Service struct {
	repo      Repository
	codec     *keycodec.Codec
	anchorer  *ledger.Anchorer
	tokens    *capability.Tokens
	directory account.Directory
	enforcer  *accesscontrol.Enforcer
	enqueuer  task.Enqueuer
	flags     featureflags.FeatureFlag
	node      *snowflake.Node
	metrics   *metrics.Metrics

	settings      config.CredentialSettings
	failurePolicy string
	confirmDelay  time.Duration

	issueGroup singleflight.Group
	tracer     trace.Tracer
	now        func() time.Time
}

type ServiceParams struct {
	fx.In

	Repo      Repository
	Codec     *keycodec.Codec
	Anchorer  *ledger.Anchorer
	Tokens    *capability.Tokens
	Directory account.Directory
	Enforcer  *accesscontrol.Enforcer
	Enqueuer  task.Enqueuer            `optional:"true"`
	Flags     featureflags.FeatureFlag `optional:"true"`
	Node      *snowflake.Node
	Metrics   *metrics.Metrics
	Settings  *config.Settings
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo:          p.Repo,
		codec:         p.Codec,
		anchorer:      p.Anchorer,
		tokens:        p.Tokens,
		directory:     p.Directory,
		enforcer:      p.Enforcer,
		enqueuer:      p.Enqueuer,
		flags:         p.Flags,
		node:          p.Node,
		metrics:       p.Metrics,
		settings:      p.Settings.Credential,
		failurePolicy: p.Settings.Ledger.FailurePolicy,
		confirmDelay:  p.Settings.Ledger.ConfirmDelay,
		tracer:        otel.Tracer("credential"),
		now:           func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zap.L()
	}
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// fingerprint identifies a bearer token in logs without revealing it.
func fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

// Issue returns the owner's live credential if there is one, otherwise mints,
// anchors and stores a new one.
func (s *Service) Issue(ctx context.Context, ownerID int64) (*IssuedCredential, error) {
	ctx, span := s.tracer.Start(ctx, "credential.Issue", trace.WithAttributes(attribute.Int64("owner_id", ownerID)))
	defer span.End()

	if ownerID <= 0 {
		return nil, errutil.BadRequest("owner_id must be a positive integer", nil)
	}

	// followers wait on the leader's call, so one caller cancelling must not fail them all
	v, err, _ := s.issueGroup.Do(strconv.FormatInt(ownerID, 10), func() (interface{}, error) {
		return s.issue(context.WithoutCancel(ctx), ownerID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	issued := *v.(*IssuedCredential)
	s.metrics.Issued.WithLabelValues(strconv.FormatBool(issued.Reused)).Inc()
	return &issued, nil
}

func (s *Service) issue(ctx context.Context, ownerID int64) (*IssuedCredential, error) {
	log := logger(ctx).With(zap.Int64("owner_id", ownerID))
	now := s.now()

	live, err := s.repo.FindLiveByOwner(ctx, ownerID, now)
	switch {
	case err == nil:
		log.Info("returning existing live credential", zap.Int64("credential_id", live.ID))
		return toIssued(live, true), nil
	case !errors.Is(err, ErrNotFound):
		log.Error("failed to look up live credential", zap.Error(err))
		return nil, errutil.Internal("failed to issue credential", err)
	}

	key, err := s.codec.GenerateKey(s.settings.KeySize)
	if err != nil {
		return nil, errutil.Internal("failed to generate key material", err)
	}
	encoded, err := s.codec.Encode(key)
	if err != nil {
		return nil, errutil.Internal("failed to encode key material", err)
	}
	token, err := s.codec.GenerateToken(s.settings.TokenSize)
	if err != nil {
		return nil, errutil.Internal("failed to generate bearer token", err)
	}
	keyHash := keycodec.Hash(key)
	expiresAt := now.Add(s.settings.TTL)

	anchor := s.anchorer.Register(ctx, ledger.RegisterRequest{
		KeyHash:   keyHash,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt,
		MaxUses:   s.settings.DefaultUses,
		KeyKind:   s.settings.KeyKind,
	})
	s.recordAnchor(ctx, anchor, keyHash, TxKeyIssuance, map[string]interface{}{"owner_id": ownerID})
	if err := s.applyFailurePolicy(ctx, anchor, ledger.OpRegister, keyHash); err != nil {
		return nil, err
	}

	cred := &Credential{
		ID:                s.node.Generate().Int64(),
		OwnerID:           ownerID,
		StoredKeyEncoding: encoded,
		KeyHash:           keyHash,
		BearerToken:       token,
		LedgerTxRef:       anchor.Ref(),
		AnchorStatus:      string(anchor.Kind),
		KeyKind:           s.settings.KeyKind,
		Status:            StatusActive,
		IssuedAt:          now,
		ExpiresAt:         expiresAt,
		RemainingUses:     s.settings.DefaultUses,
	}

	winner, created, err := s.repo.CreateIfNoLive(ctx, cred, now)
	if err != nil {
		log.Error("failed to persist credential", zap.String("key_hash", keyHash), zap.Error(err))
		return nil, errutil.Internal("failed to issue credential", err)
	}
	if !created {
		log.Warn("concurrent issuance won by another request, anchored key left orphaned",
			zap.Int64("credential_id", winner.ID),
			zap.String("orphan_key_hash", keyHash),
		)
		return toIssued(winner, true), nil
	}

	log.Info("credential issued",
		zap.Int64("credential_id", cred.ID),
		zap.String("key_hash", keyHash),
		zap.String("anchor", string(anchor.Kind)),
		zap.String("token_fp", fingerprint(token)),
	)
	return toIssued(cred, false), nil
}

// Verify runs the validation pipeline. Validation failures are reported in the
// result; the error is reserved for internal failures.
func (s *Service) Verify(ctx context.Context, bearerToken string, ownerIDClaim int64, cameraID string) (*VerificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "credential.Verify")
	defer span.End()

	res, err := s.verify(ctx, bearerToken, ownerIDClaim, cameraID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("reason", string(res.Reason)))
	s.metrics.Verifications.WithLabelValues(string(res.Reason)).Inc()
	return res, nil
}

func (s *Service) verify(ctx context.Context, bearerToken string, ownerIDClaim int64, cameraID string) (*VerificationResult, error) {
	log := logger(ctx).With(
		zap.String("token_fp", fingerprint(bearerToken)),
		zap.Int64("owner_claim", ownerIDClaim),
		zap.String("camera_id", cameraID),
	)
	now := s.now()

	if bearerToken == "" {
		return failed(ReasonInvalidToken), nil
	}
	c, err := s.repo.FindByToken(ctx, bearerToken)
	if errors.Is(err, ErrNotFound) {
		log.Info("verification rejected", zap.String("reason", string(ReasonInvalidToken)))
		return failed(ReasonInvalidToken), nil
	}
	if err != nil {
		log.Error("failed to resolve credential", zap.Error(err))
		return nil, errutil.Internal("failed to verify credential", err)
	}

	if subtle.ConstantTimeCompare([]byte(c.BearerToken), []byte(bearerToken)) != 1 {
		return failed(ReasonInvalidToken), nil
	}

	if c.OwnerID != ownerIDClaim {
		log.Warn("verification rejected", zap.String("reason", string(ReasonNotOwner)), zap.Int64("credential_id", c.ID))
		return failed(ReasonNotOwner), nil
	}

	if !c.IsLive(now) {
		log.Info("verification rejected",
			zap.String("reason", string(ReasonStateInvalid)),
			zap.Int64("credential_id", c.ID),
			zap.String("status", string(c.EffectiveStatus(now))),
			zap.Int("remaining_uses", c.RemainingUses),
		)
		return failed(ReasonStateInvalid), nil
	}

	ledgerVerified := false
	if s.crossCheckEnabled(ctx) {
		ledgerVerified = s.anchorer.Check(ctx, c.KeyHash)
	}
	if !ledgerVerified && s.anchorer.Enabled() {
		log.Warn("ledger cross-check not confirmed, continuing on local record", zap.String("key_hash", c.KeyHash))
	}

	capTok, err := s.tokens.Issue(ctx, capability.Claims{
		CredentialID: c.ID,
		OwnerID:      c.OwnerID,
		CameraID:     cameraID,
		KeyHash:      c.KeyHash,
	})
	if err != nil {
		log.Error("failed to mint capability token", zap.Error(err))
		return nil, errutil.Internal("failed to verify credential", err)
	}

	consumed, err := s.repo.ConsumeUse(ctx, c.ID, now)
	if err != nil || !consumed {
		if derr := s.tokens.Discard(ctx, capTok.ID); derr != nil {
			log.Error("failed to discard capability token", zap.Error(derr))
		}
	}
	if err != nil {
		log.Error("failed to consume credential use", zap.Error(err))
		return nil, errutil.Internal("failed to verify credential", err)
	}
	if !consumed {
		log.Info("verification rejected, credential consumed concurrently",
			zap.String("reason", string(ReasonStateInvalid)), zap.Int64("credential_id", c.ID))
		return failed(ReasonStateInvalid), nil
	}

	remaining := c.RemainingUses - 1
	if fresh, err := s.repo.FindByID(ctx, c.ID); err == nil {
		remaining = fresh.RemainingUses
	} else {
		log.Warn("failed to reload credential after use", zap.Error(err))
	}

	log.Info("credential verified",
		zap.Int64("credential_id", c.ID),
		zap.Int("remaining_uses", remaining),
		zap.Bool("ledger_verified", ledgerVerified),
	)

	expiresAt := capTok.ExpiresAt
	return &VerificationResult{
		Valid:               true,
		Reason:              ReasonValid,
		Message:             ReasonValid.Message(),
		RemainingUses:       remaining,
		LedgerVerified:      ledgerVerified,
		CapabilityToken:     capTok.Token,
		CapabilityExpiresAt: &expiresAt,
	}, nil
}

// Revoke is the owner-initiated revocation. It is not idempotent: a credential
// that is no longer ACTIVE yields ErrAlreadyProcessed.
func (s *Service) Revoke(ctx context.Context, bearerToken string, ownerIDClaim int64, reason string) error {
	ctx, span := s.tracer.Start(ctx, "credential.Revoke")
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errutil.BadRequest("reason is required", nil)
	}

	c, err := s.repo.FindByToken(ctx, bearerToken)
	if errors.Is(err, ErrNotFound) {
		return errutil.NotFound("credential not found", ErrNotFound)
	}
	if err != nil {
		return errutil.Internal("failed to revoke credential", err)
	}
	if subtle.ConstantTimeCompare([]byte(c.BearerToken), []byte(bearerToken)) != 1 {
		return errutil.NotFound("credential not found", ErrNotFound)
	}
	if c.OwnerID != ownerIDClaim {
		return errutil.Forbidden("credential does not belong to the caller", ErrNotOwner)
	}

	if err := s.revoke(ctx, c, reason, RevocationOwner); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// EmergencyRevoke lets an account whose role is allowed credential:revoke_any
// revoke any credential by key hash.
func (s *Service) EmergencyRevoke(ctx context.Context, actorID int64, keyHash, reason string) error {
	ctx, span := s.tracer.Start(ctx, "credential.EmergencyRevoke", trace.WithAttributes(attribute.Int64("actor_id", actorID)))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errutil.BadRequest("reason is required", nil)
	}

	actor, err := s.directory.Lookup(ctx, actorID)
	if errors.Is(err, account.ErrNotFound) {
		return errutil.Forbidden("actor is not allowed to revoke credentials", err)
	}
	if err != nil {
		return errutil.Internal("failed to resolve actor", err)
	}
	if !s.enforcer.Allowed(actor.Role, accesscontrol.ObjectCredential, accesscontrol.ActionRevokeAny) {
		logger(ctx).Warn("emergency revoke denied", zap.Int64("actor_id", actorID), zap.String("role", actor.Role))
		return errutil.Forbidden("actor is not allowed to revoke credentials", nil)
	}

	c, err := s.repo.FindByHash(ctx, keyHash)
	if errors.Is(err, ErrNotFound) {
		return errutil.NotFound("credential not found", ErrNotFound)
	}
	if err != nil {
		return errutil.Internal("failed to revoke credential", err)
	}

	logger(ctx).Info("emergency revoke requested",
		zap.Int64("actor_id", actorID),
		zap.Int64("credential_id", c.ID),
		zap.Int64("owner_id", c.OwnerID),
	)
	return s.revoke(ctx, c, reason, RevocationAdmin)
}

func (s *Service) revoke(ctx context.Context, c *Credential, reason string, kind RevocationKind) error {
	log := logger(ctx).With(zap.Int64("credential_id", c.ID), zap.String("kind", string(kind)))
	now := s.now()

	if c.EffectiveStatus(now) != StatusActive {
		return errutil.Conflict("credential is already revoked or expired", ErrAlreadyProcessed)
	}

	anchor := s.anchorer.Revoke(ctx, c.KeyHash, c.OwnerID)
	meta := map[string]interface{}{"owner_id": c.OwnerID, "kind": string(kind)}
	s.recordAnchor(ctx, anchor, c.KeyHash, TxKeyRevocation, meta)
	if err := s.applyFailurePolicy(ctx, anchor, ledger.OpRevoke, c.KeyHash); err != nil {
		return err
	}

	ok, err := s.repo.MarkRevoked(ctx, c.ID, reason, now)
	if err != nil {
		log.Error("failed to mark credential revoked", zap.Error(err))
		return errutil.Internal("failed to revoke credential", err)
	}
	if !ok {
		return errutil.Conflict("credential is already revoked or expired", ErrAlreadyProcessed)
	}

	s.metrics.Revocations.WithLabelValues(string(kind)).Inc()
	log.Info("credential revoked", zap.String("label", kind.Label()), zap.String("anchor", string(anchor.Kind)))
	return nil
}

func (s *Service) GetByHash(ctx context.Context, keyHash string) (*CredentialDetail, error) {
	ctx, span := s.tracer.Start(ctx, "credential.GetByHash")
	defer span.End()

	c, err := s.repo.FindByHash(ctx, keyHash)
	if errors.Is(err, ErrNotFound) {
		return nil, errutil.NotFound("credential not found", ErrNotFound)
	}
	if err != nil {
		return nil, errutil.Internal("failed to load credential", err)
	}
	return toDetail(c, s.now()), nil
}

func (s *Service) List(ctx context.Context, p ListParams) (*CredentialPage, error) {
	ctx, span := s.tracer.Start(ctx, "credential.List")
	defer span.End()

	if p.OwnerID <= 0 {
		return nil, errutil.BadRequest("owner_id must be a positive integer", nil)
	}
	page, err := pagination.Page{
		Page:      p.Page,
		Size:      p.Size,
		SortField: p.SortField,
		SortDir:   p.SortDir,
	}.Normalize(sortable, defaultSortField)
	if err != nil {
		return nil, errutil.BadRequest(err.Error(), err)
	}

	items, total, err := s.repo.ListByOwner(ctx, p.OwnerID, page)
	if err != nil {
		logger(ctx).Error("failed to list credentials", zap.Int64("owner_id", p.OwnerID), zap.Error(err))
		return nil, errutil.Internal("failed to list credentials", err)
	}

	now := s.now()
	out := &CredentialPage{Items: make([]*CredentialSummary, 0, len(items))}
	for _, c := range items {
		out.Items = append(out.Items, &CredentialSummary{
			ID:            c.ID,
			KeyHash:       c.KeyHash,
			Status:        c.EffectiveStatus(now),
			IssuedAt:      c.IssuedAt,
			ExpiresAt:     c.ExpiresAt,
			RemainingUses: c.RemainingUses,
			LastUsedAt:    c.LastUsedAt,
		})
	}
	info := pagination.BuildPageInfo(page, total)
	out.Page, out.Size, out.Total, out.HasMore = info.Page, info.Size, info.Total, info.HasMore
	return out, nil
}

// ResolveKeyMaterial redeems a capability token minted by Verify and returns the
// decoded key for the in-process decryption step.
func (s *Service) ResolveKeyMaterial(ctx context.Context, capabilityToken string) (*KeyMaterial, error) {
	ctx, span := s.tracer.Start(ctx, "credential.ResolveKeyMaterial")
	defer span.End()

	claims, err := s.tokens.Redeem(ctx, capabilityToken)
	if err != nil {
		if errors.Is(err, capability.ErrInvalid) || errors.Is(err, capability.ErrConsumed) {
			return nil, errutil.Forbidden("capability token rejected", err)
		}
		return nil, errutil.Internal("failed to redeem capability token", err)
	}

	c, err := s.repo.FindByID(ctx, claims.CredentialID)
	if errors.Is(err, ErrNotFound) {
		return nil, errutil.NotFound("credential not found", ErrNotFound)
	}
	if err != nil {
		return nil, errutil.Internal("failed to load credential", err)
	}
	if c.KeyHash != claims.KeyHash || c.OwnerID != claims.OwnerID {
		return nil, errutil.Forbidden("capability token does not match credential", nil)
	}
	if c.EffectiveStatus(s.now()) != StatusActive {
		return nil, errutil.Conflict("credential is no longer active", ErrAlreadyProcessed)
	}

	key, err := s.codec.Decode(c.StoredKeyEncoding)
	if err != nil {
		logger(ctx).Error("failed to decode stored key", zap.Int64("credential_id", c.ID), zap.Error(err))
		return nil, errutil.Internal("failed to decode key material", err)
	}
	return &KeyMaterial{
		CredentialID: c.ID,
		OwnerID:      c.OwnerID,
		CameraID:     claims.CameraID,
		KeyHash:      c.KeyHash,
		Key:          key,
	}, nil
}

// Health reports ledger connectivity for readiness probes.
func (s *Service) Health(ctx context.Context) LedgerHealth {
	oracle := s.anchorer.Oracle()
	if !s.anchorer.Enabled() || oracle == nil {
		return LedgerHealth{Enabled: false}
	}

	out := LedgerHealth{Enabled: true, Kind: oracle.Kind()}
	h, err := oracle.Health(ctx)
	if h != nil {
		out.Connected = h.Connected
		out.ChainID = h.ChainID
		out.LatestBlock = h.LatestBlock
		out.From = h.From
		out.Contract = h.Contract
	}
	if err != nil {
		out.Connected = false
		out.Error = err.Error()
	}
	return out
}

func (s *Service) crossCheckEnabled(ctx context.Context) bool {
	if s.flags == nil {
		return true
	}
	return s.flags.Enabled(ctx, featureflags.LedgerCrossCheck, true)
}

// applyFailurePolicy returns an error only when the anchor failed and the policy
// is abort.
func (s *Service) applyFailurePolicy(ctx context.Context, a ledger.Anchor, op, keyHash string) error {
	if a.Kind != ledger.AnchorFailed {
		return nil
	}
	log := logger(ctx).With(zap.String("op", op), zap.String("key_hash", keyHash), zap.Error(a.Err))
	if s.failurePolicy == config.FailurePolicyAbort {
		log.Error("ledger anchoring failed, aborting operation")
		return errutil.BadGateway("ledger anchoring failed", a.Err)
	}
	log.Error("ledger anchoring failed, continuing unanchored",
		zap.String("ledger_tx_ref", ledger.UnanchoredRef))
	return nil
}

// recordAnchor appends the audit row for an anchor attempt. Failures are logged
// and never fail the business operation.
func (s *Service) recordAnchor(ctx context.Context, a ledger.Anchor, keyHash string, txType TxType, meta map[string]interface{}) {
	if a.Kind == ledger.AnchorSkipped {
		return
	}
	log := logger(ctx).With(zap.String("key_hash", keyHash), zap.String("tx_type", string(txType)))

	id := s.node.Generate()
	row := &LedgerTransaction{
		ID:        id.Int64(),
		KeyHash:   keyHash,
		TxType:    txType,
		GasPrice:  "0",
		CreatedAt: s.now(),
	}
	if raw, err := json.Marshal(meta); err == nil {
		row.Metadata = datatypes.JSON(raw)
	}

	switch a.Kind {
	case ledger.AnchorAnchored:
		row.TxHash = a.TxHash
		row.Status = TxPending
		if sub := a.Submission; sub != nil {
			row.FromAddress, row.ToAddress = sub.From, sub.To
			if sub.GasPrice != "" {
				row.GasPrice = sub.GasPrice
			}
			if sub.Mined != nil {
				row.apply(receiptUpdate(sub.Mined, s.now()))
			}
		}
	case ledger.AnchorFailed:
		row.TxHash = "failed-" + id.String()
		row.Status = TxFailed
		msg := a.Reason
		row.ErrorMessage = &msg
	}

	if err := s.repo.CreateLedgerTransaction(ctx, row); err != nil {
		log.Error("failed to record ledger transaction", zap.String("tx_hash", row.TxHash), zap.Error(err))
		return
	}
	if row.Status == TxPending {
		enqueueConfirm(ctx, s.enqueuer, row.TxHash, s.confirmDelay)
	}
}

func toIssued(c *Credential, reused bool) *IssuedCredential {
	return &IssuedCredential{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		KeyHash:       c.KeyHash,
		BearerToken:   c.BearerToken,
		KeyKind:       c.KeyKind,
		LedgerTxRef:   c.LedgerTxRef,
		AnchorStatus:  c.AnchorStatus,
		IssuedAt:      c.IssuedAt,
		ExpiresAt:     c.ExpiresAt,
		RemainingUses: c.RemainingUses,
		Reused:        reused,
	}
}
