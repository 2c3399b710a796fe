package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/metrics"
	pkgtoken "github.com/go-identity-nosql/internal/pkg/token"
	"github.com/go-identity-nosql/internal/store"
)

// DefaultMaxAttempts is the code attempt budget used when none is configured.
const DefaultMaxAttempts = 3

// Token document attribute names.
const (
	fieldIdentifier = "identifier"
	fieldType       = "type"
	fieldValue      = "value"
	fieldUsed       = "used"
	fieldExhausted  = "exhausted"
	fieldAttempts   = "attempts"
	fieldUsedAt     = "used_at"
)

// VerifyRequest identifies the token being presented. Identifier is required
// for codes and optional for links; when given it must match the stored one.
// A non-empty OwnerID must match the identity the token was issued to, and a
// mismatch is refused before the attempt is counted.
type VerifyRequest struct {
	Value      string
	Type       domain.TokenType
	Identifier string
	OwnerID    string
}

// VerifyResult is returned for a successfully consumed token.
type VerifyResult struct {
	Identifier string
	Type       domain.TokenType
	OwnerID    string
}

type Service interface {
	CreateToken(ctx context.Context, identifier string, t domain.TokenType, ttl time.Duration, ownerID string) (*domain.VerificationToken, error)
	VerifyToken(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
}

type tokenStore interface {
	FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error
	InsertOne(ctx context.Context, c store.Collection, doc any) (string, error)
	UpdateOne(ctx context.Context, c store.Collection, f store.Filter, u store.Update, out any) error
	DeleteMany(ctx context.Context, c store.Collection, f store.Filter) (int, error)
}

type service struct {
	store       tokenStore
	maxAttempts int
	metrics     *metrics.Metrics
	now         func() time.Time
}

type ServiceDeps struct {
	Store       tokenStore
	MaxAttempts int
	Metrics     *metrics.Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:       deps.Store,
		maxAttempts: deps.MaxAttempts,
		metrics:     deps.Metrics,
		now:         deps.Now,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NormalizeIdentifier normalizes an email or phone identifier by its shape.
func NormalizeIdentifier(identifier string) string {
	if domain.IsPhoneIdentifier(identifier) {
		return domain.NormalizePhone(identifier)
	}
	return domain.NormalizeEmail(identifier)
}

// CreateToken replaces any token for (identifier, t) with a fresh one. Only
// the most recently issued token for a pair can be verified.
func (s *service) CreateToken(ctx context.Context, identifier string, t domain.TokenType, ttl time.Duration, ownerID string) (*domain.VerificationToken, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || !t.Valid() || ttl <= 0 {
		return nil, fmt.Errorf("identifier, token type and ttl are required: %w", domain.ErrInvalidInput)
	}
	value, err := newValue(t, identifier)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tok := &domain.VerificationToken{
		Identifier: identifier,
		Type:       t,
		Value:      value,
		ExpiresAt:  now.Add(ttl).Unix(),
		OwnerID:    ownerID,
		CreatedAt:  now,
	}
	pair := store.Where(store.Eq(fieldIdentifier, identifier), store.Eq(fieldType, t))

	// A concurrent CreateToken for the same pair can insert between our
	// delete and insert; one retry lets the latest caller win.
	for attempt := 0; ; attempt++ {
		if _, err := s.store.DeleteMany(ctx, store.VerificationTokens, pair); err != nil {
			return nil, fmt.Errorf("invalidate previous tokens: %w", err)
		}
		_, err = s.store.InsertOne(ctx, store.VerificationTokens, tok)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConditionFailed) || attempt > 0 {
			return nil, fmt.Errorf("insert token: %w", err)
		}
	}
	s.metrics.TokenIssued(string(t))
	return tok, nil
}

func newValue(t domain.TokenType, identifier string) (string, error) {
	if t.CodeStyle(identifier) {
		return pkgtoken.NewCode()
	}
	return pkgtoken.NewLinkToken()
}

func (s *service) VerifyToken(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	res, err := s.verify(ctx, req)
	s.metrics.TokenVerified(string(req.Type), outcome(err))
	return res, err
}

func (s *service) verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.Value == "" || !req.Type.Valid() {
		return nil, fmt.Errorf("token value and type are required: %w", domain.ErrInvalidInput)
	}
	identifier := ""
	if req.Identifier != "" {
		identifier = NormalizeIdentifier(req.Identifier)
	}
	// Codes are short enough to guess, so they are only ever read by key.
	// Without the identifier no attempt could be counted against them.
	if identifier == "" && !pkgtoken.IsLinkToken(req.Value) {
		return nil, fmt.Errorf("identifier required for code verification: %w", domain.ErrInvalidInput)
	}

	tok, err := s.lookup(ctx, req.Value, req.Type, identifier)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != "" && tok.OwnerID != req.OwnerID {
		return nil, fmt.Errorf("token was issued to another identity: %w", domain.ErrForbidden)
	}
	if tok.Type.CodeStyle(tok.Identifier) {
		if identifier == "" {
			return nil, fmt.Errorf("identifier required for code verification: %w", domain.ErrInvalidInput)
		}
		return s.verifyCode(ctx, tok, req.Value)
	}
	return s.verifyLink(ctx, tok, req.Value)
}

// lookup reads by key when the identifier is known, and through the value
// index otherwise. Only link-shaped values reach the index.
func (s *service) lookup(ctx context.Context, value string, t domain.TokenType, identifier string) (*domain.VerificationToken, error) {
	f := store.Where(store.Eq(fieldValue, value), store.Eq(fieldType, t))
	if identifier != "" {
		f = store.Where(store.Eq(fieldIdentifier, identifier), store.Eq(fieldType, t))
	}
	var tok domain.VerificationToken
	if err := s.store.FindOne(ctx, store.VerificationTokens, f, &tok); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	return &tok, nil
}

func (s *service) verifyLink(ctx context.Context, tok *domain.VerificationToken, value string) (*VerifyResult, error) {
	if !sameValue(tok.Value, value) {
		return nil, fmt.Errorf("token not found: %w", domain.ErrNotFound)
	}
	if tok.Used {
		return nil, fmt.Errorf("token already used: %w", domain.ErrAlreadyUsed)
	}
	if tok.ExpiredAt(s.now()) {
		return nil, fmt.Errorf("token expired: %w", domain.ErrExpired)
	}
	if err := s.markUsed(ctx, tok); err != nil {
		return nil, err
	}
	return result(tok), nil
}

// verifyCode counts every presentation against the attempt budget before
// comparing, so concurrent guesses cannot exceed it.
func (s *service) verifyCode(ctx context.Context, tok *domain.VerificationToken, code string) (*VerifyResult, error) {
	if tok.Exhausted {
		return nil, fmt.Errorf("code locked: %w", domain.ErrTooManyAttempts)
	}
	if tok.Used {
		return nil, fmt.Errorf("code already used: %w", domain.ErrAlreadyUsed)
	}
	if tok.ExpiredAt(s.now()) {
		return nil, fmt.Errorf("code expired: %w", domain.ErrExpired)
	}

	var counted domain.VerificationToken
	err := s.store.UpdateOne(ctx, store.VerificationTokens,
		store.Where(
			store.Eq(fieldIdentifier, tok.Identifier),
			store.Eq(fieldType, tok.Type),
			store.Eq(fieldValue, tok.Value),
			store.Eq(fieldUsed, false),
			store.Lt(fieldAttempts, s.maxAttempts),
		),
		store.Update{Inc: map[string]int{fieldAttempts: 1}},
		&counted,
	)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, s.rejected(ctx, tok)
		}
		return nil, fmt.Errorf("count attempt: %w", err)
	}

	if sameValue(counted.Value, code) {
		if err := s.markUsed(ctx, &counted); err != nil {
			return nil, err
		}
		return result(&counted), nil
	}
	if counted.Attempts >= s.maxAttempts {
		s.exhaust(ctx, &counted)
		return nil, fmt.Errorf("attempt budget spent: %w", domain.ErrTooManyAttempts)
	}
	return nil, fmt.Errorf("code does not match: %w", domain.ErrNotFound)
}

// rejected classifies a lost conditional increment from the token's current state.
func (s *service) rejected(ctx context.Context, tok *domain.VerificationToken) error {
	cur, err := s.lookup(ctx, tok.Value, tok.Type, tok.Identifier)
	switch {
	case err != nil || cur.Value != tok.Value:
		return fmt.Errorf("code superseded: %w", domain.ErrNotFound)
	case cur.Used && !cur.Exhausted:
		return fmt.Errorf("code already used: %w", domain.ErrAlreadyUsed)
	}
	return fmt.Errorf("code locked: %w", domain.ErrTooManyAttempts)
}

func (s *service) markUsed(ctx context.Context, tok *domain.VerificationToken) error {
	now := s.now().UTC()
	err := s.store.UpdateOne(ctx, store.VerificationTokens,
		store.Where(
			store.Eq(fieldIdentifier, tok.Identifier),
			store.Eq(fieldType, tok.Type),
			store.Eq(fieldValue, tok.Value),
			store.Eq(fieldUsed, false),
		),
		store.Update{Set: map[string]any{fieldUsed: true, fieldUsedAt: now}},
		nil,
	)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return fmt.Errorf("token already used: %w", domain.ErrAlreadyUsed)
		}
		return fmt.Errorf("mark token used: %w", err)
	}
	tok.Used = true
	tok.UsedAt = &now
	return nil
}

func (s *service) exhaust(ctx context.Context, tok *domain.VerificationToken) {
	err := s.store.UpdateOne(ctx, store.VerificationTokens,
		store.Where(
			store.Eq(fieldIdentifier, tok.Identifier),
			store.Eq(fieldType, tok.Type),
			store.Eq(fieldValue, tok.Value),
			store.Eq(fieldUsed, false),
		),
		store.Update{Set: map[string]any{fieldUsed: true, fieldExhausted: true}},
		nil,
	)
	// The attempts counter already blocks further guesses if this fails.
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		slog.Warn("failed to lock exhausted code", "identifier", tok.Identifier, "type", tok.Type, "err", err)
	}
}

func sameValue(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

func result(tok *domain.VerificationToken) *VerifyResult {
	return &VerifyResult{Identifier: tok.Identifier, Type: tok.Type, OwnerID: tok.OwnerID}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	}
	return "error"
}
