package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-identity-nosql/internal/application/token"
	"github.com/go-identity-nosql/internal/config"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type ResetPasswordRequest struct {
	Identifier  string `json:"identifier"`
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type Service interface {
	RequestEmailVerification(ctx context.Context, identityID, email string) error
	ConfirmEmail(ctx context.Context, tokenValue string) (*domain.Identity, error)
	RequestPhoneVerification(ctx context.Context, identityID, phone string) error
	ConfirmPhone(ctx context.Context, identityID, phone, code string) (*domain.Identity, error)
	RequestPhoneLogin(ctx context.Context, phone string) error
	ConfirmPhoneLogin(ctx context.Context, phone, code string) (string, error)
	RequestPasswordReset(ctx context.Context, identifier string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

type tokenManager interface {
	CreateToken(ctx context.Context, identifier string, t domain.TokenType, ttl time.Duration, ownerID string) (*domain.VerificationToken, error)
	VerifyToken(ctx context.Context, req token.VerifyRequest) (*token.VerifyResult, error)
}

type identityStore interface {
	FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error
	FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error
	UpdateOne(ctx context.Context, c store.Collection, f store.Filter, u store.Update, out any) error
}

type mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type service struct {
	tokens  tokenManager
	store   identityStore
	mailer  mailer
	sms     smsSender
	policy  config.TokenPolicy
	baseURL string
	now     func() time.Time
}

type ServiceDeps struct {
	Tokens tokenManager
	Store  identityStore
	Mailer mailer
	SMS    smsSender
	Policy config.TokenPolicy
	// BaseURL prefixes the confirmation links sent by email.
	BaseURL string
	Now     func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		tokens:  deps.Tokens,
		store:   deps.Store,
		mailer:  deps.Mailer,
		sms:     deps.SMS,
		policy:  deps.Policy,
		baseURL: strings.TrimRight(deps.BaseURL, "/"),
		now:     deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RequestEmailVerification mails a confirmation link for one of the
// identity's emails, the primary one when email is empty.
func (s *service) RequestEmailVerification(ctx context.Context, identityID, email string) error {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return err
	}
	email = domain.NormalizeEmail(email)
	if email == "" {
		email = ident.Email
	}
	if email == "" || !ident.HasEmail(email) {
		return fmt.Errorf("email not on identity %s: %w", identityID, domain.ErrNotFound)
	}
	if slices.Contains(ident.VerifiedEmails, email) {
		return fmt.Errorf("email already verified: %w", domain.ErrConflict)
	}
	tok, err := s.tokens.CreateToken(ctx, email, domain.TokenEmailVerification, s.policy.EmailVerificationTTL, ident.ID)
	if err != nil {
		return err
	}
	body := "Confirm your email address by opening this link:\n\n" + s.link("/v1/verification/email/confirm", tok.Value)
	if err := s.mailer.SendEmail(ctx, email, "Confirm your email", body); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

// ConfirmEmail consumes an email link and marks the email verified on the
// identity that requested it.
func (s *service) ConfirmEmail(ctx context.Context, tokenValue string) (*domain.Identity, error) {
	res, err := s.tokens.VerifyToken(ctx, token.VerifyRequest{Value: tokenValue, Type: domain.TokenEmailVerification})
	if err != nil {
		return nil, err
	}
	return s.markVerified(ctx, res.OwnerID, res.Identifier, store.FieldEmail, store.FieldLinkedEmails, store.FieldVerifiedEmails)
}

func (s *service) RequestPhoneVerification(ctx context.Context, identityID, phone string) error {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return err
	}
	phone = domain.NormalizePhone(phone)
	if phone == "" {
		phone = ident.Phone
	}
	if phone == "" || !ident.HasPhone(phone) {
		return fmt.Errorf("phone not on identity %s: %w", identityID, domain.ErrNotFound)
	}
	if slices.Contains(ident.VerifiedPhones, phone) {
		return fmt.Errorf("phone already verified: %w", domain.ErrConflict)
	}
	tok, err := s.tokens.CreateToken(ctx, phone, domain.TokenPhoneVerification, s.policy.PhoneVerificationTTL, ident.ID)
	if err != nil {
		return err
	}
	if err := s.sendSMS(ctx, phone, "Your verification code: "+tok.Value); err != nil {
		return fmt.Errorf("send verification sms: %w", err)
	}
	return nil
}

func (s *service) ConfirmPhone(ctx context.Context, identityID, phone, code string) (*domain.Identity, error) {
	phone = domain.NormalizePhone(phone)
	if identityID == "" || phone == "" {
		return nil, fmt.Errorf("identity and phone required: %w", domain.ErrInvalidInput)
	}
	res, err := s.tokens.VerifyToken(ctx, token.VerifyRequest{
		Value: code, Type: domain.TokenPhoneVerification, Identifier: phone, OwnerID: identityID,
	})
	if err != nil {
		return nil, err
	}
	return s.markVerified(ctx, res.OwnerID, res.Identifier, store.FieldPhone, store.FieldLinkedPhones, store.FieldVerifiedPhones)
}

// RequestPhoneLogin texts a login code to phone when an active identity
// holds it. Unknown numbers get no message and no error.
func (s *service) RequestPhoneLogin(ctx context.Context, phone string) error {
	phone = domain.NormalizePhone(phone)
	if phone == "" {
		return fmt.Errorf("phone required: %w", domain.ErrInvalidInput)
	}
	ident, err := s.findByIdentifier(ctx, phone)
	if err != nil {
		return err
	}
	if ident == nil {
		slog.Debug("phone login requested for unknown number")
		return nil
	}
	tok, err := s.tokens.CreateToken(ctx, phone, domain.TokenPhoneLogin, s.policy.PhoneLoginTTL, ident.ID)
	if err != nil {
		return err
	}
	if err := s.sendSMS(ctx, phone, "Your login code: "+tok.Value); err != nil {
		return fmt.Errorf("send login sms: %w", err)
	}
	return nil
}

// ConfirmPhoneLogin consumes a login code and returns the identity it proves
// control of. The phone is marked verified on that identity.
func (s *service) ConfirmPhoneLogin(ctx context.Context, phone, code string) (string, error) {
	phone = domain.NormalizePhone(phone)
	if phone == "" {
		return "", fmt.Errorf("phone required: %w", domain.ErrInvalidInput)
	}
	res, err := s.tokens.VerifyToken(ctx, token.VerifyRequest{Value: code, Type: domain.TokenPhoneLogin, Identifier: phone})
	if err != nil {
		return "", err
	}
	ident, err := s.markVerified(ctx, res.OwnerID, res.Identifier, store.FieldPhone, store.FieldLinkedPhones, store.FieldVerifiedPhones)
	if err != nil {
		return "", err
	}
	slog.Info("phone login confirmed", "identity_id", ident.ID)
	return ident.ID, nil
}

// RequestPasswordReset sends a reset code by SMS to phone identifiers and a
// reset link by email otherwise. Unknown identifiers succeed silently.
func (s *service) RequestPasswordReset(ctx context.Context, identifier string) error {
	identifier = token.NormalizeIdentifier(identifier)
	if identifier == "" {
		return fmt.Errorf("identifier required: %w", domain.ErrInvalidInput)
	}
	ident, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	if ident == nil {
		slog.Debug("password reset requested for unknown identifier")
		return nil
	}
	tok, err := s.tokens.CreateToken(ctx, identifier, domain.TokenPasswordReset, s.policy.PasswordResetTTL, ident.ID)
	if err != nil {
		return err
	}
	if domain.IsPhoneIdentifier(identifier) {
		err = s.sendSMS(ctx, identifier, "Your password reset code: "+tok.Value)
	} else {
		body := "Reset your password by opening this link:\n\n" + s.link("/v1/password-reset/confirm", tok.Value)
		err = s.mailer.SendEmail(ctx, identifier, "Reset your password", body)
	}
	if err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and stores a new credential hash.
// Codes need the phone number they were sent to; links do not.
func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if req.NewPassword == "" {
		return fmt.Errorf("new password required: %w", domain.ErrInvalidInput)
	}
	res, err := s.tokens.VerifyToken(ctx, token.VerifyRequest{Value: req.Token, Type: domain.TokenPasswordReset, Identifier: req.Identifier})
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	err = s.store.UpdateOne(ctx, store.Identities, store.ActiveByID(res.OwnerID), store.Update{Set: map[string]any{
		store.FieldCredentialHash: string(hash),
		store.FieldUpdatedAt:      s.now().UTC(),
	}}, nil)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return fmt.Errorf("identity %s no longer active: %w", res.OwnerID, domain.ErrConflict)
		}
		return fmt.Errorf("store password: %w", err)
	}
	slog.Info("password reset", "identity_id", res.OwnerID)
	return nil
}

// markVerified adds value to the identity's verified set, and to its linked
// set when it is not the primary identifier.
func (s *service) markVerified(ctx context.Context, identityID, value, primaryField, linkedField, verifiedField string) (*domain.Identity, error) {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, err
	}
	primary := ident.Email
	if primaryField == store.FieldPhone {
		primary = ident.Phone
	}
	u := store.Update{}.AddAll(verifiedField, []string{value}).SetField(store.FieldUpdatedAt, s.now().UTC())
	if value != primary {
		u = u.AddAll(linkedField, []string{value})
	}
	var out domain.Identity
	if err := s.store.UpdateOne(ctx, store.Identities, store.ActiveByID(identityID), u, &out); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("identity %s no longer active: %w", identityID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("mark %s verified: %w", verifiedField, err)
	}
	return &out, nil
}

// findByIdentifier returns the active identity holding identifier as its
// primary, else as a linked one, or nil when none does.
func (s *service) findByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error) {
	primaryField, linkedField := store.FieldEmail, store.FieldLinkedEmails
	if domain.IsPhoneIdentifier(identifier) {
		primaryField, linkedField = store.FieldPhone, store.FieldLinkedPhones
	}
	active := store.Ne(store.FieldAccountStatus, domain.AccountMerged)
	for _, c := range []store.Cond{store.Eq(primaryField, identifier), store.Contains(linkedField, identifier)} {
		var found []domain.Identity
		if err := s.store.FindMany(ctx, store.Identities, store.Where(c, active), &found); err != nil {
			return nil, fmt.Errorf("find identity by %s: %w", c.Field, err)
		}
		if len(found) > 0 {
			first := slices.MinFunc(found, func(a, b domain.Identity) int { return strings.Compare(a.ID, b.ID) })
			return &first, nil
		}
	}
	return nil, nil
}

func (s *service) link(path, value string) string {
	return s.baseURL + path + "?token=" + url.QueryEscape(value)
}

// sendSMS delivers through the configured sender. Without one the message is
// only logged, which keeps phone flows usable in local runs.
func (s *service) sendSMS(ctx context.Context, to, message string) error {
	if s.sms == nil {
		slog.Warn("sms sender not configured, message dropped", "to", to)
		return nil
	}
	return s.sms.SendSMS(ctx, to, message)
}
