package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-identity-nosql/internal/application/linking"
	"github.com/go-identity-nosql/internal/domain"
	"github.com/go-identity-nosql/internal/pkg/id"
	"github.com/go-identity-nosql/internal/store"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Name     string `json:"name" validate:"omitempty,max=200"`
	Image    string `json:"image" validate:"omitempty,url"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
}

type RegisterResult struct {
	Identity   *domain.Identity   `json:"identity"`
	Suggestion *domain.Suggestion `json:"suggestion,omitempty"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	AddEmail(ctx context.Context, identityID, email string) (*domain.Identity, error)
	AddPhone(ctx context.Context, identityID, phone string) (*domain.Identity, error)
	RemoveEmail(ctx context.Context, identityID, email string) (*domain.Identity, error)
	RemovePhone(ctx context.Context, identityID, phone string) (*domain.Identity, error)
	RemoveProvider(ctx context.Context, identityID, provider string) (*domain.Identity, error)
}

type identityStore interface {
	FindOne(ctx context.Context, c store.Collection, f store.Filter, out any) error
	FindMany(ctx context.Context, c store.Collection, f store.Filter, out any) error
	InsertOne(ctx context.Context, c store.Collection, doc any) (string, error)
	UpdateOne(ctx context.Context, c store.Collection, f store.Filter, u store.Update, out any) error
	DeleteMany(ctx context.Context, c store.Collection, f store.Filter) (int, error)
}

type suggester interface {
	Suggest(ctx context.Context, in linking.Input) (*domain.Suggestion, error)
}

type service struct {
	store     identityStore
	suggester suggester
	now       func() time.Time
}

type ServiceDeps struct {
	Store     identityStore
	Suggester suggester
	Now       func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		store:     deps.Store,
		suggester: deps.Suggester,
		now:       deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register creates an identity and, when a suggester is configured, reports
// existing identities it could be linked with. A failed suggestion does not
// fail the registration.
func (s *service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := domain.NormalizeEmail(req.Email)
	phone := domain.NormalizePhone(req.Phone)
	if email == "" && phone == "" {
		return nil, fmt.Errorf("email or phone required: %w", domain.ErrInvalidInput)
	}
	now := s.now().UTC()
	ident := &domain.Identity{
		ID:            id.New(),
		Email:         email,
		Phone:         phone,
		Name:          req.Name,
		Image:         req.Image,
		IsActive:      true,
		AccountStatus: domain.AccountActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		ident.CredentialHash = string(hash)
	}
	if _, err := s.store.InsertOne(ctx, store.Identities, ident); err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	slog.Info("identity registered", "identity_id", ident.ID)

	res := &RegisterResult{Identity: ident}
	if s.suggester != nil {
		sug, err := s.suggester.Suggest(ctx, linking.Input{Email: email, Phone: phone, Name: req.Name, ExcludeID: ident.ID})
		if err != nil {
			slog.Warn("linking suggestion failed", "identity_id", ident.ID, "err", err)
		} else {
			res.Suggestion = sug
		}
	}
	return res, nil
}

func (s *service) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	return store.LoadIdentity(ctx, s.store, identityID)
}

func (s *service) AddEmail(ctx context.Context, identityID, email string) (*domain.Identity, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email required: %w", domain.ErrInvalidInput)
	}
	return s.addIdentifier(ctx, identityID, email, store.FieldLinkedEmails, (*domain.Identity).HasEmail)
}

func (s *service) AddPhone(ctx context.Context, identityID, phone string) (*domain.Identity, error) {
	phone = domain.NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("phone required: %w", domain.ErrInvalidInput)
	}
	return s.addIdentifier(ctx, identityID, phone, store.FieldLinkedPhones, (*domain.Identity).HasPhone)
}

func (s *service) addIdentifier(ctx context.Context, identityID, value, field string, has func(*domain.Identity, string) bool) (*domain.Identity, error) {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, err
	}
	if has(ident, value) {
		return nil, fmt.Errorf("%s already on identity %s: %w", value, identityID, domain.ErrAlreadyLinked)
	}
	u := store.Update{}.AddAll(field, []string{value}).SetField(store.FieldUpdatedAt, s.now().UTC())
	return s.write(ctx, ident, u)
}

func (s *service) RemoveEmail(ctx context.Context, identityID, email string) (*domain.Identity, error) {
	email = domain.NormalizeEmail(email)
	ident, providers, err := s.loadForRemoval(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !ident.HasEmail(email) {
		return nil, fmt.Errorf("email not on identity %s: %w", identityID, domain.ErrNotFound)
	}
	if slices.Contains(ident.VerifiedEmails, email) && ident.AuthMethodCount(providers) <= 1 {
		return nil, fmt.Errorf("cannot remove the last verified method: %w", domain.ErrInsufficientAuthMethods)
	}
	u := removal(email, ident.Email, store.FieldEmail, store.FieldLinkedEmails, store.FieldVerifiedEmails, ident.LinkedEmails, ident.VerifiedEmails)
	return s.write(ctx, ident, u.SetField(store.FieldUpdatedAt, s.now().UTC()))
}

func (s *service) RemovePhone(ctx context.Context, identityID, phone string) (*domain.Identity, error) {
	phone = domain.NormalizePhone(phone)
	ident, providers, err := s.loadForRemoval(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !ident.HasPhone(phone) {
		return nil, fmt.Errorf("phone not on identity %s: %w", identityID, domain.ErrNotFound)
	}
	if slices.Contains(ident.VerifiedPhones, phone) && ident.AuthMethodCount(providers) <= 1 {
		return nil, fmt.Errorf("cannot remove the last verified method: %w", domain.ErrInsufficientAuthMethods)
	}
	u := removal(phone, ident.Phone, store.FieldPhone, store.FieldLinkedPhones, store.FieldVerifiedPhones, ident.LinkedPhones, ident.VerifiedPhones)
	return s.write(ctx, ident, u.SetField(store.FieldUpdatedAt, s.now().UTC()))
}

// RemoveProvider unlinks an external provider. Provider-link rows for it are
// deleted once the identity itself no longer lists the provider.
func (s *service) RemoveProvider(ctx context.Context, identityID, provider string) (*domain.Identity, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider required: %w", domain.ErrInvalidInput)
	}
	ident, providers, err := s.loadForRemoval(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(domain.Union(ident.LinkedProviders, providers), provider) {
		return nil, fmt.Errorf("provider %s not linked to %s: %w", provider, identityID, domain.ErrNotFound)
	}
	if ident.AuthMethodCount(providers) <= 1 {
		return nil, fmt.Errorf("cannot remove the last verified method: %w", domain.ErrInsufficientAuthMethods)
	}
	u := store.Update{}.SetField(store.FieldUpdatedAt, s.now().UTC())
	if slices.Contains(ident.LinkedProviders, provider) {
		u.Pull = map[string][]string{store.FieldLinkedProviders: {provider}}
	}
	updated, err := s.write(ctx, ident, u)
	if err != nil {
		return nil, err
	}
	if slices.Contains(providers, provider) {
		if _, err := s.store.DeleteMany(ctx, store.ProviderLinks, store.Where(
			store.Eq("identity_id", identityID), store.Eq("provider_name", provider))); err != nil {
			return nil, fmt.Errorf("delete provider link: %w", err)
		}
	}
	return updated, nil
}

// loadForRemoval reads an active identity and the provider names known from
// its provider-link rows.
func (s *service) loadForRemoval(ctx context.Context, identityID string) (*domain.Identity, []string, error) {
	ident, err := store.LoadActiveIdentity(ctx, s.store, identityID)
	if err != nil {
		return nil, nil, err
	}
	var links []domain.ProviderLink
	if err := s.store.FindMany(ctx, store.ProviderLinks, store.Where(store.Eq("identity_id", identityID)), &links); err != nil {
		return nil, nil, fmt.Errorf("load provider links: %w", err)
	}
	names := make([]string, 0, len(links))
	for _, l := range links {
		names = append(names, l.ProviderName)
	}
	return ident, names, nil
}

// removal drops value from the primary slot and the linked and verified sets
// that hold it.
func removal(value, primary, primaryField, linkedField, verifiedField string, linked, verified []string) store.Update {
	var u store.Update
	if value == primary {
		u.Unset = []string{primaryField}
	}
	pull := map[string][]string{}
	if slices.Contains(linked, value) {
		pull[linkedField] = []string{value}
	}
	if slices.Contains(verified, value) {
		pull[verifiedField] = []string{value}
	}
	if len(pull) > 0 {
		u.Pull = pull
	}
	return u
}

// write applies u only if the identity is unchanged since it was read.
func (s *service) write(ctx context.Context, ident *domain.Identity, u store.Update) (*domain.Identity, error) {
	f := append(store.ActiveByID(ident.ID), store.Eq(store.FieldUpdatedAt, ident.UpdatedAt))
	var out domain.Identity
	if err := s.store.UpdateOne(ctx, store.Identities, f, u, &out); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return nil, fmt.Errorf("identity %s changed concurrently: %w", ident.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("update identity %s: %w", ident.ID, err)
	}
	return &out, nil
}
