package profiles

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
	"github.com/nkarpachev/emberchat/backend/internal/domain/model"
	"github.com/nkarpachev/emberchat/backend/internal/domain/rules"
)

var ErrValidation = errors.New("invalid profile data")

type ProfileStore interface {
	Ensure(ctx context.Context, userID int64) error
	Get(ctx context.Context, userID int64) (model.Profile, error)
	Update(ctx context.Context, profile model.Profile) error
	SetIntent(ctx context.Context, userID int64, intent enums.Intent) error
	SetPremium(ctx context.Context, userID int64, premium bool) error
	SetShowActive(ctx context.Context, userID int64, visible bool) error
	Anonymize(ctx context.Context, userID int64) error
}

type Dependencies struct {
	Logger *zap.Logger
	Store  ProfileStore
}

// Service manages the anonymous personas. A profile row appears on first
// contact and is only ever blanked afterwards, never deleted, so history
// rows always have someone to point at.
type Service struct {
	log   *zap.Logger
	store ProfileStore
}

func New(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("profile store is required")
	}

	return &Service{log: deps.Logger, store: deps.Store}, nil
}

// Ensure creates the default persona and session row on first contact.
// Idempotent for returning clients. Telegram identity is deliberately not
// copied in: everyone starts as "Stranger".
func (s *Service) Ensure(ctx context.Context, userID int64) (model.Profile, error) {
	if userID <= 0 {
		return model.Profile{}, ErrValidation
	}

	if err := s.store.Ensure(ctx, userID); err != nil {
		return model.Profile{}, fmt.Errorf("ensure profile: %w", err)
	}

	prof, err := s.store.Get(ctx, userID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return prof, nil
}

func (s *Service) Get(ctx context.Context, userID int64) (model.Profile, error) {
	return s.store.Get(ctx, userID)
}

// Update validates and saves an edited persona.
func (s *Service) Update(ctx context.Context, profile model.Profile) error {
	if profile.UserID <= 0 {
		return ErrValidation
	}
	if profile.Age != 0 && !rules.ValidAge(profile.Age) {
		return fmt.Errorf("%w: age out of range", ErrValidation)
	}
	if len(profile.StyleTags) > rules.MaxStyleTags {
		return fmt.Errorf("%w: too many style tags", ErrValidation)
	}
	for _, lang := range profile.Languages {
		if !rules.KnownLanguage(lang) {
			return fmt.Errorf("%w: unknown language %q", ErrValidation, lang)
		}
	}

	if err := s.store.Update(ctx, profile); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *Service) SetIntent(ctx context.Context, userID int64, intent enums.Intent) error {
	return s.store.SetIntent(ctx, userID, enums.ParseIntent(string(intent)))
}

// GrantPremium is the admin-only premium switch.
func (s *Service) GrantPremium(ctx context.Context, userID int64) error {
	if err := s.store.SetPremium(ctx, userID, true); err != nil {
		return fmt.Errorf("grant premium: %w", err)
	}

	s.log.Info("premium granted", zap.Int64("user_id", userID))
	return nil
}

// SetVisibility toggles whether favorites may see this client as available.
func (s *Service) SetVisibility(ctx context.Context, userID int64, visible bool) error {
	if err := s.store.SetShowActive(ctx, userID, visible); err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	return nil
}

// Anonymize blanks the persona back to defaults. The row and its history
// references survive.
func (s *Service) Anonymize(ctx context.Context, userID int64) error {
	if err := s.store.Anonymize(ctx, userID); err != nil {
		return fmt.Errorf("anonymize profile: %w", err)
	}

	s.log.Info("profile anonymized", zap.Int64("user_id", userID))
	return nil
}
