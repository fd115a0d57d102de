package service

import (
	"context"
	"errors"
	availabilityerrors "medislot/internal/availability/errors"
	"medislot/internal/availability/repository"
	"medislot/internal/availability/validator"
	"medislot/pkg/config"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/identity"
	"medislot/pkg/model"
	"medislot/pkg/sanitizer"
	"strings"
)

// AvailabilityService manages providers' weekly open-hour rules.
// Rules are never deleted, only deactivated.
type AvailabilityService interface {
	Create(ctx context.Context, actor model.Actor, rule *model.AvailabilityRule) error
	Update(ctx context.Context, actor model.Actor, id string, updates *model.AvailabilityRuleUpdate) (*model.AvailabilityRule, error)
	SetActive(ctx context.Context, actor model.Actor, id string, active bool) error
	List(ctx context.Context, providerID string, includeInactive bool) ([]model.AvailabilityRule, error)
	ActiveRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
}

type availabilityService struct {
	repo      repository.AvailabilityRepository
	directory identity.Directory
	validator *validator.AvailabilityValidator
	cfg       *config.Config
}

func NewAvailabilityService(
	repo repository.AvailabilityRepository,
	directory identity.Directory,
	validator *validator.AvailabilityValidator,
	cfg *config.Config,
) AvailabilityService {
	return &availabilityService{
		repo:      repo,
		directory: directory,
		validator: validator,
		cfg:       cfg,
	}
}

func (s *availabilityService) Create(ctx context.Context, actor model.Actor, rule *model.AvailabilityRule) error {
	rule.ProviderID = strings.TrimSpace(rule.ProviderID)
	rule.StartTime = sanitizer.TrimAndNormalize(rule.StartTime)
	rule.EndTime = sanitizer.TrimAndNormalize(rule.EndTime)
	rule.ID = ""
	rule.Active = true

	if err := s.authorize(actor, rule.ProviderID); err != nil {
		return err
	}

	if err := s.validator.Validate(rule); err != nil {
		s.cfg.Log.Warn("Availability rule validation failed",
			"provider_id", rule.ProviderID,
			"error", err,
		)
		return apperrors.Validation("Availability rule validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if err := s.ensureProvider(ctx, rule.ProviderID); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		s.cfg.Log.Error("Failed to create availability rule",
			"provider_id", rule.ProviderID,
			"error", err,
		)
		return apperrors.Internal("Failed to create availability rule", err)
	}

	s.cfg.Log.Info("Availability rule created",
		"id", rule.ID,
		"provider_id", rule.ProviderID,
		"day_of_week", rule.DayOfWeek,
		"start_time", rule.StartTime,
		"end_time", rule.EndTime,
	)
	return nil
}

func (s *availabilityService) Update(ctx context.Context, actor model.Actor, id string, updates *model.AvailabilityRuleUpdate) (*model.AvailabilityRule, error) {
	existing, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, existing.ProviderID); err != nil {
		return nil, err
	}

	if err := s.validator.ValidateUpdate(updates); err != nil {
		return nil, apperrors.Validation("Availability rule validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	merged := mergeRuleUpdates(existing, updates)
	if err := s.validator.Validate(merged); err != nil {
		return nil, apperrors.Validation("Availability rule validation failed", map[string]any{
			"error": err.Error(),
		})
	}

	if err := s.repo.Update(ctx, id, merged); err != nil {
		if errors.Is(err, availabilityerrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Availability rule", id)
		}
		s.cfg.Log.Error("Failed to update availability rule", "id", id, "error", err)
		return nil, apperrors.Internal("Failed to update availability rule", err)
	}

	s.cfg.Log.Info("Availability rule updated", "id", id, "provider_id", merged.ProviderID)
	return merged, nil
}

func (s *availabilityService) SetActive(ctx context.Context, actor model.Actor, id string, active bool) error {
	existing, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, existing.ProviderID); err != nil {
		return err
	}
	if existing.Active == active {
		return nil
	}

	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, availabilityerrors.ErrNotFound) {
			return apperrors.NotFoundWithID("Availability rule", id)
		}
		s.cfg.Log.Error("Failed to toggle availability rule", "id", id, "active", active, "error", err)
		return apperrors.Internal("Failed to update availability rule", err)
	}

	s.cfg.Log.Info("Availability rule toggled", "id", id, "provider_id", existing.ProviderID, "active", active)
	return nil
}

func (s *availabilityService) List(ctx context.Context, providerID string, includeInactive bool) ([]model.AvailabilityRule, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, apperrors.InvalidInput("Provider ID cannot be empty")
	}

	rules, err := s.repo.FindByProvider(ctx, providerID, !includeInactive)
	if err != nil {
		s.cfg.Log.Error("Failed to list availability rules", "provider_id", providerID, "error", err)
		return nil, apperrors.Internal("Failed to retrieve availability rules", err)
	}
	return rules, nil
}

func (s *availabilityService) ActiveRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	return s.List(ctx, providerID, false)
}

func (s *availabilityService) find(ctx context.Context, id string) (*model.AvailabilityRule, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Availability rule ID cannot be empty")
	}

	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, availabilityerrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Availability rule", id)
		}
		if errors.Is(err, availabilityerrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid availability rule ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve availability rule", err)
	}
	return rule, nil
}

func (s *availabilityService) authorize(actor model.Actor, providerID string) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == model.RoleProvider && actor.ID == providerID {
		return nil
	}
	return apperrors.Forbidden("Only the provider or an administrator can manage these availability rules")
}

func (s *availabilityService) ensureProvider(ctx context.Context, providerID string) error {
	profile, err := s.directory.GetProfile(ctx, providerID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return apperrors.Validation("Provider does not exist", map[string]any{"provider_id": providerID})
		}
		return apperrors.Internal("Failed to resolve provider", err)
	}
	if profile.Role != model.RoleProvider {
		return apperrors.Validation("Availability can only be defined for providers", map[string]any{"provider_id": providerID})
	}
	return nil
}

func mergeRuleUpdates(existing *model.AvailabilityRule, updates *model.AvailabilityRuleUpdate) *model.AvailabilityRule {
	merged := *existing
	if updates.DayOfWeek != nil {
		merged.DayOfWeek = *updates.DayOfWeek
	}
	if updates.StartTime != nil {
		merged.StartTime = sanitizer.TrimAndNormalize(*updates.StartTime)
	}
	if updates.EndTime != nil {
		merged.EndTime = sanitizer.TrimAndNormalize(*updates.EndTime)
	}
	if updates.Active != nil {
		merged.Active = *updates.Active
	}
	return &merged
}
