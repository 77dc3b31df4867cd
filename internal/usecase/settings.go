package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/repository"
)

// SettingsUsecase reads and writes the last-used search parameters.
type SettingsUsecase struct {
	repo     repository.SettingsRepository
	defaults domain.Settings
	logger   *zap.Logger
}

// NewSettingsUsecase creates a SettingsUsecase. defaults fill keys that were never saved.
func NewSettingsUsecase(repo repository.SettingsRepository, defaults domain.Settings, logger *zap.Logger) *SettingsUsecase {
	return &SettingsUsecase{repo: repo, defaults: defaults, logger: logger}
}

// Get returns the saved settings merged over the defaults.
func (uc *SettingsUsecase) Get(ctx context.Context) (*domain.Settings, error) {
	s := uc.defaults
	s.Keywords = append([]string(nil), uc.defaults.Keywords...)

	if raw, ok, err := uc.repo.GetSetting(ctx, domain.SettingLastKeywords); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	} else if ok {
		if kws := CleanKeywords(strings.Split(raw, ",")); len(kws) > 0 {
			s.Keywords = kws
		}
	}

	if raw, ok, err := uc.repo.GetSetting(ctx, domain.SettingLastLocation); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	} else if ok && strings.TrimSpace(raw) != "" {
		s.Location = strings.TrimSpace(raw)
	}

	if raw, ok, err := uc.repo.GetSetting(ctx, domain.SettingLastMaxApplications); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
	} else if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			s.MaxApplications = n
		} else {
			uc.logger.Warn("Ignoring malformed saved setting", zap.String("key", domain.SettingLastMaxApplications), zap.String("value", raw))
		}
	}
	return &s, nil
}

// Save stores whichever of keywords, location and quota the caller supplied.
func (uc *SettingsUsecase) Save(ctx context.Context, s domain.Settings) error {
	if s.MaxApplications < 0 {
		return fmt.Errorf("%w: max applications must not be negative", domain.ErrInvalidInput)
	}
	if kws := CleanKeywords(s.Keywords); len(kws) > 0 {
		if err := uc.repo.SetSetting(ctx, domain.SettingLastKeywords, strings.Join(kws, ",")); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
		}
	}
	if loc := strings.TrimSpace(s.Location); loc != "" {
		if err := uc.repo.SetSetting(ctx, domain.SettingLastLocation, loc); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
		}
	}
	if s.MaxApplications > 0 {
		if err := uc.repo.SetSetting(ctx, domain.SettingLastMaxApplications, strconv.Itoa(s.MaxApplications)); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDatabaseUnavailable, err)
		}
	}
	return nil
}
