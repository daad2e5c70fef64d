package service

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/berfenger/tesla2mqtt/internal/core/domain"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	settingsKeyMode          = "mode"
	settingsKeyMaxChargeAmps = "max_charge_amps"
)

var ErrInvalidSettings = errors.New("invalid settings")

// SettingsStore holds the operator overrides and persists them to a YAML file.
// An empty path keeps them in memory only.
type SettingsStore struct {
	mu       sync.RWMutex
	settings domain.Settings
	path     string
	minAmps  int
	maxAmps  int
	logger   *zap.Logger
}

func NewSettingsStore(path string, defaults domain.Settings, minAmps, maxAmps int, logger *zap.Logger) (*SettingsStore, error) {
	store := &SettingsStore{
		settings: defaults,
		path:     path,
		minAmps:  minAmps,
		maxAmps:  maxAmps,
		logger:   logger,
	}
	if err := store.validate(defaults); err != nil {
		return nil, err
	}
	if path == "" {
		return store, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	loaded := defaults
	if v.IsSet(settingsKeyMode) {
		mode, err := domain.ParseMode(v.GetString(settingsKeyMode))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
		loaded.Mode = mode
	}
	if v.IsSet(settingsKeyMaxChargeAmps) {
		loaded.MaxChargeAmps = v.GetInt(settingsKeyMaxChargeAmps)
	}
	if err := store.validate(loaded); err != nil {
		return nil, err
	}
	store.settings = loaded
	logger.Info("settings loaded", zap.String("file", path), zap.Stringer("mode", loaded.Mode), zap.Int("max_charge_amps", loaded.MaxChargeAmps))
	return store, nil
}

func (s *SettingsStore) Get() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *SettingsStore) SetMode(mode domain.Mode) (domain.Settings, error) {
	return s.update(func(settings *domain.Settings) {
		settings.Mode = mode
	})
}

func (s *SettingsStore) SetMaxChargeAmps(amps int) (domain.Settings, error) {
	return s.update(func(settings *domain.Settings) {
		settings.MaxChargeAmps = amps
	})
}

func (s *SettingsStore) update(fn func(*domain.Settings)) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	fn(&next)
	if err := s.validate(next); err != nil {
		return s.settings, err
	}
	if err := s.persist(next); err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}

func (s *SettingsStore) persist(settings domain.Settings) error {
	if s.path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set(settingsKeyMode, settings.Mode.String())
	v.Set(settingsKeyMaxChargeAmps, settings.MaxChargeAmps)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

func (s *SettingsStore) validate(settings domain.Settings) error {
	if settings.MaxChargeAmps < s.minAmps || settings.MaxChargeAmps > s.maxAmps {
		return fmt.Errorf("%w: max_charge_amps %d outside [%d, %d]", ErrInvalidSettings, settings.MaxChargeAmps, s.minAmps, s.maxAmps)
	}
	return nil
}
