// Package config loads the tier quota table: monthly token ceilings and
// per-operation-class fixed-window rate limits. A YAML file can override the
// embedded defaults; a missing file means defaults, a malformed file is an
// error (quota config silently falling back would loosen the admission gate).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vizboard/vizboard-backend/internal/domain/account"
	"github.com/vizboard/vizboard-backend/internal/pkg/logger"
)

type RateLimit struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

type TierLimits struct {
	TokensLimit int64                                    `yaml:"tokens_limit"`
	Rates       map[account.OperationClass]RateLimit `yaml:"rates"`
}

type Limits struct {
	DefaultTier account.Tier                `yaml:"default_tier"`
	Tiers       map[account.Tier]TierLimits `yaml:"tiers"`
}

func DefaultLimits() *Limits {
	return &Limits{
		DefaultTier: account.TierFree,
		Tiers: map[account.Tier]TierLimits{
			account.TierFree: {
				TokensLimit: 50_000,
				Rates: map[account.OperationClass]RateLimit{
					account.OpGeneration: {Limit: 5, WindowSeconds: 60},
					account.OpExpansion:  {Limit: 10, WindowSeconds: 60},
					account.OpSave:       {Limit: 30, WindowSeconds: 60},
					account.OpDelete:     {Limit: 30, WindowSeconds: 60},
					account.OpExport:     {Limit: 10, WindowSeconds: 60},
					account.OpShare:      {Limit: 10, WindowSeconds: 60},
				},
			},
			account.TierPro: {
				TokensLimit: 500_000,
				Rates: map[account.OperationClass]RateLimit{
					account.OpGeneration: {Limit: 20, WindowSeconds: 60},
					account.OpExpansion:  {Limit: 40, WindowSeconds: 60},
					account.OpSave:       {Limit: 120, WindowSeconds: 60},
					account.OpDelete:     {Limit: 120, WindowSeconds: 60},
					account.OpExport:     {Limit: 40, WindowSeconds: 60},
					account.OpShare:      {Limit: 40, WindowSeconds: 60},
				},
			},
			account.TierEnterprise: {
				TokensLimit: 5_000_000,
				Rates: map[account.OperationClass]RateLimit{
					account.OpGeneration: {Limit: 100, WindowSeconds: 60},
					account.OpExpansion:  {Limit: 200, WindowSeconds: 60},
					account.OpSave:       {Limit: 600, WindowSeconds: 60},
					account.OpDelete:     {Limit: 600, WindowSeconds: 60},
					account.OpExport:     {Limit: 200, WindowSeconds: 60},
					account.OpShare:      {Limit: 200, WindowSeconds: 60},
				},
			},
		},
	}
}

// LoadLimits reads path when it exists and overlays it on the defaults.
// Unknown tiers or operation classes in the file are rejected.
func LoadLimits(path string, log *logger.Logger) (*Limits, error) {
	limits := DefaultLimits()
	if path == "" {
		return limits, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if log != nil {
				log.Info("Limits file not found, using defaults", "path", path)
			}
			return limits, nil
		}
		return nil, fmt.Errorf("read limits file: %w", err)
	}

	var overlay Limits
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}

	if overlay.DefaultTier != "" {
		if !account.ValidTier(overlay.DefaultTier) {
			return nil, fmt.Errorf("limits file: unknown default tier %q", overlay.DefaultTier)
		}
		limits.DefaultTier = overlay.DefaultTier
	}
	for tier, tl := range overlay.Tiers {
		if !account.ValidTier(tier) {
			return nil, fmt.Errorf("limits file: unknown tier %q", tier)
		}
		base := limits.Tiers[tier]
		if tl.TokensLimit > 0 {
			base.TokensLimit = tl.TokensLimit
		}
		for class, rl := range tl.Rates {
			if !account.ValidOperationClass(class) {
				return nil, fmt.Errorf("limits file: unknown operation class %q", class)
			}
			if rl.Limit <= 0 || rl.WindowSeconds <= 0 {
				return nil, fmt.Errorf("limits file: non-positive rate for %s/%s", tier, class)
			}
			base.Rates[class] = rl
		}
		limits.Tiers[tier] = base
	}
	return limits, nil
}

// TokensLimit returns the monthly token ceiling for tier, falling back to the
// default tier's ceiling for unknown tiers.
func (l *Limits) TokensLimit(tier account.Tier) int64 {
	if tl, ok := l.Tiers[tier]; ok {
		return tl.TokensLimit
	}
	return l.Tiers[l.DefaultTier].TokensLimit
}

// Rate returns the fixed-window rate limit for tier × class.
func (l *Limits) Rate(tier account.Tier, class account.OperationClass) (RateLimit, bool) {
	tl, ok := l.Tiers[tier]
	if !ok {
		tl, ok = l.Tiers[l.DefaultTier]
		if !ok {
			return RateLimit{}, false
		}
	}
	rl, ok := tl.Rates[class]
	return rl, ok
}
