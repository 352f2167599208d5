package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/effect"
	"github.com/dokzlo13/huefx/internal/effect/rainbow"
	"github.com/dokzlo13/huefx/internal/effect/script"
)

// NewEffectRegistry registers the built-in effects and any Lua scripts
// found in the configured directory.
func NewEffectRegistry(cfg *config.Config) (*effect.Registry, error) {
	registry := effect.NewRegistry()

	rb := rainbow.New(cfg.Effects.RainbowStep.Duration())
	if err := registry.Register(rb.Descriptor(), rb); err != nil {
		return nil, err
	}

	if cfg.Effects.ScriptsDir == "" {
		return registry, nil
	}

	scripts, err := script.LoadDir(cfg.Effects.ScriptsDir, cfg.Effects.RainbowStep.Duration())
	if err != nil {
		return nil, err
	}
	for _, s := range scripts {
		if err := registry.Register(s.Descriptor(), s); err != nil {
			log.Warn().Err(err).Str("effect", s.Descriptor().ID).Msg("Skipping script effect")
			continue
		}
		log.Info().
			Str("effect", s.Descriptor().ID).
			Dur("delay", s.Delay()).
			Msg("Loaded script effect")
	}

	return registry, nil
}
