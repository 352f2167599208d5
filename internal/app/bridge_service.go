package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/bridge"
	"github.com/dokzlo13/huefx/internal/config"
)

// BridgeService owns the Hue bridge client.
type BridgeService struct {
	cfg    *config.Config
	Client *bridge.Client
}

// NewBridgeService resolves the bridge address and creates a client.
// The bridge is not contacted until Start.
func NewBridgeService(ctx context.Context, cfg *config.Config) (*BridgeService, error) {
	addr := cfg.Bridge.Address
	if strings.EqualFold(addr, config.AutoDiscover) {
		found, err := bridge.Discover(ctx, cfg.Bridge.DiscoveryTimeout.Duration())
		if err != nil {
			return nil, err
		}
		addr = found
	}

	client := bridge.NewClient(addr, cfg.Bridge.Username, bridge.Options{
		Timeout:      cfg.Bridge.Timeout.Duration(),
		ListCacheTTL: cfg.Bridge.ListCacheTTL.Duration(),
		RateLimitRPS: cfg.Bridge.RateLimitRPS,
	})

	return &BridgeService{cfg: cfg, Client: client}, nil
}

// Start checks the bridge. An unreachable bridge is not fatal: requests
// report transport errors and /ready stays unavailable until it answers.
func (s *BridgeService) Start(ctx context.Context) {
	if err := s.Client.Connect(ctx); err != nil {
		log.Warn().Err(err).Str("address", s.Client.Address()).Msg("Hue bridge not reachable, continuing")
	}
}

// Ready reports whether the bridge answers a lights listing.
func (s *BridgeService) Ready(ctx context.Context) error {
	_, err := s.Client.ListLights(ctx)
	return err
}

// Close releases idle connections.
func (s *BridgeService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
