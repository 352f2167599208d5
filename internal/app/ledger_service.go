package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/config"
	"github.com/dokzlo13/huefx/internal/db"
	"github.com/dokzlo13/huefx/internal/eventbus"
	"github.com/dokzlo13/huefx/internal/ledger"
)

// LedgerService records lifecycle events into SQLite.
type LedgerService struct {
	cfg         *config.Config
	DB          *db.DB
	Ledger      *ledger.Ledger
	unsubscribe func()
}

// NewLedgerService opens the ledger database. It returns nil when the
// ledger is disabled.
func NewLedgerService(cfg *config.Config) (*LedgerService, error) {
	if !cfg.Ledger.IsEnabled() {
		log.Info().Msg("Activity ledger disabled")
		return nil, nil
	}

	path := cfg.Ledger.Path
	if path == config.MemoryLedger {
		path = db.MemoryPath
	}

	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	return &LedgerService{
		cfg:    cfg,
		DB:     database,
		Ledger: ledger.New(database.DB),
	}, nil
}

// Start subscribes the ledger to every event and runs retention cleanup.
func (s *LedgerService) Start(ctx context.Context, bus *eventbus.Bus) {
	s.unsubscribe = bus.SubscribeAll(s.Ledger.Record)

	retention := s.cfg.Ledger.Retention()
	if retention <= 0 {
		return
	}
	go s.Ledger.RunCleanup(ctx, retention, s.cfg.Ledger.CleanupInterval.Duration())
}

// Close unsubscribes and closes the database.
func (s *LedgerService) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close ledger database")
		}
	}
}
