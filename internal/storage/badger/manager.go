package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// Manager aggregates the typed storages over one Badger store
type Manager struct {
	db      *BadgerDB
	jobs    interfaces.JobStorage
	batches interfaces.BatchStorage
	logger  arbor.ILogger
}

// NewManager opens the store and wires the typed storages
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:      db,
		jobs:    NewJobStorage(db, logger),
		batches: NewBatchStorage(db, logger),
		logger:  logger,
	}, nil
}

func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

func (m *Manager) Batches() interfaces.BatchStorage {
	return m.batches
}

// Ping verifies the store is open and usable
func (m *Manager) Ping(ctx context.Context) error {
	if m.db == nil || m.db.Store() == nil {
		return fmt.Errorf("storage not initialized")
	}
	if m.db.Store().Badger().IsClosed() {
		return fmt.Errorf("storage is closed")
	}
	return nil
}

func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage")
	return m.db.Close()
}
