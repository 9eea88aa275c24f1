package storage

import (
	"context"
	"time"

	"zone_watcher/internal/models"
)

// Store — всё, что ядру нужно от БД. Каждая запись — отдельная транзакция.
type Store interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	GetInstrument(ctx context.Context, token uint32) (models.Instrument, error)
	UpdateInstrumentPrice(ctx context.Context, id int64, price float64, at time.Time) error
	LiveZones(ctx context.Context, instrumentID int64) ([]*models.Zone, error)
	SaveZone(ctx context.Context, zone *models.Zone) error
	Admins(ctx context.Context) ([]models.User, error)
}
