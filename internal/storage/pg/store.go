// Package pg — хранилище на postgres через pkg/db.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"zone_watcher/internal/models"
	"zone_watcher/internal/storage"
	"zone_watcher/pkg/db"
)

type Store struct {
	db db.TxManager
}

var _ storage.Store = (*Store)(nil)

// New instance
func New(tm db.TxManager) *Store {
	return &Store{db: tm}
}

func (s *Store) ListInstruments(ctx context.Context) (out []models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListInstruments: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, listInstrumentsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) GetInstrument(ctx context.Context, token uint32) (inst models.Instrument, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GetInstrument %d: %w", token, err)
		}
	}()

	inst, err = scanInstrument(s.db.Conn().QueryRow(ctx, getInstrumentSQL, int64(token)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Instrument{}, storage.ErrInstrumentNotFound
	}
	return inst, err
}

func scanInstrument(row pgx.Row) (models.Instrument, error) {
	var (
		inst    models.Instrument
		token   int64
		updated *time.Time
	)
	if err := row.Scan(&inst.ID, &token, &inst.Symbol, &inst.LastPrice, &updated); err != nil {
		return models.Instrument{}, err
	}
	inst.Token = uint32(token)
	if updated != nil {
		inst.LastUpdated = *updated
	}
	return inst, nil
}

func (s *Store) UpdateInstrumentPrice(ctx context.Context, id int64, price float64, at time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpdateInstrumentPrice %d: %w", id, err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, updateInstrumentPriceSQL, id, price, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrInstrumentNotFound
		}
		return nil
	})
}

func (s *Store) LiveZones(ctx context.Context, instrumentID int64) (out []*models.Zone, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.LiveZones %d: %w", instrumentID, err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, liveZonesSQL, instrumentID, liveStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			z         models.Zone
			direction string
			status    string
		)
		err := rows.Scan(
			&z.ID, &z.UserID, &z.InstrumentID, &z.Symbol, &direction,
			&z.Entry, &z.Stoploss, &z.Target, &status,
			&z.EntryAt, &z.TargetAt, &z.StoplossAt, &z.FailedAt,
			&z.User.ID, &z.User.Name, &z.User.Email, &z.User.TelegramChatID, &z.User.IsAdmin,
		)
		if err != nil {
			return nil, err
		}
		z.Direction = models.Direction(direction)
		z.Status = models.ZoneStatus(status)
		out = append(out, &z)
	}
	return out, rows.Err()
}

// SaveZone — одна транзакция на один переход. Если зону удалили или она уже
// не живая, возвращает storage.ErrZoneNotFound.
func (s *Store) SaveZone(ctx context.Context, zone *models.Zone) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveZone %d: %w", zone.ID, err)
		}
	}()

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, saveZoneSQL,
			zone.ID, string(zone.Status),
			zone.EntryAt, zone.TargetAt, zone.StoplossAt, zone.FailedAt,
			liveStatuses(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrZoneNotFound
		}
		return nil
	})
}

func (s *Store) Admins(ctx context.Context) (out []models.User, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Admins: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx, adminsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.TelegramChatID, &u.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
