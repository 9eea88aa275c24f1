package zones

import (
	"time"

	"zone_watcher/internal/models"
)

// Apply — один шаг автомата зоны по закрытой свече.
// Смотрим только high/low, не close: пробой внутри бара не должен теряться.
// Стоп всегда проверяется раньше входа/цели, поэтому бар, задевший оба уровня,
// закрывается в сторону риска. За одну свечу — не больше одного перехода.
func Apply(z *models.Zone, c models.Candle, at time.Time) bool {
	next, ok := nextStatus(z, c)
	if !ok {
		return false
	}

	ts := at
	z.Status = next
	switch next {
	case models.ZoneFailed:
		z.FailedAt = &ts
	case models.ZoneEntryHit:
		z.EntryAt = &ts
	case models.ZoneStoplossHit:
		z.StoplossAt = &ts
	case models.ZoneTargetHit:
		z.TargetAt = &ts
	}
	return true
}

func nextStatus(z *models.Zone, c models.Candle) (models.ZoneStatus, bool) {
	long := z.Direction == models.DirectionLong

	// пробой стопа: для лонга вниз по low, для шорта вверх по high
	stopHit := c.Low <= z.Stoploss
	if !long {
		stopHit = c.High >= z.Stoploss
	}

	switch z.Status {
	case models.ZoneActive:
		if stopHit {
			return models.ZoneFailed, true
		}
		entryHit := c.Low <= z.Entry
		if !long {
			entryHit = c.High >= z.Entry
		}
		if entryHit {
			return models.ZoneEntryHit, true
		}

	case models.ZoneEntryHit:
		if stopHit {
			return models.ZoneStoplossHit, true
		}
		targetHit := c.High >= z.Target
		if !long {
			targetHit = c.Low <= z.Target
		}
		if targetHit {
			return models.ZoneTargetHit, true
		}
	}
	return z.Status, false
}
