package models

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

type ZoneStatus string

const (
	ZoneActive      ZoneStatus = "ACTIVE"
	ZoneEntryHit    ZoneStatus = "ENTRY_HIT"
	ZoneFailed      ZoneStatus = "FAILED"
	ZoneStoplossHit ZoneStatus = "STOPLOSS_HIT"
	ZoneTargetHit   ZoneStatus = "TARGET_HIT"
)

// LiveStatuses — статусы, которые ещё проверяются на каждой свече.
var LiveStatuses = []ZoneStatus{ZoneActive, ZoneEntryHit}

func (s ZoneStatus) Live() bool {
	return s == ZoneActive || s == ZoneEntryHit
}

func (s ZoneStatus) Terminal() bool {
	switch s {
	case ZoneFailed, ZoneStoplossHit, ZoneTargetHit:
		return true
	}
	return false
}

// Zone — торговый сетап пользователя. Создаётся и удаляется снаружи,
// ядро меняет только статус и время перехода.
type Zone struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	InstrumentID int64     `json:"ticker_id"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"type"`

	Entry    float64 `json:"entry"`
	Stoploss float64 `json:"stoploss"`
	Target   float64 `json:"target"`

	Status ZoneStatus `json:"status"`

	EntryAt    *time.Time `json:"entry_at,omitempty"`
	TargetAt   *time.Time `json:"target_at,omitempty"`
	StoplossAt *time.Time `json:"stoploss_at,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`

	User User `json:"-"`
}

// TransitionAt — время, записанное для статуса s (nil, если его нет).
func (z *Zone) TransitionAt(s ZoneStatus) *time.Time {
	switch s {
	case ZoneEntryHit:
		return z.EntryAt
	case ZoneTargetHit:
		return z.TargetAt
	case ZoneStoplossHit:
		return z.StoplossAt
	case ZoneFailed:
		return z.FailedAt
	}
	return nil
}

func (z *Zone) String() string {
	return fmt.Sprintf("Zone(#%d %s %s entry=%g sl=%g tgt=%g status=%s)",
		z.ID, z.Symbol, z.Direction, z.Entry, z.Stoploss, z.Target, z.Status)
}
