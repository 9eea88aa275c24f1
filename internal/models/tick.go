package models

import "time"

// Tick — одно событие сделки из фида.
type Tick struct {
	InstrumentToken uint32
	LastPrice       float64
	Volume          int64 // 0, если фид не прислал объём
	LastTradeTime   time.Time
}

// Valid — есть цена и время сделки. Остальное фильтруется выше по стеку.
func (t Tick) Valid() bool {
	return t.InstrumentToken != 0 && t.LastPrice > 0 && !t.LastTradeTime.IsZero()
}
