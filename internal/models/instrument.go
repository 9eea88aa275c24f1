package models

import "time"

// Instrument — запись тикера из БД. Ядро меняет только LastPrice/LastUpdated.
type Instrument struct {
	ID          int64     `json:"id"`
	Token       uint32    `json:"instrument_token"`
	Symbol      string    `json:"symbol"`
	LastPrice   float64   `json:"last_price"`
	LastUpdated time.Time `json:"last_updated"`
}
