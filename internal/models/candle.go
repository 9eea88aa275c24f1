package models

import (
	"fmt"
	"time"
)

// Candle — OHLCV по одному инструменту за окно [Start, Start+window).
type Candle struct {
	InstrumentToken uint32
	Start           time.Time

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	TickCount int
}

// NewCandle открывает свечу первым тиком окна.
func NewCandle(token uint32, start time.Time, price float64, volume int64) *Candle {
	return &Candle{
		InstrumentToken: token,
		Start:           start,
		Open:            price,
		High:            price,
		Low:             price,
		Close:           price,
		Volume:          volume,
		TickCount:       1,
	}
}

// Update применяет очередной тик того же окна.
func (c *Candle) Update(price float64, volume int64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
	c.TickCount++
}

// Complete — окно свечи истекло к моменту now.
func (c Candle) Complete(now time.Time, window time.Duration) bool {
	return now.Sub(c.Start) >= window
}

func (c Candle) String() string {
	return fmt.Sprintf("Candle(O:%g H:%g L:%g C:%g V:%d)", c.Open, c.High, c.Low, c.Close, c.Volume)
}
