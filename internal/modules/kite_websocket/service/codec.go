package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"zone_watcher/internal/models"
)

const (
	frameTicks = "ticks"
	frameError = "error"

	naiveLayout = "2006-01-02 15:04:05"
)

// command — управляющий кадр клиента: {"a": action, "v": value}.
type command struct {
	A string `json:"a"`
	V any    `json:"v"`
}

func subscribeCommand(tokens []uint32) command {
	return command{A: "subscribe", V: tokens}
}

func modeCommand(mode string, tokens []uint32) command {
	return command{A: "mode", V: []any{mode, tokens}}
}

type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireTick struct {
	InstrumentToken uint32  `json:"instrument_token"`
	LastPrice       float64 `json:"last_price"`
	Volume          int64   `json:"volume"`
	LastTradeTime   any     `json:"last_trade_time"`
}

// frame — разобранный входящий кадр. Заполнено либо Ticks, либо Error.
type frame struct {
	Ticks []models.Tick
	Error string
}

// decodeFrame разбирает текстовый кадр фида. Время сделки приводится к loc.
func decodeFrame(raw []byte, loc *time.Location) (frame, error) {
	var f wireFrame
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return frame{}, errors.Wrap(err, "decode frame")
	}

	switch f.Type {
	case frameTicks:
		var wire []wireTick
		if err := sonic.Unmarshal(f.Data, &wire); err != nil {
			return frame{}, errors.Wrap(err, "decode ticks")
		}
		out := make([]models.Tick, 0, len(wire))
		for _, w := range wire {
			out = append(out, models.Tick{
				InstrumentToken: w.InstrumentToken,
				LastPrice:       w.LastPrice,
				Volume:          w.Volume,
				LastTradeTime:   parseTradeTime(w.LastTradeTime, loc),
			})
		}
		return frame{Ticks: out}, nil
	case frameError:
		var msg string
		if err := sonic.Unmarshal(f.Data, &msg); err != nil {
			msg = strings.TrimSpace(string(f.Data))
		}
		return frame{Error: msg}, nil
	}
	return frame{}, errors.Errorf("unknown frame type %q", f.Type)
}

// parseTradeTime: RFC3339, naive локальное время биржи или unix-секунды.
// Нераспознанное значение даёт нулевое время, такой тик потом отбрасывается.
func parseTradeTime(v any, loc *time.Location) time.Time {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.In(loc)
		}
		if ts, err := time.ParseInLocation(naiveLayout, t, loc); err == nil {
			return ts
		}
	case float64:
		if t <= 0 {
			return time.Time{}
		}
		sec := int64(t)
		nsec := int64((t - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).In(loc)
	}
	return time.Time{}
}
