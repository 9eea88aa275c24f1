// Package markethours — торговое окно биржи в фиксированной таймзоне.
//
// Одно и то же окно используется и для приёма тиков, и для решения
// управляющего цикла о подключении к фиду.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // Asia/Kolkata в контейнере без zoneinfo
)

const dateLayout = "2006-01-02"

// Hours — торговые часы: будни, [Open, Close] включительно, минус праздники.
type Hours struct {
	loc      *time.Location
	open     time.Duration // смещение от полуночи
	close    time.Duration
	holidays map[string]struct{}
}

// New собирает окно. open/close в формате "15:04".
func New(loc *time.Location, open, close string, holidays []string) (*Hours, error) {
	if loc == nil {
		return nil, fmt.Errorf("markethours.New: nil location")
	}
	o, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("markethours.New: open: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("markethours.New: close: %w", err)
	}
	if c <= o {
		return nil, fmt.Errorf("markethours.New: close %s must be after open %s", close, open)
	}

	h := &Hours{loc: loc, open: o, close: c, holidays: make(map[string]struct{}, len(holidays))}
	for _, d := range holidays {
		day, err := time.ParseInLocation(dateLayout, d, loc)
		if err != nil {
			return nil, fmt.Errorf("markethours.New: holiday %q: %w", d, err)
		}
		h.holidays[day.Format(dateLayout)] = struct{}{}
	}
	return h, nil
}

// MustNew — для тестов и дефолтов.
func MustNew(loc *time.Location, open, close string, holidays ...string) *Hours {
	h, err := New(loc, open, close, holidays)
	if err != nil {
		panic(err)
	}
	return h
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (h *Hours) Location() *time.Location { return h.loc }

// TradingDay — будний день и не праздник.
func (h *Hours) TradingDay(t time.Time) bool {
	t = t.In(h.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := h.holidays[t.Format(dateLayout)]
	return !holiday
}

// IsOpen — t попадает в торговое окно своего дня.
func (h *Hours) IsOpen(t time.Time) bool {
	if !h.TradingDay(t) {
		return false
	}
	t = t.In(h.loc)
	start, end := h.sessionBounds(t)
	return !t.Before(start) && !t.After(end)
}

// NextOpen — ближайшее открытие строго после now (или сегодняшнее, если оно ещё не наступило).
func (h *Hours) NextOpen(now time.Time) time.Time {
	now = now.In(h.loc)
	day := midnight(now)
	if start := day.Add(h.open); !now.Before(start) {
		day = day.AddDate(0, 0, 1)
	}
	for !h.TradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return h.at(day, h.open)
}

// NextClose — конец текущей сессии (если рынок открыт) или следующей.
func (h *Hours) NextClose(now time.Time) time.Time {
	if h.IsOpen(now) {
		_, end := h.sessionBounds(now.In(h.loc))
		return end
	}
	open := h.NextOpen(now)
	return h.at(midnight(open), h.close)
}

func (h *Hours) sessionBounds(t time.Time) (time.Time, time.Time) {
	day := midnight(t)
	return h.at(day, h.open), h.at(day, h.close)
}

// at строит время через time.Date, чтобы переходы часового пояса не сдвигали сессию.
func (h *Hours) at(day time.Time, offset time.Duration) time.Time {
	hh := int(offset / time.Hour)
	mm := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, h.loc)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FloorWindow — ключ окна свечи: время в loc, секунды округлены вниз до кратного window.
func FloorWindow(t time.Time, window time.Duration, loc *time.Location) time.Time {
	t = t.In(loc)
	step := int(window / time.Second)
	if step <= 0 {
		step = 1
	}
	if window >= time.Minute && window%time.Minute == 0 {
		minutes := int(window / time.Minute)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), (t.Minute()/minutes)*minutes, 0, 0, loc)
	}
	sec := (t.Second() / step) * step
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), sec, 0, loc)
}
