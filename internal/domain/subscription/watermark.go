// internal/domain/subscription/watermark.go
package subscription

import (
	"database/sql"
	"time"

	"tariff-service/internal/domain/tariff"
)

// Watermark names one expiry-warning flag on a subscription.
type Watermark string

const (
	Watermark3d      Watermark = "notified_3d"
	Watermark1d      Watermark = "notified_1d"
	Watermark1h      Watermark = "notified_1h"
	Watermark15m     Watermark = "notified_15m"
	WatermarkExpired Watermark = "notified_expired"
)

// Column is the storage column of the watermark. Only these constants reach SQL.
func (w Watermark) Column() string { return string(w) }

func (w Watermark) Valid() bool {
	switch w {
	case Watermark3d, Watermark1d, Watermark1h, Watermark15m, WatermarkExpired:
		return true
	}
	return false
}

type Watermarks struct {
	Notified3d      sql.NullTime `json:"notified_3d" db:"notified_3d"`
	Notified1d      sql.NullTime `json:"notified_1d" db:"notified_1d"`
	Notified1h      sql.NullTime `json:"notified_1h" db:"notified_1h"`
	Notified15m     sql.NullTime `json:"notified_15m" db:"notified_15m"`
	NotifiedExpired sql.NullTime `json:"notified_expired" db:"notified_expired"`
}

func (w *Watermarks) ptr(m Watermark) *sql.NullTime {
	switch m {
	case Watermark3d:
		return &w.Notified3d
	case Watermark1d:
		return &w.Notified1d
	case Watermark1h:
		return &w.Notified1h
	case Watermark15m:
		return &w.Notified15m
	case WatermarkExpired:
		return &w.NotifiedExpired
	}
	return nil
}

func (w *Watermarks) IsSet(m Watermark) bool {
	p := w.ptr(m)
	return p != nil && p.Valid
}

func (w *Watermarks) Set(m Watermark, at time.Time) {
	if p := w.ptr(m); p != nil {
		*p = sql.NullTime{Time: at, Valid: true}
	}
}

func (w *Watermarks) Clear(m Watermark) {
	if p := w.ptr(m); p != nil {
		*p = sql.NullTime{}
	}
}

// Threshold is one warning horizon before end_at.
type Threshold struct {
	Watermark Watermark
	Before    time.Duration
	Label     string
}

// Crossed reports whether now is inside the warning window of endAt.
func (t Threshold) Crossed(endAt, now time.Time) bool {
	return !now.Before(endAt.Add(-t.Before))
}

var (
	threshold3d  = Threshold{Watermark: Watermark3d, Before: 72 * time.Hour, Label: "3 days"}
	threshold1d  = Threshold{Watermark: Watermark1d, Before: 24 * time.Hour, Label: "1 day"}
	threshold1h  = Threshold{Watermark: Watermark1h, Before: time.Hour, Label: "1 hour"}
	threshold15m = Threshold{Watermark: Watermark15m, Before: 15 * time.Minute, Label: "15 minutes"}
)

// ThresholdTable maps a tariff class to its warning horizons, longest first.
type ThresholdTable struct {
	longMin time.Duration
	sets    map[tariff.Class][]Threshold
}

func NewThresholdTable(longTariffMin time.Duration) *ThresholdTable {
	return &ThresholdTable{
		longMin: longTariffMin,
		sets: map[tariff.Class][]Threshold{
			tariff.ClassLong:  {threshold3d, threshold1d},
			tariff.ClassShort: {threshold1h, threshold15m},
		},
	}
}

func (tt *ThresholdTable) For(t *tariff.Tariff) []Threshold {
	return tt.sets[t.ClassFor(tt.longMin)]
}

// All returns every threshold horizon regardless of class.
func (tt *ThresholdTable) All() []Threshold {
	return []Threshold{threshold3d, threshold1d, threshold1h, threshold15m}
}

// ResetAfterExtension clears the warnings that must fire again for the new end_at: a
// threshold watermark is cleared when its window has not been re-entered yet, and the
// expired watermark is cleared whenever the new end lies in the future.
func ResetAfterExtension(w *Watermarks, all []Threshold, newEnd, now time.Time) []Watermark {
	var cleared []Watermark
	for _, th := range all {
		if w.IsSet(th.Watermark) && !th.Crossed(newEnd, now) {
			w.Clear(th.Watermark)
			cleared = append(cleared, th.Watermark)
		}
	}
	if w.IsSet(WatermarkExpired) && newEnd.After(now) {
		w.Clear(WatermarkExpired)
		cleared = append(cleared, WatermarkExpired)
	}
	return cleared
}
