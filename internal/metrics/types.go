// Package metrics serves personal location, visit and computer-usage
// history stored in PostgreSQL.
package metrics

import (
	"encoding/json"
	"time"
)

// timeLayout is RFC 3339 with millisecond precision, always in UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Location is one GPS sample.
type Location struct {
	Date               time.Time
	Latitude           float64
	Longitude          float64
	Altitude           float64
	HorizontalAccuracy float64
	VerticalAccuracy   float64
	Course             *float64 // nil when unknown
	Speed              *float64 // nil when unknown
	Floor              *int32
}

type locationJSON struct {
	Date               string   `json:"date"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	Altitude           float64  `json:"altitude"`
	HorizontalAccuracy float64  `json:"horizontal_accuracy"`
	VerticalAccuracy   float64  `json:"vertical_accuracy"`
	Course             *float64 `json:"course"`
	Speed              *float64 `json:"speed"`
	Floor              *int32   `json:"floor"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(locationJSON{
		Date:               formatTime(l.Date),
		Latitude:           l.Latitude,
		Longitude:          l.Longitude,
		Altitude:           l.Altitude,
		HorizontalAccuracy: l.HorizontalAccuracy,
		VerticalAccuracy:   l.VerticalAccuracy,
		Course:             l.Course,
		Speed:              l.Speed,
		Floor:              l.Floor,
	})
}

// normalize drops the negative course and speed values devices report
// when the value is unknown.
func (l *Location) normalize() {
	if l.Course != nil && *l.Course < 0 {
		l.Course = nil
	}
	if l.Speed != nil && *l.Speed < 0 {
		l.Speed = nil
	}
}

// Visit is a stay at one place. Either end may be unknown.
type Visit struct {
	Arrival            *time.Time
	Departure          *time.Time
	Latitude           float64
	Longitude          float64
	HorizontalAccuracy float64
}

type visitJSON struct {
	Arrival            *string `json:"arrival"`
	Departure          *string `json:"departure"`
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	HorizontalAccuracy float64 `json:"horizontal_accuracy"`
}

func (v Visit) MarshalJSON() ([]byte, error) {
	out := visitJSON{
		Latitude:           v.Latitude,
		Longitude:          v.Longitude,
		HorizontalAccuracy: v.HorizontalAccuracy,
	}
	if v.Arrival != nil {
		s := formatTime(*v.Arrival)
		out.Arrival = &s
	}
	if v.Departure != nil {
		s := formatTime(*v.Departure)
		out.Departure = &s
	}
	return json.Marshal(out)
}

// TimeIn is the average time of day, in minutes after midnight, that the
// work computer is first used on a weekday.
type TimeIn struct {
	DayOfWeek  string  `json:"day_of_week"`
	AvgMinutes float64 `json:"avg_minutes"`
}

type ProgramUsage struct {
	HourOfDay   float64 `json:"hour_of_day"`
	Program     string  `json:"program"`
	WindowTitle string  `json:"window_title"`
	Count       int64   `json:"count"`
}

// Range bounds a query. A zero Start or End leaves that side open.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) bounds() (start, end *time.Time) {
	if !r.Start.IsZero() {
		s := r.Start.UTC()
		start = &s
	}
	if !r.End.IsZero() {
		e := r.End.UTC()
		end = &e
	}
	return start, end
}
