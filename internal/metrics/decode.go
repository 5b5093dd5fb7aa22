package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	apperrors "homeapi/internal/errors"
)

// maxUploadBytes caps an upload body.
const maxUploadBytes = 64 << 20

type object map[string]json.RawMessage

// DecodeLocations reads a JSON array of location objects.
func DecodeLocations(r io.Reader) ([]Location, error) {
	objs, err := decodeArray(r, "location")
	if err != nil {
		return nil, err
	}

	locations := make([]Location, 0, len(objs))
	for i, obj := range objs {
		var (
			l    Location
			errs fieldErrors
		)
		l.Date = errs.time(obj, "date")
		l.Latitude = errs.float(obj, "latitude")
		l.Longitude = errs.float(obj, "longitude")
		l.Altitude = errs.float(obj, "altitude")
		l.HorizontalAccuracy = errs.float(obj, "horizontal_accuracy")
		l.VerticalAccuracy = errs.float(obj, "vertical_accuracy")
		l.Course = errs.optionalFloat(obj, "course")
		l.Speed = errs.optionalFloat(obj, "speed")
		l.Floor = errs.optionalInt32(obj, "floor")
		if errs.err != nil {
			return nil, errs.validation("location", i)
		}
		l.normalize()
		locations = append(locations, l)
	}
	return locations, nil
}

// DecodeVisits reads a JSON array of visit objects.
func DecodeVisits(r io.Reader) ([]Visit, error) {
	objs, err := decodeArray(r, "visit")
	if err != nil {
		return nil, err
	}

	visits := make([]Visit, 0, len(objs))
	for i, obj := range objs {
		var (
			v    Visit
			errs fieldErrors
		)
		v.Arrival = errs.optionalTime(obj, "arrival")
		v.Departure = errs.optionalTime(obj, "departure")
		v.Latitude = errs.float(obj, "latitude")
		v.Longitude = errs.float(obj, "longitude")
		v.HorizontalAccuracy = errs.float(obj, "horizontal_accuracy")
		if errs.err != nil {
			return nil, errs.validation("visit", i)
		}
		visits = append(visits, v)
	}
	return visits, nil
}

func decodeArray(r io.Reader, kind string) ([]object, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("reading %s data: %v", kind, err), nil)
	}
	if len(body) > maxUploadBytes {
		return nil, apperrors.ValidationError(kind+" data too large", nil)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil || items == nil {
		return nil, apperrors.ValidationError(kind+" json is not a json array", nil)
	}

	objs := make([]object, len(items))
	for i, raw := range items {
		var obj object
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return nil, apperrors.ValidationError(
				fmt.Sprintf("%s %d is not a json object", kind, i),
				map[string]any{"index": i},
			)
		}
		objs[i] = obj
	}
	return objs, nil
}

// fieldErrors keeps the first field error of an object so decoding can
// read every field without checking each one.
type fieldErrors struct {
	field string
	err   error
}

func (e *fieldErrors) fail(field string, err error) {
	if e.err == nil {
		e.field, e.err = field, err
	}
}

func (e *fieldErrors) validation(kind string, index int) error {
	return apperrors.ValidationError(
		fmt.Sprintf("%s %d: error getting '%s': %v", kind, index, e.field, e.err),
		map[string]any{"index": index, "field": e.field},
	)
}

func isNull(raw json.RawMessage) bool {
	return raw == nil || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (e *fieldErrors) float(obj object, key string) float64 {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		e.fail(key, fmt.Errorf("%s is required", key))
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		e.fail(key, fmt.Errorf("expected %s to be number but found %s", key, raw))
	}
	return f
}

func (e *fieldErrors) optionalFloat(obj object, key string) *float64 {
	if isNull(obj[key]) {
		return nil
	}
	f := e.float(obj, key)
	return &f
}

func (e *fieldErrors) optionalInt32(obj object, key string) *int32 {
	raw := obj[key]
	if isNull(raw) {
		return nil
	}
	var n int32
	if err := json.Unmarshal(raw, &n); err != nil {
		e.fail(key, fmt.Errorf("expected %s to be integer but found %s", key, raw))
		return nil
	}
	return &n
}

func (e *fieldErrors) time(obj object, key string) time.Time {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		e.fail(key, fmt.Errorf("%s is required", key))
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		e.fail(key, fmt.Errorf("expected %s to be string but found %s", key, raw))
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		e.fail(key, fmt.Errorf("parsing datetime %q: %w", s, err))
		return time.Time{}
	}
	return t.UTC()
}

func (e *fieldErrors) optionalTime(obj object, key string) *time.Time {
	if isNull(obj[key]) {
		return nil
	}
	t := e.time(obj, key)
	return &t
}

// ParseRange parses the RFC 3339 start and end of a range query.
func ParseRange(start, end string) (Range, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Range{}, apperrors.ValidationError(
			fmt.Sprintf("parsing %q as start date: %v", start, err),
			map[string]string{"field": "start"},
		)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return Range{}, apperrors.ValidationError(
			fmt.Sprintf("parsing %q as end date: %v", end, err),
			map[string]string{"field": "end"},
		)
	}
	if e.Before(s) {
		return Range{}, apperrors.ValidationError("end date is before start date", nil)
	}
	return Range{Start: s, End: e}, nil
}
