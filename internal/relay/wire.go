package relay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// wireReport is the JSON shape bus agents send. Coordinates may be flat or
// nested under "location"; the timestamp may be RFC 3339 or epoch millis.
type wireReport struct {
	BusID     string          `json:"busId"`
	RouteID   string          `json:"routeId"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Location  *Location       `json:"location"`
	Speed     *float64        `json:"speed"`
	Heading   *float64        `json:"heading"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// DecodeReport parses and validates one JSON location report. Every failure
// is an *InvalidReportError.
func DecodeReport(data []byte) (LocationReport, error) {
	var w wireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return LocationReport{}, &InvalidReportError{Field: "body", Reason: "is not valid JSON"}
	}
	r := LocationReport{
		BusID:   w.BusID,
		RouteID: w.RouteID,
		Speed:   w.Speed,
		Heading: w.Heading,
	}
	switch {
	case w.Latitude != nil && w.Longitude != nil:
		r.Latitude, r.Longitude = *w.Latitude, *w.Longitude
	case w.Location != nil:
		r.Latitude, r.Longitude = w.Location.Latitude, w.Location.Longitude
	case w.Latitude == nil:
		return LocationReport{}, &InvalidReportError{Field: "latitude", Reason: "is required"}
	default:
		return LocationReport{}, &InvalidReportError{Field: "longitude", Reason: "is required"}
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return LocationReport{}, &InvalidReportError{Field: "timestamp", Reason: "must be RFC 3339 or epoch milliseconds"}
	}
	r.Timestamp = ts
	if err := Validate(r); err != nil {
		return LocationReport{}, err
	}
	return r, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
