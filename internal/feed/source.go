// Package feed polls upstream GTFS-RT and SIRI vehicle feeds and turns
// changed positions into relay location reports.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Vehicle is one vehicle position normalised from an upstream feed.
type Vehicle struct {
	ID        string
	RouteID   string
	Lat       float64
	Lon       float64
	Speed     *float64
	Bearing   *float64
	Timestamp time.Time
}

// VehicleFeedSource fetches the current vehicle positions of a feed.
type VehicleFeedSource interface {
	Fetch(ctx context.Context) ([]Vehicle, error)
}

type httpSource struct {
	kind       string
	url        string
	httpClient *http.Client
}

func newHTTPSource(kind, url string, timeout time.Duration) httpSource {
	return httpSource{kind: kind, url: url, httpClient: &http.Client{Timeout: timeout}}
}

// open issues the GET and returns the body of a 200 response.
func (s httpSource) open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%s http status: %d", s.kind, resp.StatusCode)
	}
	return resp.Body, nil
}

func parseLatLon(lat, lon string) (float64, float64, bool) {
	lf, err1 := strconv.ParseFloat(lat, 64)
	if err1 != nil {
		return 0, 0, false
	}
	lo, err2 := strconv.ParseFloat(lon, 64)
	if err2 != nil {
		return 0, 0, false
	}
	return lf, lo, true
}

func parseOptionalFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
