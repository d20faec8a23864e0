package feed

import (
	"context"
	"io"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// GtfsRtSource reads a GTFS-Realtime VehiclePositions feed.
type GtfsRtSource struct {
	httpSource
}

// NewGtfsRtSource returns a source for the VehiclePositions feed at url.
func NewGtfsRtSource(url string, timeout time.Duration) *GtfsRtSource {
	return &GtfsRtSource{httpSource: newHTTPSource("gtfs-rt", url, timeout)}
}

// Fetch downloads and decodes the current feed message.
func (s *GtfsRtSource) Fetch(ctx context.Context) ([]Vehicle, error) {
	body, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(b, &feed); err != nil {
		return nil, err
	}
	return vehiclesFromFeed(&feed), nil
}

func vehiclesFromFeed(feed *gtfs.FeedMessage) []Vehicle {
	vehicles := make([]Vehicle, 0, len(feed.GetEntity()))
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil || vp.Position == nil {
			continue
		}
		id := vp.GetVehicle().GetId()
		if id == "" {
			continue
		}
		pos := vp.Position
		if pos.Latitude == nil || pos.Longitude == nil {
			continue
		}
		v := Vehicle{
			ID:      id,
			RouteID: vp.GetTrip().GetRouteId(),
			Lat:     float64(pos.GetLatitude()),
			Lon:     float64(pos.GetLongitude()),
		}
		if pos.Speed != nil {
			sp := float64(pos.GetSpeed())
			v.Speed = &sp
		}
		if pos.Bearing != nil {
			b := float64(pos.GetBearing())
			v.Bearing = &b
		}
		if ts := vp.GetTimestamp(); ts > 0 {
			v.Timestamp = time.Unix(int64(ts), 0).UTC()
		}
		vehicles = append(vehicles, v)
	}
	return vehicles
}
