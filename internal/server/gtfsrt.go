package server

import (
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/campustrack/busrelay/internal/logging"
	"github.com/campustrack/busrelay/internal/relay"
)

// vehiclePositions exports the last known positions as a GTFS-Realtime
// VehiclePositions feed. ?format=json returns the protojson rendering.
func (a *api) vehiclePositions(w http.ResponseWriter, r *http.Request) {
	feed := buildFeed(a.hub.Cache().Snapshot(r.URL.Query().Get("routeId")), a.now())

	if r.URL.Query().Get("format") == "json" {
		b, err := protojson.MarshalOptions{Multiline: true}.Marshal(feed)
		if err != nil {
			a.log.Error(r.Context(), "encode gtfs-rt json failed", logging.Err(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
		return
	}
	b, err := proto.Marshal(feed)
	if err != nil {
		a.log.Error(r.Context(), "encode gtfs-rt failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(b)
}

func buildFeed(updates []relay.LocationUpdate, now time.Time) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(updates)),
	}
	for _, u := range updates {
		pos := &gtfs.Position{
			Latitude:  proto.Float32(float32(u.Location.Latitude)),
			Longitude: proto.Float32(float32(u.Location.Longitude)),
		}
		if u.Speed != nil {
			pos.Speed = proto.Float32(float32(*u.Speed))
		}
		if u.Heading != nil {
			pos.Bearing = proto.Float32(float32(*u.Heading))
		}
		vd := &gtfs.VehicleDescriptor{Id: proto.String(u.BusID)}
		if u.BusNumber != "" {
			vd.Label = proto.String(u.BusNumber)
		}
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id: proto.String(u.BusID),
			Vehicle: &gtfs.VehiclePosition{
				Trip:      &gtfs.TripDescriptor{RouteId: proto.String(u.RouteID)},
				Vehicle:   vd,
				Position:  pos,
				Timestamp: proto.Uint64(uint64(u.Timestamp.Unix())),
			},
		})
	}
	return feed
}
