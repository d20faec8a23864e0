package relay

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeReport(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    LocationReport
		wantErr string
	}{
		{
			name: "flat coordinates, RFC 3339",
			body: `{"busId":"B1","routeId":"R1","latitude":20.5,"longitude":85.8,"speed":7.5,"timestamp":"2024-03-01T10:00:00Z"}`,
			want: LocationReport{BusID: "B1", RouteID: "R1", Latitude: 20.5, Longitude: 85.8, Speed: floatPtr(7.5), Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		},
		{
			name: "nested location, epoch millis",
			body: `{"busId":"B1","routeId":"R1","location":{"latitude":0,"longitude":0},"timestamp":1709287200000}`,
			want: LocationReport{BusID: "B1", RouteID: "R1", Timestamp: time.UnixMilli(1709287200000).UTC()},
		},
		{
			name: "no timestamp",
			body: `{"busId":"B1","routeId":"R1","latitude":1,"longitude":2}`,
			want: LocationReport{BusID: "B1", RouteID: "R1", Latitude: 1, Longitude: 2},
		},
		{name: "not json", body: `{`, wantErr: "body"},
		{name: "missing latitude", body: `{"busId":"B1","routeId":"R1","longitude":2}`, wantErr: "latitude"},
		{name: "missing longitude", body: `{"busId":"B1","routeId":"R1","latitude":2}`, wantErr: "longitude"},
		{name: "bad timestamp", body: `{"busId":"B1","routeId":"R1","latitude":1,"longitude":2,"timestamp":"yesterday"}`, wantErr: "timestamp"},
		{name: "out of range", body: `{"busId":"B1","routeId":"R1","latitude":95,"longitude":2}`, wantErr: "latitude"},
		{name: "missing bus", body: `{"routeId":"R1","latitude":1,"longitude":2}`, wantErr: "busId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReport([]byte(tt.body))
			if tt.wantErr != "" {
				var ire *InvalidReportError
				if !errors.As(err, &ire) || !errors.Is(err, ErrInvalidReport) {
					t.Fatalf("err = %v, want InvalidReportError", err)
				}
				if ire.Field != tt.wantErr {
					t.Fatalf("field = %q, want %q", ire.Field, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeReport: %v", err)
			}
			if got.BusID != tt.want.BusID || got.RouteID != tt.want.RouteID ||
				got.Latitude != tt.want.Latitude || got.Longitude != tt.want.Longitude ||
				!got.Timestamp.Equal(tt.want.Timestamp) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if (got.Speed == nil) != (tt.want.Speed == nil) || (got.Speed != nil && *got.Speed != *tt.want.Speed) {
				t.Fatalf("speed = %v, want %v", got.Speed, tt.want.Speed)
			}
		})
	}
}
