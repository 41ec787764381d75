package feed

import (
	"context"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/juju/errors"
	"google.golang.org/protobuf/proto"

	"pysakki/internal/vehicle"
)

// GTFSRTSource reads GTFS-Realtime vehicle positions.
type GTFSRTSource struct {
	feed *httpFeed
}

// Fetch implements Source.
func (s *GTFSRTSource) Fetch(ctx context.Context) (map[string]vehicle.Observation, error) {
	b, err := s.feed.readAll(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return DecodeGTFSRT(b)
}

// DecodeGTFSRT converts the vehicle entities of a FeedMessage. Entities
// without a vehicle id or position are skipped; a missing per-vehicle
// timestamp falls back to the feed header timestamp.
func DecodeGTFSRT(b []byte) (map[string]vehicle.Observation, error) {
	var msg gtfs.FeedMessage
	if err := proto.Unmarshal(b, &msg); err != nil {
		return nil, errors.NewNotValid(err, "gtfs-rt payload")
	}
	headerTS := int64(msg.GetHeader().GetTimestamp())
	out := make(map[string]vehicle.Observation, len(msg.GetEntity()))
	for _, ent := range msg.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		ref := vp.GetVehicle().GetId()
		if ref == "" {
			continue
		}
		ts := int64(vp.GetTimestamp())
		if ts == 0 {
			ts = headerTS
		}
		trip := vp.GetTrip()
		out[ref] = vehicle.Observation{
			VehicleRef:         ref,
			LineRef:            trip.GetRouteId(),
			TripRef:            trip.GetTripId(),
			DestinationDisplay: vp.GetVehicle().GetLabel(),
			Latitude:           float64(vp.GetPosition().GetLatitude()),
			Longitude:          float64(vp.GetPosition().GetLongitude()),
			Bearing:            float64(vp.GetPosition().GetBearing()),
			RecordedAtTime:     ts,
			Monitored:          true,
		}
	}
	return out, nil
}
