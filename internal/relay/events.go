package relay

import "pysakki/internal/vehicle"

// Outbound event names.
const (
	EventStartUpdate = "startUpdate"
	EventUpdate      = "update"
)

const roomPrefix = "vehicle-"

// RoomName is the room a vehicle's updates are published to. It is keyed
// by vehicle reference, never block reference: a block is a duty that
// several vehicles can run during a day.
func RoomName(vehicleRef string) string {
	return roomPrefix + vehicleRef
}

// Snapshot is sent to a client once when it subscribes. T is nil when the
// vehicle has not been observed yet, with Lat and Lon zero.
type Snapshot struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	T   *int64  `json:"t"`
}

// Update is published to a vehicle's room when its recorded time changes.
type Update struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	T   int64   `json:"t"`
}

func snapshotOf(obs vehicle.Observation) Snapshot {
	t := obs.RecordedAtTime
	return Snapshot{Lat: obs.Latitude, Lon: obs.Longitude, T: &t}
}

func updateOf(obs vehicle.Observation) Update {
	return Update{Lat: obs.Latitude, Lon: obs.Longitude, T: obs.RecordedAtTime}
}
