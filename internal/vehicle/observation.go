// Package vehicle holds the live vehicle model and the process-wide store of
// last-known observations.
package vehicle

import "github.com/paulmach/orb"

// Observation is one upstream report for one vehicle at one instant.
// RecordedAtTime is in unix seconds and never decreases for a vehicle.
type Observation struct {
	VehicleRef         string  `json:"vehicleRef"`
	LineRef            string  `json:"lineRef,omitempty"`
	BlockRef           string  `json:"blockRef,omitempty"`
	TripRef            string  `json:"tripRef,omitempty"`
	DestinationDisplay string  `json:"destinationDisplay,omitempty"`
	Latitude           float64 `json:"lat"`
	Longitude          float64 `json:"lon"`
	RecordedAtTime     int64   `json:"recordedAtTime"`
	Monitored          bool    `json:"monitored"`

	DirectionRef           string  `json:"directionRef,omitempty"`
	OriginName             string  `json:"originName,omitempty"`
	DestinationName        string  `json:"destinationName,omitempty"`
	OperatorRef            string  `json:"operatorRef,omitempty"`
	DatedVehicleJourneyRef string  `json:"datedVehicleJourneyRef,omitempty"`
	Bearing                float64 `json:"bearing,omitempty"`
	DelaySecs              int64   `json:"delaySecs,omitempty"`
}

// Point returns the observed position in lon/lat order.
func (o Observation) Point() orb.Point {
	return orb.Point{o.Longitude, o.Latitude}
}

// HasPosition reports whether the observation carries a usable coordinate.
// Unmonitored vehicles are reported by Föli without one.
func (o Observation) HasPosition() bool {
	return o.Latitude != 0 || o.Longitude != 0
}
