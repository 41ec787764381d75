package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/juju/errors"

	"pysakki/internal/vehicle"
)

// FoliSource reads the Föli SIRI vehicle monitoring endpoint, which wraps
// its vehicles in {"result": {"vehicles": {"<ref>": {...}}}}.
type FoliSource struct {
	feed *httpFeed
}

type foliResponse struct {
	Sys    string      `json:"sys"`
	Status string      `json:"status"`
	Result *foliResult `json:"result"`
}

type foliResult struct {
	ResponseTimestamp int64        `json:"responsetimestamp"`
	ProducerRef       string       `json:"producerref"`
	Vehicles          foliVehicles `json:"vehicles"`
}

// foliVehicles is the vehicles object. The upstream sends an empty array
// instead of an empty object when it has no vehicles.
type foliVehicles map[string]foliVehicle

func (v *foliVehicles) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		if len(items) > 0 {
			return errors.NotValidf("non-empty vehicles array")
		}
		*v = foliVehicles{}
		return nil
	}
	m := make(map[string]foliVehicle)
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*v = m
	return nil
}

type foliVehicle struct {
	VehicleRef             string `json:"vehicleref"`
	LineRef                string `json:"lineref"`
	BlockRef               string `json:"blockref"`
	TripRef                string `json:"__tripref"`
	DatedVehicleJourneyRef string `json:"datedvehiclejourneyref"`
	DirectionRef           string `json:"directionref"`
	OperatorRef            string `json:"operatorref"`
	OriginName             string `json:"originname"`
	DestinationName        string `json:"destinationname"`
	DestinationDisplay     string `json:"destinationdisplay"`
	Monitored              bool   `json:"monitored"`
	Latitude               number `json:"latitude"`
	Longitude              number `json:"longitude"`
	Bearing                number `json:"bearing"`
	RecordedAtTime         number `json:"recordedattime"`
	DelaySecs              number `json:"delaysecs"`
}

// Fetch implements Source.
func (s *FoliSource) Fetch(ctx context.Context) (map[string]vehicle.Observation, error) {
	b, err := s.feed.readAll(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return DecodeFoli(b)
}

// DecodeFoli parses a Föli vehicle monitoring payload. A payload without
// result.vehicles is not valid; an empty vehicles object or array is.
func DecodeFoli(b []byte) (map[string]vehicle.Observation, error) {
	var resp foliResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, errors.NewNotValid(err, "föli payload")
	}
	if resp.Result == nil || resp.Result.Vehicles == nil {
		return nil, errors.NotValidf("föli payload without result.vehicles")
	}
	out := make(map[string]vehicle.Observation, len(resp.Result.Vehicles))
	for ref, v := range resp.Result.Vehicles {
		if ref == "" {
			continue
		}
		if v.VehicleRef != "" && v.VehicleRef != ref {
			logger.Debugf("vehicle key %q carries vehicleref %q, using key", ref, v.VehicleRef)
		}
		out[ref] = vehicle.Observation{
			VehicleRef:             ref,
			LineRef:                v.LineRef,
			BlockRef:               v.BlockRef,
			TripRef:                v.TripRef,
			DestinationDisplay:     v.DestinationDisplay,
			Latitude:               float64(v.Latitude),
			Longitude:              float64(v.Longitude),
			RecordedAtTime:         int64(v.RecordedAtTime),
			Monitored:              v.Monitored,
			DirectionRef:           v.DirectionRef,
			OriginName:             v.OriginName,
			DestinationName:        v.DestinationName,
			OperatorRef:            v.OperatorRef,
			DatedVehicleJourneyRef: v.DatedVehicleJourneyRef,
			Bearing:                float64(v.Bearing),
			DelaySecs:              int64(v.DelaySecs),
		}
	}
	return out, nil
}

// number accepts a JSON number, a numeric string or null.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}
