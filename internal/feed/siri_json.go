package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/juju/errors"

	"pysakki/internal/vehicle"
)

// SiriJSONSource reads a standard SIRI VehicleMonitoring delivery encoded
// as JSON.
type SiriJSONSource struct {
	feed *httpFeed
}

// Fetch implements Source.
func (s *SiriJSONSource) Fetch(ctx context.Context) (map[string]vehicle.Observation, error) {
	b, err := s.feed.readAll(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return DecodeSiriJSON(b)
}

// DecodeSiriJSON walks Siri?.ServiceDelivery.VehicleMonitoringDelivery[].VehicleActivity[].
// Producers disagree on wrappers, so the tree is walked loosely.
func DecodeSiriJSON(b []byte) (map[string]vehicle.Observation, error) {
	var root map[string]any
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, errors.NewNotValid(err, "siri json payload")
	}
	if siri, ok := root["Siri"].(map[string]any); ok && siri != nil {
		root = siri
	}
	sd, ok := root["ServiceDelivery"].(map[string]any)
	if !ok {
		return nil, errors.NotValidf("siri json payload without ServiceDelivery")
	}
	out := make(map[string]vehicle.Observation)
	for _, vmdAny := range asSlice(sd["VehicleMonitoringDelivery"]) {
		vmd, _ := vmdAny.(map[string]any)
		for _, vaAny := range asSlice(vmd["VehicleActivity"]) {
			va, _ := vaAny.(map[string]any)
			mvj, _ := va["MonitoredVehicleJourney"].(map[string]any)
			if mvj == nil {
				continue
			}
			ref := stringFrom(mvj["VehicleRef"])
			if ref == "" {
				continue
			}
			obs := vehicle.Observation{
				VehicleRef:             ref,
				LineRef:                stringFrom(mvj["LineRef"]),
				BlockRef:               stringFrom(mvj["BlockRef"]),
				DirectionRef:           stringFrom(mvj["DirectionRef"]),
				OperatorRef:            stringFrom(mvj["OperatorRef"]),
				OriginName:             stringFrom(mvj["OriginName"]),
				DestinationName:        stringFrom(mvj["DestinationName"]),
				DestinationDisplay:     stringFrom(mvj["DestinationDisplay"]),
				DatedVehicleJourneyRef: stringFromNested(mvj, "FramedVehicleJourneyRef", "DatedVehicleJourneyRef"),
				Latitude:               floatFromNested(mvj, "VehicleLocation", "Latitude"),
				Longitude:              floatFromNested(mvj, "VehicleLocation", "Longitude"),
				Bearing:                floatFrom(mvj["Bearing"]),
				Monitored:              boolFrom(mvj["Monitored"], true),
				RecordedAtTime:         unixFromISO(stringFrom(va["RecordedAtTime"])),
			}
			obs.TripRef = obs.DatedVehicleJourneyRef
			if obs.DestinationDisplay == "" {
				obs.DestinationDisplay = obs.DestinationName
			}
			out[ref] = obs
		}
	}
	return out, nil
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		return []any{t}
	}
	return nil
}

// stringFrom also unwraps the {"value": "..."} form some producers emit
// and single element arrays of it.
func stringFrom(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return stringFrom(t["value"])
	case []any:
		if len(t) > 0 {
			return stringFrom(t[0])
		}
	}
	return ""
}

func stringFromNested(m map[string]any, k1, k2 string) string {
	m1, _ := m[k1].(map[string]any)
	return stringFrom(m1[k2])
}

func floatFrom(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func floatFromNested(m map[string]any, k1, k2 string) float64 {
	m1, _ := m[k1].(map[string]any)
	return floatFrom(m1[k2])
}

func boolFrom(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// unixFromISO returns 0 when s is not an ISO-8601 timestamp.
func unixFromISO(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}
