package vehicle

import "github.com/paulmach/orb/geojson"

// FeatureCollection renders the last-known position of every vehicle that
// has one as GeoJSON point features keyed by vehicle reference.
func (s *Store) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, obs := range s.All() {
		if !obs.HasPosition() {
			continue
		}
		f := geojson.NewFeature(obs.Point())
		f.ID = obs.VehicleRef
		f.Properties["vehicleRef"] = obs.VehicleRef
		f.Properties["lineRef"] = obs.LineRef
		f.Properties["destinationDisplay"] = obs.DestinationDisplay
		f.Properties["recordedAtTime"] = obs.RecordedAtTime
		f.Properties["monitored"] = obs.Monitored
		fc.Append(f)
	}
	return fc
}
