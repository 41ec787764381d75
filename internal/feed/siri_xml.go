package feed

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/juju/errors"

	"pysakki/internal/vehicle"
)

// SiriXMLSource reads a SIRI VehicleMonitoring delivery encoded as XML.
type SiriXMLSource struct {
	feed *httpFeed
}

// Element names are matched on their local part, so any SIRI namespace
// prefix is accepted.
type xmlVehicleActivity struct {
	RecordedAtTime string `xml:"RecordedAtTime"`
	Journey        struct {
		LineRef                 string `xml:"LineRef"`
		DirectionRef            string `xml:"DirectionRef"`
		OperatorRef             string `xml:"OperatorRef"`
		OriginName              string `xml:"OriginName"`
		DestinationName         string `xml:"DestinationName"`
		BlockRef                string `xml:"BlockRef"`
		VehicleRef              string `xml:"VehicleRef"`
		Monitored               string `xml:"Monitored"`
		Bearing                 number `xml:"Bearing"`
		FramedVehicleJourneyRef struct {
			DatedVehicleJourneyRef string `xml:"DatedVehicleJourneyRef"`
		} `xml:"FramedVehicleJourneyRef"`
		VehicleLocation struct {
			Latitude  number `xml:"Latitude"`
			Longitude number `xml:"Longitude"`
		} `xml:"VehicleLocation"`
	} `xml:"MonitoredVehicleJourney"`
}

// UnmarshalText lets number decode from XML character data.
func (n *number) UnmarshalText(b []byte) error {
	return n.UnmarshalJSON([]byte(`"` + strings.TrimSpace(string(b)) + `"`))
}

// Fetch implements Source.
func (s *SiriXMLSource) Fetch(ctx context.Context) (map[string]vehicle.Observation, error) {
	body, err := s.feed.get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer body.Close()
	return DecodeSiriXML(body)
}

// DecodeSiriXML streams the document and decodes each VehicleActivity
// element as it is reached.
func DecodeSiriXML(r io.Reader) (map[string]vehicle.Observation, error) {
	dec := xml.NewDecoder(r)
	out := make(map[string]vehicle.Observation)
	sawDelivery := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewNotValid(err, "siri xml payload")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "VehicleMonitoringDelivery":
			sawDelivery = true
		case "VehicleActivity":
			var va xmlVehicleActivity
			if err := dec.DecodeElement(&va, &se); err != nil {
				return nil, errors.NewNotValid(err, "siri xml VehicleActivity")
			}
			mvj := va.Journey
			ref := strings.TrimSpace(mvj.VehicleRef)
			if ref == "" {
				continue
			}
			obs := vehicle.Observation{
				VehicleRef:             ref,
				LineRef:                mvj.LineRef,
				BlockRef:               mvj.BlockRef,
				DirectionRef:           mvj.DirectionRef,
				OperatorRef:            mvj.OperatorRef,
				OriginName:             mvj.OriginName,
				DestinationName:        mvj.DestinationName,
				DestinationDisplay:     mvj.DestinationName,
				DatedVehicleJourneyRef: mvj.FramedVehicleJourneyRef.DatedVehicleJourneyRef,
				TripRef:                mvj.FramedVehicleJourneyRef.DatedVehicleJourneyRef,
				Latitude:               float64(mvj.VehicleLocation.Latitude),
				Longitude:              float64(mvj.VehicleLocation.Longitude),
				Bearing:                float64(mvj.Bearing),
				Monitored:              boolFrom(strings.TrimSpace(mvj.Monitored), true),
				RecordedAtTime:         unixFromISO(strings.TrimSpace(va.RecordedAtTime)),
			}
			out[ref] = obs
		}
	}
	if !sawDelivery {
		return nil, errors.NotValidf("siri xml payload without VehicleMonitoringDelivery")
	}
	return out, nil
}
