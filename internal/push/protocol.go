// Package push carries subscribe commands and vehicle events between the
// relay and browser clients over WebSocket. Every frame is a JSON envelope
// naming one event.
package push

import (
	"bytes"
	"encoding/json"

	"github.com/juju/errors"

	"pysakki/internal/rooms"
)

// Inbound command names.
const (
	CommandStartVehicle = "startVehicle"
	CommandStopVehicle  = "stopVehicle"
)

// Envelope is the wire form of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Handler executes client commands.
type Handler interface {
	Subscribe(sub rooms.Subscriber, vehicleRef string)
	Unsubscribe(sub rooms.Subscriber, vehicleRef string)
	Disconnect(sub rooms.Subscriber)
}

// EncodeEvent renders an outbound frame.
func EncodeEvent(event string, payload any) ([]byte, error) {
	b, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding %s", event)
	}
	return b, nil
}

// DecodeRef reads a vehicle reference sent as a JSON string or number.
// Absent and null data decode to the empty reference.
func DecodeRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.NewNotValid(err, "vehicle reference")
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", errors.NewNotValid(err, "vehicle reference")
		}
		return n.String(), nil
	}
	return "", errors.NotValidf("vehicle reference %s", raw)
}

// dispatch routes one inbound frame to h on behalf of sub.
func dispatch(h Handler, sub rooms.Subscriber, frame []byte) error {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return errors.NewNotValid(err, "frame")
	}
	switch env.Event {
	case CommandStartVehicle:
		ref, err := DecodeRef(env.Data)
		if err != nil {
			return errors.Trace(err)
		}
		h.Subscribe(sub, ref)
	case CommandStopVehicle:
		ref, err := DecodeRef(env.Data)
		if err != nil {
			return errors.Trace(err)
		}
		h.Unsubscribe(sub, ref)
	default:
		return errors.NotSupportedf("event %q", env.Event)
	}
	return nil
}
