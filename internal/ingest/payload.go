package ingest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// decodePayloadString renders a raw MQTT payload as the opaque string
// Source-A observations persist (spec.md §9: payloads stay untyped at
// the storage boundary). Matches
// `_examples/original_source/mqtt_logger/src/mqtt_logger/storage.py::insert_message`'s
// UTF-8-with-hex-fallback decoding so a non-text payload is still
// stored rather than dropped.
func decodePayloadString(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return hex.EncodeToString(payload)
}

// deviceEvent is Source B's wire shape (spec.md §6: "receive device
// events as JSON with at minimum {time, deviceId, payload:{...
// device-specific fields...}}"). LoraInfo.Signal is accepted as a
// fallback location for Signal since the real gateway
// (`yolink_client.py::_process_message`) nests it there rather than at
// the top level of payload.
type deviceEvent struct {
	Time     *time.Time  `json:"time"`
	DeviceID string      `json:"deviceId"`
	Payload  eventFields `json:"payload"`
}

type eventFields struct {
	Event       string   `json:"event"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Battery     *float64 `json:"battery"`
	Signal      *float64 `json:"signal"`
	LoraInfo    *struct {
		Signal *float64 `json:"signal"`
	} `json:"loraInfo"`
}

func parseDeviceEvent(payload []byte) (deviceEvent, error) {
	var ev deviceEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return deviceEvent{}, fmt.Errorf("decoding device event: %w", err)
	}
	if ev.Payload.Signal == nil && ev.Payload.LoraInfo != nil {
		ev.Payload.Signal = ev.Payload.LoraInfo.Signal
	}
	return ev, nil
}

func intPtr(v *float64) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
