package router

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies the class of an inbound broker message.
type Kind int

const (
	// KindUnhandled is any topic matching no known pattern.
	KindUnhandled Kind = iota
	// KindHeartbeat is a liveness signal on <prefix>/{code}/heartbeat.
	KindHeartbeat
	// KindDeviceCheck is a registration probe on the check topic.
	KindDeviceCheck
	// KindSensorReading is a telemetry reading, device code in topic or payload.
	KindSensorReading
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindDeviceCheck:
		return "device_check"
	case KindSensorReading:
		return "sensor_reading"
	default:
		return "unhandled"
	}
}

// TopicScheme describes the inbound topic layout.
type TopicScheme struct {
	// Prefix is the leading topic segment, e.g. "floodwatch" for
	// floodwatch/+/sensor.
	Prefix string
	// CheckTopic is the fixed device-check topic. Defaults to
	// <prefix>/check/device.
	CheckTopic string
}

// DefaultScheme returns the scheme for a prefix with the conventional check
// topic.
func DefaultScheme(prefix string) TopicScheme {
	return TopicScheme{
		Prefix:     prefix,
		CheckTopic: prefix + "/check/device",
	}
}

// Filters returns the subscription filters covering every topic the scheme
// recognizes.
func (s TopicScheme) Filters() []string {
	return []string{
		s.Prefix + "/+/heartbeat",
		s.Prefix + "/+/sensor",
		s.Prefix + "/sensor",
		s.CheckTopic,
	}
}

// Event is the typed result of classifying one (topic, payload) pair. It is
// a closed union over Kind: handlers switch on Kind and read only the fields
// that kind defines.
type Event struct {
	Kind  Kind
	Topic string

	// DeviceCode is resolved from the topic segment when the pattern embeds
	// one, otherwise from the payload. Empty when neither carries it.
	DeviceCode    string
	CodeFromTopic bool

	Description  string
	LocationHint string
	Timestamp    *time.Time

	WaterLevel *float64
	Rainfall   *float64

	// ParseError is set when the payload was present but not valid JSON.
	// Classification never fails; the router decides how to report it.
	ParseError error
}

// Metric key aliases, first present non-null wins.
var (
	waterLevelKeys = []string{"waterlevel_cm", "waterLevel", "waterlevel"}
	rainfallKeys   = []string{"rainfall_mm", "rainfall", "rain"}
	deviceCodeKeys = []string{"deviceCode", "code"}
)

// Classify maps an inbound (topic, payload) pair onto a typed Event. It is a
// pure function: no I/O, no side effects, total over arbitrary input.
func Classify(scheme TopicScheme, topic string, payload []byte) Event {
	ev := Event{Kind: KindUnhandled, Topic: topic}

	if topic == scheme.CheckTopic {
		ev.Kind = KindDeviceCheck
	} else if code, ok := matchDeviceTopic(scheme.Prefix, topic, "heartbeat"); ok {
		ev.Kind = KindHeartbeat
		ev.DeviceCode = code
		ev.CodeFromTopic = true
	} else if code, ok := matchDeviceTopic(scheme.Prefix, topic, "sensor"); ok {
		ev.Kind = KindSensorReading
		ev.DeviceCode = code
		ev.CodeFromTopic = true
	} else if topic == scheme.Prefix+"/sensor" {
		// Legacy form: device code travels in the payload.
		ev.Kind = KindSensorReading
	} else {
		return ev
	}

	fields, err := parsePayload(payload)
	if err != nil {
		ev.ParseError = err
		return ev
	}
	if fields == nil {
		return ev
	}

	if !ev.CodeFromTopic {
		if code := firstString(fields, deviceCodeKeys); code != nil {
			ev.DeviceCode = *code
		}
	}
	if desc := firstString(fields, []string{"description"}); desc != nil {
		ev.Description = *desc
	}
	if hint := firstString(fields, []string{"location"}); hint != nil {
		ev.LocationHint = *hint
	}
	ev.Timestamp = parseTimestamp(fields["timestamp"])
	ev.WaterLevel = firstFloat(fields, waterLevelKeys)
	ev.Rainfall = firstFloat(fields, rainfallKeys)

	return ev
}

// matchDeviceTopic matches <prefix>/{code}/<suffix> with a non-empty code.
func matchDeviceTopic(prefix, topic, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	code, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || code == "" || strings.Contains(code, "/") {
		return "", false
	}
	return code, true
}

// parsePayload decodes a JSON object tolerantly, preserving number precision.
// An empty payload is not an error: heartbeats may carry none.
func parsePayload(payload []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func firstFloat(fields map[string]any, keys []string) *float64 {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case string:
			// Field devices occasionally quote their numbers.
			if f, err := json.Number(v).Float64(); err == nil {
				return &f
			}
		}
	}
	return nil
}

func firstString(fields map[string]any, keys []string) *string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		if s, ok := raw.(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

// parseTimestamp accepts RFC3339 strings or unix-seconds numbers.
func parseTimestamp(raw any) *time.Time {
	switch v := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			utc := ts.UTC()
			return &utc
		}
	case json.Number:
		if secs, err := v.Int64(); err == nil && secs > 0 {
			ts := time.Unix(secs, 0).UTC()
			return &ts
		}
	}
	return nil
}
