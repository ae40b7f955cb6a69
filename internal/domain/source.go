package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceID is the stable name of one upstream producer, e.g. "detection" or "lidar".
type SourceID string

// Format is the wire encoding a source publishes in.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat maps a configuration value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

// SourceSpec is the static configuration of one source.
type SourceSpec struct {
	ID          SourceID
	Endpoint    string
	Format      Format
	Placeholder json.RawMessage
	Schema      string
}

// PlaceholderOrDefault returns the configured placeholder, falling back to the
// conventional empty document for well-known source ids.
func (s SourceSpec) PlaceholderOrDefault() json.RawMessage {
	if len(s.Placeholder) > 0 {
		return s.Placeholder
	}
	return DefaultPlaceholder(s.ID)
}

var defaultPlaceholders = map[SourceID]string{
	"detection": `{"detections":[],"image":null}`,
	"lidar":     `{"points":[],"scan_frequency":0,"timestamp":0}`,
	"imu":       `{"roll":0,"pitch":0,"yaw":0}`,
}

// DefaultPlaceholder is the "not yet available" value for a source that has
// never produced data.
func DefaultPlaceholder(id SourceID) json.RawMessage {
	if p, ok := defaultPlaceholders[id]; ok {
		return json.RawMessage(p)
	}
	return json.RawMessage("null")
}

// SourceStatus is a point-in-time view of one source's cache entry.
type SourceStatus struct {
	ID           SourceID        `json:"id"`
	Endpoint     string          `json:"endpoint"`
	Live         bool            `json:"live"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Received     uint64          `json:"received"`
	DecodeErrors uint64          `json:"decode_errors"`
	Payload      json.RawMessage `json:"payload"`
}
