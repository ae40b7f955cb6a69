package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotEntry is one source's slot in a merged snapshot.
type SnapshotEntry struct {
	Source  SourceID
	Payload json.RawMessage
	Live    bool
}

// MergedSnapshot is the combined latest-known state of all sources at one tick.
// It is a value: built fresh each tick and never mutated afterwards.
type MergedSnapshot struct {
	Seq         uint64
	AssembledAt time.Time
	Entries     []SnapshotEntry
}

// Payload returns the entry for id.
func (s MergedSnapshot) Payload(id SourceID) (json.RawMessage, bool) {
	for _, e := range s.Entries {
		if e.Source == id {
			return e.Payload, true
		}
	}
	return nil, false
}

// MarshalJSON renders {"<source-id>": <payload>, ...} in configuration order.
func (s MergedSnapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range s.Entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(e.Source))
		if err != nil {
			return nil, fmt.Errorf("marshal source id %q: %w", e.Source, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(e.Payload) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(e.Payload)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
