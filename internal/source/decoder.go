package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pscheid92/sensorbridge/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xeipuuv/gojsonschema"
)

// Decoder turns one raw upstream message into the JSON document cached for a source.
// Decoders are immutable after construction and safe for concurrent use.
type Decoder struct {
	format domain.Format
	schema *gojsonschema.Schema
}

// NewDecoder builds the decoder for a source, compiling its schema if one is configured.
func NewDecoder(spec domain.SourceSpec) (*Decoder, error) {
	d := &Decoder{format: spec.Format}
	if d.format == "" {
		d.format = domain.FormatJSON
	}

	if strings.TrimSpace(spec.Schema) != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(spec.Schema))
		if err != nil {
			return nil, fmt.Errorf("source %s: invalid schema: %w", spec.ID, err)
		}
		d.schema = schema
	}
	return d, nil
}

// Decode returns the compact JSON form of raw, or an error wrapping domain.ErrDecode.
func (d *Decoder) Decode(raw []byte) (json.RawMessage, error) {
	var doc []byte
	switch d.format {
	case domain.FormatMsgpack:
		var v any
		if err := msgpack.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: msgpack: %v", domain.ErrDecode, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: msgpack to json: %v", domain.ErrDecode, err)
		}
		doc = out
	default:
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: invalid json", domain.ErrDecode)
		}
		// json.Valid accepts invalid UTF-8 inside strings; websocket text frames do not.
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: invalid utf-8", domain.ErrDecode)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		doc = buf.Bytes()
	}

	if d.schema != nil {
		result, err := d.schema.Validate(gojsonschema.NewBytesLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("%w: schema: %v", domain.ErrDecode, err)
		}
		if !result.Valid() {
			return nil, fmt.Errorf("%w: schema: %s", domain.ErrDecode, result.Errors()[0])
		}
	}
	return json.RawMessage(doc), nil
}
