package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Default encodes cached partition metadata unless a client is configured
// otherwise.
var Default Codec = GoJSON{}

var (
	_ Codec = GoJSON{}
	_ Codec = JSON{}
)

// GoJSON encodes with github.com/goccy/go-json. Records it writes decode
// with JSON and the other way round.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name returns "go-json".
func (GoJSON) Name() string { return "go-json" }

// JSON encodes with encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "json".
func (JSON) Name() string { return "json" }
