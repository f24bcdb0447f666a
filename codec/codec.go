// Package codec encodes partition metadata records and catalog documents.
//
// Cached metadata records are read back with the codec that wrote them.
// Switching codecs turns records that no longer decode into cache misses.
package codec

import (
	"fmt"
	"strings"
)

// Codec marshals values. Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

var builtin = []Codec{GoJSON{}, JSON{}}

// ByName returns the built-in codec registered under name. Matching ignores
// case and surrounding space.
func ByName(name string) (Codec, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range builtin {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Names lists the names accepted by ByName.
func Names() []string {
	names := make([]string, len(builtin))
	for i, c := range builtin {
		names[i] = c.Name()
	}
	return names
}

// MustMarshal marshals v with c, or with Default when c is nil, and panics
// on failure. It is meant for tests and fixtures.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s: marshal %T: %w", c.Name(), v, err))
	}
	return b
}
