package codec

import (
	"fmt"
	"strings"
	"time"
)

// TimeHandler round-trips time.Time values through a signed map.
var TimeHandler = Handler{
	Name: "time",
	Match: func(v interface{}) bool {
		_, ok := v.(time.Time)
		return ok
	},
	Fields: []string{"timestamp"},
	Encode: func(v interface{}) (interface{}, error) {
		return map[string]interface{}{
			"timestamp": v.(time.Time).UTC().Format(time.RFC3339Nano),
		}, nil
	},
	Decode: func(fields map[string]interface{}) (interface{}, error) {
		s, ok := fields["timestamp"].(string)
		if !ok {
			return nil, fmt.Errorf("timestamp is %T, not a string", fields["timestamp"])
		}
		return time.Parse(time.RFC3339Nano, s)
	},
}

// Codec bundles the encoding map and identity encoders one job uses.
type Codec struct {
	Map      *EncodingMap
	identity []IdentityEncoder
}

// NewCodec builds a codec; without identity encoders JSONIdentity is used.
func NewCodec(m *EncodingMap, identity ...IdentityEncoder) *Codec {
	if m == nil {
		m = &EncodingMap{}
	}
	if len(identity) == 0 {
		identity = []IdentityEncoder{JSONIdentity}
	}
	return &Codec{Map: m, identity: identity}
}

func (c *Codec) Encode(v interface{}) (Tagged, error) {
	return c.Map.Encode(v)
}

func (c *Codec) Decode(t Tagged) (interface{}, error) {
	return c.Map.Decode(t)
}

// IdentityEncode tries each identity encoder in order and returns the first success.
func (c *Codec) IdentityEncode(v interface{}) (string, error) {
	reasons := make([]string, 0, len(c.identity))
	for _, enc := range c.identity {
		encoded, err := enc(c.Map, v)
		if err == nil {
			return encoded, nil
		}
		reasons = append(reasons, err.Error())
	}
	return "", &EncodeError{Value: v, Reason: "identity: " + strings.Join(reasons, "; ")}
}

// Identity returns the sha256 hex of the identity encoding.
func (c *Codec) Identity(v interface{}) (string, error) {
	encoded, err := c.IdentityEncode(v)
	if err != nil {
		return "", err
	}
	return Hash(encoded), nil
}

var defaultCodec = func() *Codec {
	m, err := NewEncodingMap(TimeHandler)
	if err != nil {
		panic(err)
	}
	return NewCodec(m)
}()

// Default returns the process-wide codec with the built-in handlers.
func Default() *Codec {
	return defaultCodec
}

func DefaultMap() *EncodingMap {
	return defaultCodec.Map
}

func Encode(v interface{}) (Tagged, error) {
	return defaultCodec.Encode(v)
}

func Decode(t Tagged) (interface{}, error) {
	return defaultCodec.Decode(t)
}

func IdentityEncode(v interface{}) (string, error) {
	return defaultCodec.IdentityEncode(v)
}

func Identity(v interface{}) (string, error) {
	return defaultCodec.Identity(v)
}
