package codec

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tag names the kind of a Tagged value on the wire.
type Tag string

const (
	TagMap    Tag = "M"
	TagList   Tag = "L"
	TagBinary Tag = "B"
	TagString Tag = "S"
)

// Tagged is the attribute-value form every payload is reduced to before it's
// written into a backing store. Only the field selected by Tag is meaningful.
type Tagged struct {
	Tag Tag
	M   map[string]Tagged
	L   []Tagged
	B   []byte
	S   string
}

func String(s string) Tagged { return Tagged{Tag: TagString, S: s} }

func Binary(b []byte) Tagged { return Tagged{Tag: TagBinary, B: b} }

func List(l ...Tagged) Tagged { return Tagged{Tag: TagList, L: l} }

func Map(m map[string]Tagged) Tagged { return Tagged{Tag: TagMap, M: m} }

// MarshalJSON renders the value as {"<tag>": <inner>}.
func (t Tagged) MarshalJSON() ([]byte, error) {
	var inner interface{}
	switch t.Tag {
	case TagMap:
		if t.M == nil {
			inner = map[string]Tagged{}
		} else {
			inner = t.M
		}
	case TagList:
		if t.L == nil {
			inner = []Tagged{}
		} else {
			inner = t.L
		}
	case TagBinary:
		if t.B == nil {
			inner = []byte{}
		} else {
			inner = t.B
		}
	case TagString:
		inner = t.S
	default:
		return nil, fmt.Errorf("codec: unknown tag %q", t.Tag)
	}
	return json.Marshal(map[string]interface{}{string(t.Tag): inner})
}

func (t *Tagged) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return &DecodeError{Reason: fmt.Sprintf("expected exactly one tag, got %d", len(raw))}
	}
	for key, inner := range raw {
		tagged := Tagged{Tag: Tag(key)}
		var err error
		switch tagged.Tag {
		case TagMap:
			err = json.Unmarshal(inner, &tagged.M)
			if err == nil && tagged.M == nil {
				tagged.M = map[string]Tagged{}
			}
		case TagList:
			err = json.Unmarshal(inner, &tagged.L)
			if err == nil && tagged.L == nil {
				tagged.L = []Tagged{}
			}
		case TagBinary:
			err = json.Unmarshal(inner, &tagged.B)
			if err == nil && tagged.B == nil {
				tagged.B = []byte{}
			}
		case TagString:
			err = json.Unmarshal(inner, &tagged.S)
		default:
			return &DecodeError{Tag: tagged.Tag, Reason: "unknown tag"}
		}
		if err != nil {
			return err
		}
		*t = tagged
	}
	return nil
}

// Marshal writes the JSON form of a tagged value.
func Marshal(t Tagged) ([]byte, error) {
	return json.Marshal(t)
}

// Unmarshal parses the JSON form written by Marshal.
func Unmarshal(data []byte) (Tagged, error) {
	var t Tagged
	if err := t.UnmarshalJSON(data); err != nil {
		return Tagged{}, err
	}
	return t, nil
}
