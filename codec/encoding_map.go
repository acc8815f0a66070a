package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// SignatureKey is the reserved map key carrying a handler's field signature.
const SignatureKey = "bert-etl-encoding-map-signature"

const (
	intPrefix   = "int:"
	floatPrefix = "float:"
	boolPrefix  = "bool:"
	nullValue   = "null:"
)

// Handler encodes values of a type the canonical payload forms don't cover.
//
// A handler producing a map (the default Tag) must return exactly the declared
// Fields; the map is signed so Decode can route it back to this handler.
// Handlers with another Tag are one-way: their output is encoded as-is.
type Handler struct {
	Name   string
	Match  func(v interface{}) bool
	Tag    Tag
	Fields []string
	Encode func(v interface{}) (interface{}, error)
	Decode func(fields map[string]interface{}) (interface{}, error)
}

func (h *Handler) tag() Tag {
	if h.Tag == "" {
		return TagMap
	}
	return h.Tag
}

// Signature returns sha256(concat(sorted field names)) in hex.
func Signature(fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

type signedHandler struct {
	Handler
	signature string
}

// EncodingMap is an ordered list of handlers. The zero value has no handlers.
type EncodingMap struct {
	mu          sync.RWMutex
	handlers    []*signedHandler
	bySignature map[string]*signedHandler
}

func NewEncodingMap(handlers ...Handler) (*EncodingMap, error) {
	m := &EncodingMap{}
	for _, h := range handlers {
		if err := m.Add(h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add appends a handler; the first matching handler wins on encode.
func (m *EncodingMap) Add(h Handler) error {
	if h.Name == "" || h.Match == nil || h.Encode == nil {
		return fmt.Errorf("codec: handler %q needs a name, a matcher and an encoder", h.Name)
	}
	sh := &signedHandler{Handler: h}
	if h.tag() == TagMap {
		if len(h.Fields) == 0 || h.Decode == nil {
			return fmt.Errorf("codec: map handler %q needs fields and a decoder", h.Name)
		}
		for _, f := range h.Fields {
			if f == SignatureKey {
				return fmt.Errorf("codec: handler %q uses the reserved field %q", h.Name, SignatureKey)
			}
		}
		sh.signature = Signature(h.Fields)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.handlers {
		if existing.Name == h.Name {
			return fmt.Errorf("codec: handler %q was already added", h.Name)
		}
		if sh.signature != "" && existing.signature == sh.signature {
			return fmt.Errorf("codec: handler %q has the same fields as %q", h.Name, existing.Name)
		}
	}
	if m.bySignature == nil {
		m.bySignature = make(map[string]*signedHandler)
	}
	m.handlers = append(m.handlers, sh)
	if sh.signature != "" {
		m.bySignature[sh.signature] = sh
	}
	return nil
}

// Handlers returns the handler names in match order.
func (m *EncodingMap) Handlers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for _, h := range m.handlers {
		names = append(names, h.Name)
	}
	return names
}

func (m *EncodingMap) lookup(v interface{}) *signedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.handlers {
		if h.Match(v) {
			return h
		}
	}
	return nil
}

func (m *EncodingMap) lookupSignature(signature string) *signedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bySignature[signature]
}

// Encode converts a payload tree into its tagged form.
func (m *EncodingMap) Encode(v interface{}) (Tagged, error) {
	switch val := v.(type) {
	case nil:
		return String(nullValue), nil
	case string:
		return String(val), nil
	case []byte:
		return Binary(append([]byte(nil), val...)), nil
	case bool:
		return String(boolPrefix + strconv.FormatBool(val)), nil
	case int:
		return encodeInt(int64(val)), nil
	case int8:
		return encodeInt(int64(val)), nil
	case int16:
		return encodeInt(int64(val)), nil
	case int32:
		return encodeInt(int64(val)), nil
	case int64:
		return encodeInt(val), nil
	case uint8:
		return encodeInt(int64(val)), nil
	case uint16:
		return encodeInt(int64(val)), nil
	case uint32:
		return encodeInt(int64(val)), nil
	case float32:
		return encodeFloat(float64(val)), nil
	case float64:
		return encodeFloat(val), nil
	case map[string]interface{}:
		return m.encodeMap(val)
	case []interface{}:
		return m.encodeList(val)
	}

	if h := m.lookup(v); h != nil {
		return m.encodeWith(h, v)
	}
	return m.encodeReflect(v)
}

func encodeInt(i int64) Tagged {
	return String(intPrefix + strconv.FormatInt(i, 10))
}

func encodeFloat(f float64) Tagged {
	return String(floatPrefix + strconv.FormatFloat(f, 'g', -1, 64))
}

func (m *EncodingMap) encodeMap(fields map[string]interface{}) (Tagged, error) {
	out := make(map[string]Tagged, len(fields))
	for key, value := range fields {
		if key == SignatureKey {
			return Tagged{}, &EncodeError{Value: fields, Reason: "reserved key " + SignatureKey}
		}
		encoded, err := m.Encode(value)
		if err != nil {
			return Tagged{}, err
		}
		out[key] = encoded
	}
	return Map(out), nil
}

func (m *EncodingMap) encodeList(items []interface{}) (Tagged, error) {
	out := make([]Tagged, 0, len(items))
	for _, item := range items {
		encoded, err := m.Encode(item)
		if err != nil {
			return Tagged{}, err
		}
		out = append(out, encoded)
	}
	return List(out...), nil
}

func (m *EncodingMap) encodeWith(h *signedHandler, v interface{}) (Tagged, error) {
	out, err := h.Encode(v)
	if err != nil {
		return Tagged{}, &EncodeError{Value: v, Reason: fmt.Sprintf("handler %q: %s", h.Name, err)}
	}
	if h.tag() != TagMap {
		encoded, err := m.Encode(out)
		if err != nil {
			return Tagged{}, err
		}
		if encoded.Tag != h.tag() {
			return Tagged{}, &EncodeError{Value: v, Reason: fmt.Sprintf("handler %q produced %q, want %q", h.Name, encoded.Tag, h.tag())}
		}
		return encoded, nil
	}

	fields, ok := out.(map[string]interface{})
	if !ok {
		return Tagged{}, &EncodeError{Value: v, Reason: fmt.Sprintf("handler %q didn't produce a map", h.Name)}
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	if Signature(keys) != h.signature {
		return Tagged{}, &EncodeError{Value: v, Reason: fmt.Sprintf("handler %q produced fields %v, want %v", h.Name, keys, h.Fields)}
	}
	encoded, err := m.encodeMap(fields)
	if err != nil {
		return Tagged{}, err
	}
	encoded.M[SignatureKey] = String(h.signature)
	return encoded, nil
}

// encodeReflect accepts named scalar types and typed maps and slices.
func (m *EncodingMap) encodeReflect(v interface{}) (Tagged, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return m.Encode(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return encodeInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > 1<<63-1 {
			return Tagged{}, &EncodeError{Value: v, Reason: "integer overflows int64"}
		}
		return encodeInt(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return encodeFloat(rv.Float()), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return m.encodeMap(fields)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return Binary(append([]byte(nil), rv.Bytes()...)), nil
		}
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return m.encodeList(items)
	case reflect.Ptr:
		if rv.IsNil() {
			return String(nullValue), nil
		}
		return m.Encode(rv.Elem().Interface())
	}
	return Tagged{}, &EncodeError{Value: v}
}

// Decode converts a tagged value back into a payload tree.
func (m *EncodingMap) Decode(t Tagged) (interface{}, error) {
	switch t.Tag {
	case TagMap:
		if sig, ok := t.M[SignatureKey]; ok {
			return m.decodeSigned(t, sig)
		}
		out := make(map[string]interface{}, len(t.M))
		for key, value := range t.M {
			decoded, err := m.Decode(value)
			if err != nil {
				return nil, err
			}
			out[key] = decoded
		}
		return out, nil
	case TagList:
		out := make([]interface{}, 0, len(t.L))
		for _, value := range t.L {
			decoded, err := m.Decode(value)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	case TagBinary:
		return append([]byte{}, t.B...), nil
	case TagString:
		return decodeString(t.S)
	}
	return nil, &DecodeError{Tag: t.Tag, Reason: "unknown tag"}
}

func (m *EncodingMap) decodeSigned(t Tagged, sig Tagged) (interface{}, error) {
	if sig.Tag != TagString {
		return nil, &DecodeError{Tag: TagMap, Reason: "signature isn't a string"}
	}
	h := m.lookupSignature(sig.S)
	if h == nil {
		return nil, &DecodeError{Tag: TagMap, Reason: "no handler for signature " + sig.S}
	}
	fields := make(map[string]interface{}, len(t.M)-1)
	for key, value := range t.M {
		if key == SignatureKey {
			continue
		}
		decoded, err := m.Decode(value)
		if err != nil {
			return nil, err
		}
		fields[key] = decoded
	}
	v, err := h.Decode(fields)
	if err != nil {
		return nil, &DecodeError{Tag: TagMap, Reason: fmt.Sprintf("handler %q: %s", h.Name, err)}
	}
	return v, nil
}

func decodeString(s string) (interface{}, error) {
	switch {
	case s == nullValue:
		return nil, nil
	case strings.HasPrefix(s, intPrefix):
		i, err := strconv.ParseInt(s[len(intPrefix):], 10, 64)
		if err != nil {
			return nil, &DecodeError{Tag: TagString, Reason: err.Error()}
		}
		return i, nil
	case strings.HasPrefix(s, floatPrefix):
		f, err := strconv.ParseFloat(s[len(floatPrefix):], 64)
		if err != nil {
			return nil, &DecodeError{Tag: TagString, Reason: err.Error()}
		}
		return f, nil
	case strings.HasPrefix(s, boolPrefix):
		b, err := strconv.ParseBool(s[len(boolPrefix):])
		if err != nil {
			return nil, &DecodeError{Tag: TagString, Reason: err.Error()}
		}
		return b, nil
	}
	return s, nil
}
