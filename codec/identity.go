package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// IdentityTimeFormat is how timestamps appear in identity encodings.
const IdentityTimeFormat = "2006-01-02T15:04:05Z"

// IdentityEncoder renders a payload into a deterministic string. The encoding
// map is passed so custom types can be reduced through their handlers.
type IdentityEncoder func(m *EncodingMap, v interface{}) (string, error)

// JSONIdentity produces canonical JSON with sorted keys.
func JSONIdentity(m *EncodingMap, v interface{}) (string, error) {
	canonical, err := canonicalize(m, v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", &EncodeError{Value: v, Reason: err.Error()}
	}
	return string(data), nil
}

func canonicalize(m *EncodingMap, v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float64:
		return identityFloat(val), nil
	case float32:
		return identityFloat(float64(val)), nil
	case []byte:
		return identityBinary(val), nil
	case time.Time:
		return val.UTC().Format(IdentityTimeFormat), nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for key, value := range val {
			c, err := canonicalize(m, value)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, value := range val {
			c, err := canonicalize(m, value)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}

	if m != nil {
		if h := m.lookup(v); h != nil {
			out, err := h.Encode(v)
			if err != nil {
				return nil, &EncodeError{Value: v, Reason: fmt.Sprintf("handler %q: %s", h.Name, err)}
			}
			return canonicalize(m, out)
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return identityFloat(rv.Float()), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return canonicalize(m, fields)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return identityBinary(rv.Bytes()), nil
		}
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return canonicalize(m, items)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return canonicalize(m, rv.Elem().Interface())
	}
	return nil, &EncodeError{Value: v, Reason: "no identity encoding"}
}

// Floats keep their scalar prefix so 1 and 1.0 never share an identity.
func identityFloat(f float64) string {
	return floatPrefix + strconv.FormatFloat(f, 'g', -1, 64)
}

func identityBinary(b []byte) map[string]string {
	return map[string]string{string(TagBinary): base64.StdEncoding.EncodeToString(b)}
}

// Hash returns the sha256 hex digest of an identity encoding.
func Hash(encoded string) string {
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:])
}
