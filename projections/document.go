package projections

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var jsonAPI = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Document is one projection record: property name to value.
type Document map[string]Value

// Get returns the value under a dotted path, e.g. "customer.address.city".
// Only nested objects are traversed; a path through an array yields false.
func (d Document) Get(path string) (Value, bool) {
	current := d

	segments := strings.Split(path, ".")
	for i, segment := range segments {
		value, ok := current[segment]
		if !ok {
			return Value{}, false
		}

		if i == len(segments)-1 {
			return value, true
		}

		current, ok = value.AsObject()
		if !ok {
			return Value{}, false
		}
	}

	return Value{}, false
}

// Clone returns a deep copy of the document. Cloning nil yields nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}

	clone := make(Document, len(d))
	for key, value := range d {
		clone[key] = value.Clone()
	}

	return clone
}

// Equal reports whether both documents hold equal values under the same keys.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}

	for key, value := range d {
		otherValue, ok := other[key]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}

	return true
}

// ID returns the value of the schema's key property.
func (d Document) ID(schema DocumentSchema) (string, bool) {
	value, ok := d[schema.KeyProperty().Name]
	if !ok {
		return "", false
	}

	id, ok := value.AsString()

	return id, ok && id != ""
}

// MarshalDocument renders the document as plain JSON, see Value.MarshalJSON.
func MarshalDocument(doc Document) ([]byte, error) {
	return jsonAPI.Marshal(doc)
}

// UnmarshalDocument parses plain JSON into a Document, restoring the kinds declared by the schema.
// Properties the schema does not declare are decoded by their JSON type.
func UnmarshalDocument(schema DocumentSchema, data []byte) (Document, error) {
	var raw map[string]any
	if err := jsonAPI.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return decodeObject(schema.Properties, raw, "")
}

func decodeObject(properties []PropertySchema, raw map[string]any, prefix string) (Document, error) {
	doc := make(Document, len(raw))

	for key, rawValue := range raw {
		property, declared := findProperty(properties, key)

		var (
			value Value
			err   error
		)

		if declared {
			value, err = decodeDeclared(property, rawValue, prefix+key)
		} else {
			value, err = decodeUndeclared(rawValue)
		}

		if err != nil {
			return nil, err
		}

		doc[key] = value
	}

	return doc, nil
}

func decodeDeclared(property PropertySchema, raw any, path string) (Value, error) {
	if raw == nil {
		return Null(), nil
	}

	if property.Type == PropertyTypeArray {
		list, ok := raw.([]any)
		if !ok {
			return Value{}, decodeError(path, property.Type, raw)
		}

		element := property.elementSchema()
		values := make([]Value, 0, len(list))

		for i, item := range list {
			value, err := decodeDeclared(element, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Value{}, err
			}

			values = append(values, value)
		}

		return Array(values...), nil
	}

	return decodeScalarOrObject(property, raw, path)
}

func decodeScalarOrObject(property PropertySchema, raw any, path string) (Value, error) {
	switch property.Type {
	case PropertyTypeObject:
		object, ok := raw.(map[string]any)
		if !ok {
			return Value{}, decodeError(path, property.Type, raw)
		}

		doc, err := decodeObject(property.Properties, object, path+".")
		if err != nil {
			return Value{}, err
		}

		return Object(doc), nil

	case PropertyTypeBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}

	case PropertyTypeInt:
		if n, ok := raw.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return Int(i), nil
			}
		}

	case PropertyTypeFloat:
		if n, ok := raw.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return Float(f), nil
			}
		}

	case PropertyTypeDecimal:
		if text, ok := numberText(raw); ok {
			if d, err := decimal.NewFromString(text); err == nil {
				return Decimal(d), nil
			}
		}

	case PropertyTypeString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}

	case PropertyTypeTime:
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return Time(t), nil
			}
		}

	case PropertyTypeArray:
		return decodeDeclared(property, raw, path)
	}

	return Value{}, decodeError(path, property.Type, raw)
}

func numberText(raw any) (string, bool) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), true
	case string:
		return v, true
	default:
		return "", false
	}
}

func decodeUndeclared(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}

		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q", ErrInvalidDocument, v)
		}

		return Float(f), nil
	case string:
		return String(v), nil
	case map[string]any:
		doc, err := decodeObject(nil, v, "")
		if err != nil {
			return Value{}, err
		}

		return Object(doc), nil
	case []any:
		values := make([]Value, 0, len(v))

		for _, item := range v {
			value, err := decodeUndeclared(item)
			if err != nil {
				return Value{}, err
			}

			values = append(values, value)
		}

		return Array(values...), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported json value of type %s", ErrInvalidDocument, reflect.TypeOf(raw))
	}
}

func decodeError(path string, expected PropertyType, raw any) error {
	return fmt.Errorf("%w: property %q expects %s, got %T", ErrInvalidDocument, path, expected, raw)
}
