package projections

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PropertyType is the declared type of a schema property.
type PropertyType string

const (
	PropertyTypeBool    PropertyType = "bool"
	PropertyTypeInt     PropertyType = "int"
	PropertyTypeFloat   PropertyType = "float"
	PropertyTypeDecimal PropertyType = "decimal"
	PropertyTypeString  PropertyType = "string"
	PropertyTypeTime    PropertyType = "time"
	PropertyTypeObject  PropertyType = "object"
	PropertyTypeArray   PropertyType = "array"
)

func (t PropertyType) isScalar() bool {
	switch t {
	case PropertyTypeBool, PropertyTypeInt, PropertyTypeFloat, PropertyTypeDecimal, PropertyTypeString, PropertyTypeTime:
		return true
	default:
		return false
	}
}

// PropertySchema describes one property of a projection document.
//
// Arrays declare either an ElementType for scalar elements or Properties for object elements.
// Objects declare their Properties.
type PropertySchema struct {
	Name         string
	Type         PropertyType
	ElementType  PropertyType
	IsKey        bool
	IsSearchable bool
	IsFilterable bool
	IsSortable   bool
	Properties   []PropertySchema
}

// Property starts the description of a property.
func Property(name string, propertyType PropertyType) PropertySchema {
	return PropertySchema{Name: name, Type: propertyType}
}

// Key marks the property as the document key.
func (p PropertySchema) Key() PropertySchema {
	p.IsKey = true
	return p
}

// Searchable includes the property in free text search.
func (p PropertySchema) Searchable() PropertySchema {
	p.IsSearchable = true
	return p
}

// Filterable allows filters on the property.
func (p PropertySchema) Filterable() PropertySchema {
	p.IsFilterable = true
	return p
}

// Sortable allows ordering by the property.
func (p PropertySchema) Sortable() PropertySchema {
	p.IsSortable = true
	return p
}

// Of sets the element type of an array of scalars.
func (p PropertySchema) Of(elementType PropertyType) PropertySchema {
	p.ElementType = elementType
	return p
}

// With sets the nested properties of an object or of the elements of an array of objects.
func (p PropertySchema) With(properties ...PropertySchema) PropertySchema {
	p.Properties = properties
	return p
}

// elementSchema describes one element of an array property. It inherits the array's flags.
func (p PropertySchema) elementSchema() PropertySchema {
	element := p
	element.ElementType = ""

	if p.ElementType == "" || p.ElementType == PropertyTypeObject {
		element.Type = PropertyTypeObject
	} else {
		element.Type = p.ElementType
		element.Properties = nil
	}

	return element
}

// DocumentSchema describes the shape of one projection. Its Hash identifies the schema version.
type DocumentSchema struct {
	Name       string
	Properties []PropertySchema
	hash       string
	key        PropertySchema
}

// NewDocumentSchema validates the properties and computes the schema hash.
// Exactly one top-level string property must be the key; otherwise ErrSchemaConfiguration is returned.
func NewDocumentSchema(name string, properties ...PropertySchema) (DocumentSchema, error) {
	if name == "" {
		return DocumentSchema{}, fmt.Errorf("%w: schema name must not be empty", ErrSchemaConfiguration)
	}

	if err := validateProperties(properties, name, true); err != nil {
		return DocumentSchema{}, err
	}

	var keys []PropertySchema

	for _, property := range properties {
		if property.IsKey {
			keys = append(keys, property)
		}
	}

	if len(keys) != 1 {
		return DocumentSchema{}, fmt.Errorf("%w: schema %q must declare exactly one key property, found %d",
			ErrSchemaConfiguration, name, len(keys))
	}

	if keys[0].Type != PropertyTypeString {
		return DocumentSchema{}, fmt.Errorf("%w: key property %q of schema %q must be a string",
			ErrSchemaConfiguration, keys[0].Name, name)
	}

	schema := DocumentSchema{Name: name, Properties: properties, key: keys[0]}
	schema.hash = computeHash(properties)

	return schema, nil
}

// MustNewDocumentSchema is like NewDocumentSchema but panics on an invalid schema.
// It simplifies the declaration of schemas in package-level variables.
func MustNewDocumentSchema(name string, properties ...PropertySchema) DocumentSchema {
	schema, err := NewDocumentSchema(name, properties...)
	if err != nil {
		panic(err)
	}

	return schema
}

func validateProperties(properties []PropertySchema, path string, topLevel bool) error {
	seen := make(map[string]struct{}, len(properties))

	for _, property := range properties {
		propertyPath := path + "." + property.Name

		switch {
		case property.Name == "" || strings.ContainsAny(property.Name, ".;()|&\\"):
			return fmt.Errorf("%w: invalid property name %q in %q", ErrSchemaConfiguration, property.Name, path)
		case property.IsKey && !topLevel:
			return fmt.Errorf("%w: nested property %q cannot be the key", ErrSchemaConfiguration, propertyPath)
		}

		if _, duplicate := seen[property.Name]; duplicate {
			return fmt.Errorf("%w: duplicate property %q", ErrSchemaConfiguration, propertyPath)
		}

		seen[property.Name] = struct{}{}

		if err := validatePropertyType(property, propertyPath); err != nil {
			return err
		}
	}

	return nil
}

func validatePropertyType(property PropertySchema, path string) error {
	switch {
	case property.Type.isScalar():
		if len(property.Properties) > 0 || property.ElementType != "" {
			return fmt.Errorf("%w: scalar property %q cannot declare nested properties or an element type",
				ErrSchemaConfiguration, path)
		}

		return nil

	case property.Type == PropertyTypeObject:
		if len(property.Properties) == 0 {
			return fmt.Errorf("%w: object property %q must declare its properties", ErrSchemaConfiguration, path)
		}

		return validateProperties(property.Properties, path, false)

	case property.Type == PropertyTypeArray:
		switch {
		case property.ElementType.isScalar() && len(property.Properties) == 0:
			return nil
		case (property.ElementType == "" || property.ElementType == PropertyTypeObject) && len(property.Properties) > 0:
			return validateProperties(property.Properties, path, false)
		default:
			return fmt.Errorf("%w: array property %q must declare a scalar element type or element properties",
				ErrSchemaConfiguration, path)
		}

	default:
		return fmt.Errorf("%w: property %q has unknown type %q", ErrSchemaConfiguration, path, property.Type)
	}
}

// computeHash digests the canonical rendering of all property names, types and flags.
func computeHash(properties []PropertySchema) string {
	var canonical strings.Builder
	writeCanonical(&canonical, properties)

	sum := sha256.Sum256([]byte(canonical.String()))

	return "sha256:" + hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, properties []PropertySchema) {
	for _, p := range properties {
		fmt.Fprintf(b, "%s:%s:%s:%s{", p.Name, p.Type, p.ElementType, flags(p))
		writeCanonical(b, p.Properties)
		b.WriteString("};")
	}
}

func flags(p PropertySchema) string {
	var b strings.Builder

	for _, flag := range []struct {
		set  bool
		code byte
	}{{p.IsKey, 'k'}, {p.IsSearchable, 's'}, {p.IsFilterable, 'f'}, {p.IsSortable, 'o'}} {
		if flag.set {
			b.WriteByte(flag.code)
		}
	}

	return b.String()
}

// Hash returns the schema version identifier, "sha256:" followed by the hex digest.
func (s DocumentSchema) Hash() string {
	return s.hash
}

// KeyProperty returns the key property.
func (s DocumentSchema) KeyProperty() PropertySchema {
	return s.key
}

// Resolve returns the chain of properties a dotted path addresses.
// Paths descend into objects and into the element properties of arrays of objects.
func (s DocumentSchema) Resolve(path string) ([]PropertySchema, error) {
	properties := s.Properties
	segments := strings.Split(path, ".")
	chain := make([]PropertySchema, 0, len(segments))

	for _, segment := range segments {
		property, ok := findProperty(properties, segment)
		if !ok {
			return nil, fmt.Errorf("%w: schema %q has no property %q", ErrInvalidFilter, s.Name, path)
		}

		chain = append(chain, property)
		properties = property.Properties
	}

	return chain, nil
}

func findProperty(properties []PropertySchema, name string) (PropertySchema, bool) {
	for _, property := range properties {
		if property.Name == name {
			return property, true
		}
	}

	return PropertySchema{}, false
}

// Validate checks the document against the schema: the key must be a non-empty string and
// declared properties must hold values of their declared type or null.
func (s DocumentSchema) Validate(doc Document) error {
	if _, ok := doc.ID(s); !ok {
		return fmt.Errorf("%w: key property %q must be a non-empty string", ErrInvalidDocument, s.key.Name)
	}

	return validateDocument(s.Properties, doc, "")
}

func validateDocument(properties []PropertySchema, doc Document, prefix string) error {
	for _, property := range properties {
		value, ok := doc[property.Name]
		if !ok || value.IsNull() {
			continue
		}

		if err := validateValue(property, value, prefix+property.Name); err != nil {
			return err
		}
	}

	return nil
}

func validateValue(property PropertySchema, value Value, path string) error {
	if value.IsNull() {
		return nil
	}

	var valid bool

	switch property.Type {
	case PropertyTypeBool:
		valid = value.Kind() == KindBool
	case PropertyTypeInt:
		valid = value.Kind() == KindInt
	case PropertyTypeFloat:
		valid = value.Kind() == KindFloat || value.Kind() == KindInt
	case PropertyTypeDecimal:
		valid = value.Kind() == KindDecimal || value.Kind() == KindInt
	case PropertyTypeString:
		valid = value.Kind() == KindString
	case PropertyTypeTime:
		valid = value.Kind() == KindTime
	case PropertyTypeObject:
		doc, ok := value.AsObject()
		if !ok {
			break
		}

		return validateDocument(property.Properties, doc, path+".")
	case PropertyTypeArray:
		elements, ok := value.AsArray()
		if !ok {
			break
		}

		element := property.elementSchema()
		for i, item := range elements {
			if err := validateValue(element, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}

		return nil
	}

	if !valid {
		return fmt.Errorf("%w: property %q expects %s, got %s", ErrInvalidDocument, path, property.Type, value.Kind())
	}

	return nil
}
