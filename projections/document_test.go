package projections_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/AntonStoeckl/eventstore-projections-go/projections" //nolint:revive
)

func Test_MarshalDocument_When_UnmarshalledWithSchema_RestoresKinds(t *testing.T) {
	// setup
	schema := givenOrderSchema(t)
	doc := givenOrder(t, "order-1", "Jane Doe", "22.44", 3)
	doc["note"] = Null()
	doc["undeclared"] = Array(Int(1), String("x"))

	// act
	data, err := MarshalDocument(doc)
	require.NoError(t, err)

	restored, err := UnmarshalDocument(schema, data)

	// assert
	require.NoError(t, err)
	assert.True(t, doc.Equal(restored), "expected %v, got %v", doc, restored)

	total, ok := restored["total"].AsDecimal()
	require.True(t, ok)
	assert.Equal(t, "22.44", total.String())

	at, ok := restored["placedAt"].AsTime()
	require.True(t, ok)
	assert.True(t, placedAt.Equal(at), "nanoseconds must survive")
}

func Test_MarshalDocument_RendersDecimalsAndTimesAsStrings(t *testing.T) {
	// setup
	doc := Document{"id": String("a"), "total": dec(t, "0.10"), "placedAt": Time(placedAt)}

	// act
	data, err := MarshalDocument(doc)

	// assert
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a","total":"0.1","placedAt":"2024-05-17T14:30:00.123456789Z"}`, string(data))
}

func Test_UnmarshalDocument_When_TypeDoesNotMatchSchema(t *testing.T) {
	// setup
	schema := givenOrderSchema(t)

	testCases := []struct {
		name string
		json string
	}{
		{name: "not an object", json: `[1,2]`},
		{name: "string for int", json: `{"id":"a","itemsCount":"3"}`},
		{name: "bad time", json: `{"id":"a","placedAt":"yesterday"}`},
		{name: "bad decimal", json: `{"id":"a","total":"abc"}`},
		{name: "object for array", json: `{"id":"a","tags":{"x":1}}`},
		{name: "wrong nested type", json: `{"id":"a","lines":[{"quantity":"many"}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := UnmarshalDocument(schema, []byte(tc.json))

			// assert
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func Test_UnmarshalDocument_When_DecimalIsAJSONNumber(t *testing.T) {
	// setup
	schema := givenOrderSchema(t)

	// act
	doc, err := UnmarshalDocument(schema, []byte(`{"id":"a","total":22.44}`))

	// assert
	require.NoError(t, err)
	assert.True(t, doc["total"].Equal(dec(t, "22.44")))
	assert.Equal(t, KindDecimal, doc["total"].Kind())
}

func Test_Document_Get_When_PathIsNested(t *testing.T) {
	// setup
	doc := givenOrder(t, "order-1", "Jane Doe", "22.44", 3)

	// act
	city, cityFound := doc.Get("shipping.city")
	_, missingFound := doc.Get("shipping.country")
	_, throughArrayFound := doc.Get("lines.product")

	// assert
	require.True(t, cityFound)
	assert.True(t, city.Equal(String("Berlin")))
	assert.False(t, missingFound)
	assert.False(t, throughArrayFound)
}

func Test_Document_Clone_When_CloneIsModified_OriginalIsUnchanged(t *testing.T) {
	// setup
	doc := givenOrder(t, "order-1", "Jane Doe", "22.44", 3)

	// act
	clone := doc.Clone()
	shipping, _ := clone["shipping"].AsObject()
	shipping["city"] = String("Hamburg")
	lines, _ := clone["lines"].AsArray()
	lines[0] = line("tea", 9)

	// assert
	city, _ := doc.Get("shipping.city")
	assert.True(t, city.Equal(String("Berlin")))
	original, _ := doc["lines"].AsArray()
	assert.True(t, original[0].Equal(line("coffee", 3)))
}

func Test_Compare_When_KindsDiffer(t *testing.T) {
	testCases := []struct {
		name       string
		a, b       Value
		expected   int
		comparable bool
	}{
		{name: "int and decimal", a: Int(3), b: dec(t, "2.5"), expected: 1, comparable: true},
		{name: "float and int", a: Float(2.0), b: Int(2), expected: 0, comparable: true},
		{name: "decimal and float", a: dec(t, "1.10"), b: Float(1.2), expected: -1, comparable: true},
		{name: "string and int", a: String("1"), b: Int(1), comparable: false},
		{name: "null and null", a: Null(), b: Null(), comparable: false},
		{name: "false before true", a: Bool(false), b: Bool(true), expected: -1, comparable: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			c, ok := Compare(tc.a, tc.b)

			// assert
			assert.Equal(t, tc.comparable, ok)
			if tc.comparable {
				assert.Equal(t, tc.expected, c)
			}
		})
	}
}
