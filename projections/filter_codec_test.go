package projections_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/AntonStoeckl/eventstore-projections-go/projections" //nolint:revive
)

func Test_Filter_String(t *testing.T) {
	// setup
	filter := Where("customerName").Equal(String("Jane")).
		And(Where("itemsCount").Greater(Int(2)).WithTag("min-items")).
		Or(Where("paid").Equal(Bool(true)).Hidden())

	// act
	text := filter.String()

	// assert
	assert.Equal(t, "(customerName;eq;s:Jane;1;&(itemsCount;gt;i:2;1;min-items)|(paid;eq;b:true;0;))", text)
}

func Test_ParseFilter_When_FilterWasMarshalled_RoundTrips(t *testing.T) {
	testCases := []struct {
		name   string
		filter Filter
	}{
		{name: "null value", filter: Where("note").Equal(Null())},
		{name: "bool value", filter: Where("paid").NotEqual(Bool(false))},
		{name: "negative int", filter: Where("itemsCount").GreaterOrEqual(Int(-42))},
		{name: "float", filter: Where("weight").Lower(Float(0.125))},
		{name: "decimal", filter: Where("total").LowerOrEqual(dec(t, "22.44"))},
		{name: "time with nanoseconds", filter: Where("placedAt").Greater(Time(placedAt))},
		{name: "empty string", filter: Where("note").Equal(String(""))},
		{name: "starts with", filter: Where("customerName").StartsWith("Ja")},
		{name: "ends with", filter: Where("customerName").EndsWith("ne")},
		{name: "contains", filter: Where("customerName").Contains("an")},
		{name: "equal ignore case", filter: Where("customerName").EqualIgnoreCase("jane")},
		{name: "not equal ignore case", filter: Where("customerName").NotEqualIgnoreCase("jane")},
		{name: "starts with ignore case", filter: Where("customerName").StartsWithIgnoreCase("JA")},
		{name: "ends with ignore case", filter: Where("customerName").EndsWithIgnoreCase("NE")},
		{name: "contains ignore case", filter: Where("customerName").ContainsIgnoreCase("AN")},
		{name: "greater ignore case", filter: Where("customerName").Is(OperatorGreaterIgnoreCase, String("a"))},
		{name: "lower or equal ignore case", filter: Where("customerName").Is(OperatorLowerOrEqualIgnoreCase, String("z"))},
		{name: "array contains", filter: Where("tags").ArrayContains(String("vip"))},
		{
			name:   "reserved characters in every field",
			filter: Where("customerName").Equal(String(`a;b(c)d|e&f\g`)).WithTag(`t;(&|)\`),
		},
		{name: "colon in string value", filter: Where("customerName").Equal(String("s:i:12"))},
		{name: "hidden and tagged", filter: Where("total").Greater(Int(0)).Hidden().WithTag("base")},
		{
			name: "nested connectors",
			filter: Where("customerName").Equal(String("Jane")).
				And(Where("itemsCount").Greater(Int(1)).Or(Where("itemsCount").Equal(Null()))).
				Or(Where("shipping.city").ContainsIgnoreCase("ber").And(Where("paid").Equal(Bool(true)))),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			text, err := tc.filter.MarshalText()
			require.NoError(t, err)

			// act
			parsed, err := ParseFilter(string(text))

			// assert
			require.NoError(t, err)
			assert.True(t, tc.filter.Equal(parsed), "expected %s, got %s", tc.filter, parsed)
			assert.Equal(t, tc.filter.Value.Kind(), parsed.Value.Kind())
		})
	}
}

func Test_Filter_UnmarshalText(t *testing.T) {
	// setup
	var filter Filter

	// act
	err := filter.UnmarshalText([]byte("(shipping.city;cti;s:ber;1;city)"))

	// assert
	require.NoError(t, err)
	assert.True(t, Where("shipping.city").ContainsIgnoreCase("ber").WithTag("city").Equal(filter))
}

func Test_ParseFilter_When_InputIsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "missing opening parenthesis", text: "name;eq;s:x;1;)"},
		{name: "missing closing parenthesis", text: "(name;eq;s:x;1;"},
		{name: "too few fields", text: "(name;eq;s:x)"},
		{name: "unknown operator", text: "(name;like;s:x;1;)"},
		{name: "value without type code", text: "(name;eq;x;1;)"},
		{name: "unknown type code", text: "(name;eq;q:x;1;)"},
		{name: "int that is not a number", text: "(name;eq;i:abc;1;)"},
		{name: "invalid time", text: "(name;eq;t:today;1;)"},
		{name: "invalid visibility", text: "(name;eq;s:x;yes;)"},
		{name: "unescaped reserved character", text: "(na(me;eq;s:x;1;)"},
		{name: "dangling escape", text: `(name;eq;s:x;1;\`},
		{name: "trailing input", text: "(name;eq;s:x;1;)(x)"},
		{name: "connector without group", text: "(name;eq;s:x;1;&)"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := ParseFilter(tc.text)

			// assert
			assert.ErrorIs(t, err, ErrMalformedFilter)
		})
	}
}

func Test_Filter_MarshalText_When_ValueIsNotScalar(t *testing.T) {
	// setup
	filter := Where("tags").Equal(Array(String("a")))

	// act
	_, err := filter.MarshalText()

	// assert
	assert.ErrorIs(t, err, ErrMalformedFilter)
	assert.Contains(t, filter.String(), "<invalid filter:")
}

func Test_Filter_And_When_Chained_DoesNotModifyReceiver(t *testing.T) {
	// setup
	base := Where("customerName").Equal(String("Jane"))

	// act
	first := base.And(Where("paid").Equal(Bool(true)))
	second := base.Or(Where("paid").Equal(Bool(false)))

	// assert
	assert.Empty(t, base.Connectors)
	require.Len(t, first.Connectors, 1)
	require.Len(t, second.Connectors, 1)
	assert.Equal(t, LogicAnd, first.Connectors[0].Logic)
	assert.Equal(t, LogicOr, second.Connectors[0].Logic)
}

func Test_Operator_IgnoresCase(t *testing.T) {
	// assert
	assert.True(t, OperatorContainsIgnoreCase.IgnoresCase())
	assert.Equal(t, OperatorContains, OperatorContainsIgnoreCase.CaseSensitive())
	assert.False(t, OperatorArrayContains.IgnoresCase())
	assert.Equal(t, OperatorArrayContains, OperatorArrayContains.CaseSensitive())
	assert.False(t, Operator("like").IsValid())
}
