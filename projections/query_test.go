package projections_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/AntonStoeckl/eventstore-projections-go/projections" //nolint:revive
)

func Test_ParseQuery_When_QueryWasSerialized_RoundTrips(t *testing.T) {
	// setup
	query := Query{}.
		WithSearchText("jane; (doe) | & co").
		WithFilter(Where("total").Greater(dec(t, "9.99")).WithTag("price")).
		WithFilter(Where("shipping.city").EqualIgnoreCase("berlin").Or(Where("tags").ArrayContains(String("vip"))).Hidden()).
		SortByDescending("placedAt").
		SortBy("id").
		Page(25, 50)

	// act
	token, err := query.Serialize()
	require.NoError(t, err)

	parsed, err := ParseQuery(token)

	// assert
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "1."))
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")
	assert.True(t, query.Equal(parsed), "expected %+v, got %+v", query, parsed)
}

func Test_ParseQuery_When_QueryIsEmpty_RoundTrips(t *testing.T) {
	// act
	token, err := Query{}.Serialize()
	require.NoError(t, err)

	parsed, err := ParseQuery(token)

	// assert
	require.NoError(t, err)
	assert.True(t, Query{}.Equal(parsed))
}

func Test_ParseQuery_When_VersionIsUnknown(t *testing.T) {
	// setup
	token, err := Query{}.WithSearchText("x").Serialize()
	require.NoError(t, err)

	// act
	_, err = ParseQuery("2" + strings.TrimPrefix(token, "1"))

	// assert
	assert.ErrorIs(t, err, ErrUnsupportedQueryVersion)
	assert.NotErrorIs(t, err, ErrMalformedQuery)
}

func Test_ParseQuery_When_TokenIsMalformed(t *testing.T) {
	encode := func(json string) string {
		return "1." + base64.RawURLEncoding.EncodeToString([]byte(json))
	}

	testCases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no version prefix", token: "abc"},
		{name: "version is not a number", token: "v1.abc"},
		{name: "payload is not base64", token: "1.***"},
		{name: "payload is not json", token: encode("not json")},
		{name: "filter is malformed", token: encode(`{"f":["(name;eq;x;1;)"]}`)},
		{name: "negative limit", token: encode(`{"l":-1}`)},
		{name: "negative offset", token: encode(`{"p":-5}`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := ParseQuery(tc.token)

			// assert
			assert.ErrorIs(t, err, ErrMalformedQuery)
		})
	}
}

func Test_Query_ReplaceTag(t *testing.T) {
	// setup
	query := Query{}.
		WithFilter(Where("total").Greater(Int(10)).WithTag("price")).
		WithFilter(Where("paid").Equal(Bool(true)).WithTag("payment")).
		WithFilter(Where("total").Lower(Int(100)).WithTag("price"))

	// act
	replaced := query.ReplaceTag("price", Where("total").Equal(Int(42)))
	removed := query.WithoutTag("price")

	// assert
	require.Len(t, replaced.Filters, 2)
	assert.Equal(t, "payment", replaced.Filters[0].Tag)
	assert.True(t, Where("total").Equal(Int(42)).WithTag("price").Equal(replaced.Filters[1]))

	require.Len(t, removed.Filters, 1)
	assert.Equal(t, "payment", removed.Filters[0].Tag)

	assert.Len(t, query.Filters, 3, "the receiver must stay unchanged")
}

func Test_Query_VisibleFilters(t *testing.T) {
	// setup
	query := Query{}.
		WithFilter(Where("customerName").Equal(String("Jane"))).
		WithFilter(Where("id").NotEqual(Null()).Hidden())

	// act
	visible := query.VisibleFilters()

	// assert
	require.Len(t, visible, 1)
	assert.Equal(t, "customerName", visible[0].PropertyName)
}
