package projections

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// QueryFormatVersion is the version prefix written by Query.Serialize.
const QueryFormatVersion = 1

// SortField orders query results by the property at KeyPath.
type SortField struct {
	KeyPath    string
	Descending bool
}

// Query selects, orders and pages projection documents.
// Filters are combined with AND. A Limit of 0 means no limit.
type Query struct {
	SearchText string
	Filters    []Filter
	OrderBy    []SortField
	Limit      int
	Offset     int
}

// QueryResult holds one page of records plus the number of records matching the query overall.
type QueryResult struct {
	Records           []Document
	TotalRecordsFound int64
}

// WithFilter returns a copy of the query with the filter appended.
func (q Query) WithFilter(filter Filter) Query {
	c := q.clone()
	c.Filters = append(c.Filters, filter.clone())

	return c
}

// WithoutTag returns a copy of the query without the top-level filters carrying the tag.
func (q Query) WithoutTag(tag string) Query {
	c := q.clone()
	c.Filters = c.Filters[:0]

	for _, filter := range q.Filters {
		if filter.Tag != tag {
			c.Filters = append(c.Filters, filter.clone())
		}
	}

	return c
}

// ReplaceTag removes the filters carrying the tag and appends filter, tagged with it.
func (q Query) ReplaceTag(tag string, filter Filter) Query {
	return q.WithoutTag(tag).WithFilter(filter.WithTag(tag))
}

// WithSearchText returns a copy of the query with the free text search set.
func (q Query) WithSearchText(text string) Query {
	c := q.clone()
	c.SearchText = text

	return c
}

// SortBy returns a copy of the query additionally ordered ascending by keyPath.
func (q Query) SortBy(keyPath string) Query {
	c := q.clone()
	c.OrderBy = append(c.OrderBy, SortField{KeyPath: keyPath})

	return c
}

// SortByDescending returns a copy of the query additionally ordered descending by keyPath.
func (q Query) SortByDescending(keyPath string) Query {
	c := q.clone()
	c.OrderBy = append(c.OrderBy, SortField{KeyPath: keyPath, Descending: true})

	return c
}

// Page returns a copy of the query limited to one page.
func (q Query) Page(limit, offset int) Query {
	c := q.clone()
	c.Limit = limit
	c.Offset = offset

	return c
}

// VisibleFilters returns the top-level filters meant to be shown to end users.
func (q Query) VisibleFilters() []Filter {
	visible := make([]Filter, 0, len(q.Filters))

	for _, filter := range q.Filters {
		if filter.IsVisible {
			visible = append(visible, filter)
		}
	}

	return visible
}

func (q Query) clone() Query {
	c := q
	c.Filters = make([]Filter, 0, len(q.Filters))

	for _, filter := range q.Filters {
		c.Filters = append(c.Filters, filter.clone())
	}

	c.OrderBy = append([]SortField(nil), q.OrderBy...)

	return c
}

// Equal reports whether both queries are structurally equal.
func (q Query) Equal(other Query) bool {
	if q.SearchText != other.SearchText || q.Limit != other.Limit || q.Offset != other.Offset ||
		len(q.Filters) != len(other.Filters) || len(q.OrderBy) != len(other.OrderBy) {
		return false
	}

	for i := range q.Filters {
		if !q.Filters[i].Equal(other.Filters[i]) {
			return false
		}
	}

	for i := range q.OrderBy {
		if q.OrderBy[i] != other.OrderBy[i] {
			return false
		}
	}

	return true
}

type serializedSortField struct {
	KeyPath    string `json:"k"`
	Descending bool   `json:"d,omitempty"`
}

type serializedQuery struct {
	SearchText string                `json:"s,omitempty"`
	Filters    []string              `json:"f,omitempty"`
	OrderBy    []serializedSortField `json:"o,omitempty"`
	Limit      int                   `json:"l,omitempty"`
	Offset     int                   `json:"p,omitempty"`
}

// Serialize renders the query as a compact URL-safe token "<version>.<base64url json>".
func (q Query) Serialize() (string, error) {
	serialized := serializedQuery{SearchText: q.SearchText, Limit: q.Limit, Offset: q.Offset}

	for _, filter := range q.Filters {
		text, err := filter.MarshalText()
		if err != nil {
			return "", err
		}

		serialized.Filters = append(serialized.Filters, string(text))
	}

	for _, field := range q.OrderBy {
		serialized.OrderBy = append(serialized.OrderBy, serializedSortField(field))
	}

	data, err := jsonAPI.Marshal(serialized)
	if err != nil {
		return "", err
	}

	return strconv.Itoa(QueryFormatVersion) + "." + base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseQuery parses a token produced by Query.Serialize.
// Unknown format versions yield ErrUnsupportedQueryVersion, any other defect ErrMalformedQuery.
func ParseQuery(token string) (Query, error) {
	versionText, payload, ok := strings.Cut(token, ".")
	if !ok {
		return Query{}, fmt.Errorf("%w: missing version prefix", ErrMalformedQuery)
	}

	version, err := strconv.Atoi(versionText)
	if err != nil {
		return Query{}, fmt.Errorf("%w: version %q is not a number", ErrMalformedQuery, versionText)
	}

	switch version {
	case 1:
		return parseQueryV1(payload)
	default:
		return Query{}, fmt.Errorf("%w: %d", ErrUnsupportedQueryVersion, version)
	}
}

func parseQueryV1(payload string) (Query, error) {
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Query{}, errors.Join(ErrMalformedQuery, err)
	}

	var serialized serializedQuery
	if err = jsonAPI.Unmarshal(data, &serialized); err != nil {
		return Query{}, errors.Join(ErrMalformedQuery, err)
	}

	if serialized.Limit < 0 || serialized.Offset < 0 {
		return Query{}, fmt.Errorf("%w: limit and offset must not be negative", ErrMalformedQuery)
	}

	q := Query{SearchText: serialized.SearchText, Limit: serialized.Limit, Offset: serialized.Offset}

	for _, text := range serialized.Filters {
		filter, parseErr := ParseFilter(text)
		if parseErr != nil {
			return Query{}, errors.Join(ErrMalformedQuery, parseErr)
		}

		q.Filters = append(q.Filters, filter)
	}

	for _, field := range serialized.OrderBy {
		q.OrderBy = append(q.OrderBy, SortField(field))
	}

	return q, nil
}
