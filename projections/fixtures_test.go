package projections_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/memengine"
	. "github.com/AntonStoeckl/eventstore-projections-go/projections" //nolint:revive
	"github.com/AntonStoeckl/eventstore-projections-go/projections/memrepo"
)

var placedAt = time.Date(2024, 5, 17, 14, 30, 0, 123456789, time.UTC)

func orderProperties() []PropertySchema {
	return []PropertySchema{
		Property("id", PropertyTypeString).Key(),
		Property("customerName", PropertyTypeString).Searchable().Filterable().Sortable(),
		Property("total", PropertyTypeDecimal).Filterable().Sortable(),
		Property("itemsCount", PropertyTypeInt).Filterable().Sortable(),
		Property("weight", PropertyTypeFloat).Filterable(),
		Property("placedAt", PropertyTypeTime).Filterable().Sortable(),
		Property("paid", PropertyTypeBool).Filterable(),
		Property("tags", PropertyTypeArray).Of(PropertyTypeString).Searchable().Filterable(),
		Property("shipping", PropertyTypeObject).With(
			Property("city", PropertyTypeString).Searchable().Filterable().Sortable(),
			Property("zip", PropertyTypeString),
		),
		Property("lines", PropertyTypeArray).With(
			Property("product", PropertyTypeString).Searchable().Filterable(),
			Property("quantity", PropertyTypeInt).Filterable(),
		),
		Property("note", PropertyTypeString),
	}
}

func givenOrderSchema(t *testing.T) DocumentSchema {
	t.Helper()

	schema, err := NewDocumentSchema("Orders", orderProperties()...)
	require.NoError(t, err)

	return schema
}

func dec(t *testing.T, text string) Value {
	t.Helper()

	d, err := decimal.NewFromString(text)
	require.NoError(t, err)

	return Decimal(d)
}

func line(product string, quantity int64) Value {
	return Object(Document{"product": String(product), "quantity": Int(quantity)})
}

func givenOrder(t *testing.T, id string, customer string, total string, items int64) Document {
	t.Helper()

	return Document{
		"id":           String(id),
		"customerName": String(customer),
		"total":        dec(t, total),
		"itemsCount":   Int(items),
		"weight":       Float(1.5),
		"placedAt":     Time(placedAt),
		"paid":         Bool(false),
		"tags":         Array(String("new")),
		"shipping":     Object(Document{"city": String("Berlin"), "zip": String("10115")}),
		"lines":        Array(line("coffee", items)),
	}
}

func ordersV2Schema(t *testing.T) DocumentSchema {
	t.Helper()

	schema, err := NewDocumentSchema("Orders",
		append(orderProperties(), Property("channel", PropertyTypeString).Filterable())...)
	require.NoError(t, err)

	return schema
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fixture struct {
	ctx      context.Context
	store    *memengine.EventStore
	backend  *memrepo.Backend
	clock    *fakeClock
	registry *Registry
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	ctx := context.Background()

	store := memengine.NewEventStore()
	require.NoError(t, store.Initialize(ctx))

	backend, err := memrepo.New()
	require.NoError(t, err)

	clock := newFakeClock()

	return fixture{
		ctx:      ctx,
		store:    store,
		backend:  backend,
		clock:    clock,
		registry: NewRegistry(backend, store, append([]Option{WithClock(clock.Now)}, opts...)...),
	}
}

// anotherInstance shares the storage of f but has its own registry, like a second process would.
func (f fixture) anotherInstance(opts ...Option) *Registry {
	return NewRegistry(f.backend, f.store, append([]Option{WithClock(f.clock.Now)}, opts...)...)
}

func (f fixture) repository(t *testing.T, schema DocumentSchema) *Repository {
	t.Helper()

	repository, err := f.registry.Repository(schema)
	require.NoError(t, err)

	return repository
}

func givenCompletedRebuild(t *testing.T, repository *Repository) IndexVersion {
	t.Helper()

	ctx := context.Background()

	owner := "owner-of-" + repository.IndexName()

	_, acquired, err := repository.AcquireRebuildLock(ctx, owner)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, repository.CompleteRebuild(ctx, owner))

	version, err := repository.ResolveIndex(ctx, SelectRebuild)
	require.NoError(t, err)

	return version
}
