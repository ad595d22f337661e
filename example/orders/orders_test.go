package orders_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/eventstore-projections-go/aggregate"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/memengine"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/observer"
	"github.com/AntonStoeckl/eventstore-projections-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/eventstore-projections-go/example/orders"
	"github.com/AntonStoeckl/eventstore-projections-go/projections"
	"github.com/AntonStoeckl/eventstore-projections-go/projections/memrepo"
	"github.com/AntonStoeckl/eventstore-projections-go/projections/sqlrepo"
	"github.com/AntonStoeckl/eventstore-projections-go/testutil/sqlitedb"
)

const tenant = "tenant-1"

type storage interface {
	eventstore.EventStore
	eventstore.KeyValueStore
}

type setup struct {
	name    string
	storage func(t *testing.T) (storage, projections.Backend)
}

var setups = []setup{
	{
		name: "memory",
		storage: func(t *testing.T) (storage, projections.Backend) {
			store := memengine.NewEventStore()
			backend, err := memrepo.New()
			require.NoError(t, err)

			return store, backend
		},
	},
	{
		name: "sqlite",
		storage: func(t *testing.T) (storage, projections.Backend) {
			db := sqlitedb.Open(t)

			store, err := sqlengine.NewEventStoreFromSQLDB(db, sqlengine.WithDialect(sqlengine.DialectSQLite))
			require.NoError(t, err)

			backend, err := sqlrepo.NewFromSQLDB(db, sqlrepo.WithDialect(sqlengine.DialectSQLite))
			require.NoError(t, err)

			return store, backend
		},
	},
}

type app struct {
	orders    *aggregate.Repository[*orders.Order]
	summaries *projections.Repository
}

func newApp(t *testing.T, s setup) app {
	t.Helper()

	ctx := context.Background()
	store, backend := s.storage(t)
	require.NoError(t, store.Initialize(ctx))

	types := orders.NewTypeRegistry()
	registry := projections.NewRegistry(backend, store)

	t.Cleanup(func() {
		_ = registry.Close()
	})

	engine := projections.NewEngine(store, registry, store)
	require.NoError(t, engine.Register(orders.NewSummariesBuilder(types)))

	_, err := engine.StartRebuild(ctx, projections.RebuildOptions{InstanceName: "projector-" + s.name})
	require.NoError(t, err)

	live := observer.New(store)
	live.SetEventHandler(engine.HandlerFunc())
	require.NoError(t, live.Start(ctx, "live-"+s.name))

	t.Cleanup(func() {
		_ = live.Stop(context.Background())
	})

	summaries, err := registry.Repository(orders.SummariesSchema)
	require.NoError(t, err)

	return app{
		orders:    aggregate.NewRepository(store, types, orders.NewOrder, aggregate.WithUserInfo("clerk")),
		summaries: summaries,
	}
}

func price(t *testing.T, text string) decimal.Decimal {
	t.Helper()

	parsed, err := decimal.NewFromString(text)
	require.NoError(t, err)

	return parsed
}

func Test_Orders_When_ItemsAreAdded_SummaryFollows(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			a := newApp(t, s)

			require.NoError(t, a.orders.Execute(ctx, "order-2", tenant, func(o *orders.Order) error {
				return o.Place("Erika Musterfrau", "phone")
			}))

			// act
			err := a.orders.Execute(ctx, "order-1", tenant, func(o *orders.Order) error {
				return errorsOf(
					o.Place("Max Mustermann", "web"),
					o.AddItem("coffee", 1, price(t, "10.00")),
					o.AddItem("tea", 1, price(t, "7.49")),
					o.AddItem("cookies", 1, price(t, "4.95")),
				)
			})

			// assert
			require.NoError(t, err)

			summary, err := a.summaries.Get(ctx, "order-1", tenant)
			require.NoError(t, err)
			assert.True(t, summary["itemsCount"].Equal(projections.Int(3)), "got %v", summary["itemsCount"])
			assert.True(t, summary["total"].Equal(projections.Decimal(price(t, "22.44"))), "got %v", summary["total"])

			// act
			err = a.orders.Execute(ctx, "order-1", tenant, func(o *orders.Order) error {
				return o.AddItem("cake", 1, price(t, "6.95"))
			})

			// assert
			require.NoError(t, err)

			summary, err = a.summaries.Get(ctx, "order-1", tenant)
			require.NoError(t, err)
			assert.True(t, summary["itemsCount"].Equal(projections.Int(4)), "got %v", summary["itemsCount"])
			assert.True(t, summary["total"].Equal(projections.Decimal(price(t, "29.39"))), "got %v", summary["total"])

			result, err := a.summaries.Query(ctx,
				projections.Query{}.WithFilter(projections.Where("customerName").Equal(projections.String("Max Mustermann"))),
				tenant)
			require.NoError(t, err)
			require.Len(t, result.Records, 1)
			assert.Equal(t, int64(1), result.TotalRecordsFound)
			assert.True(t, result.Records[0]["id"].Equal(projections.String("order-1")))
		})
	}
}

func Test_Orders_When_OrderIsCancelled_SummaryShowsStatus(t *testing.T) {
	for _, s := range setups {
		t.Run(s.name, func(t *testing.T) {
			// setup
			ctx := context.Background()
			a := newApp(t, s)

			require.NoError(t, a.orders.Execute(ctx, "order-1", tenant, func(o *orders.Order) error {
				return errorsOf(o.Place("Max Mustermann", "web"), o.AddItem("coffee", 2, price(t, "3.50")))
			}))

			// act
			err := a.orders.Execute(ctx, "order-1", tenant, func(o *orders.Order) error {
				return o.Cancel("changed my mind")
			})

			// assert
			require.NoError(t, err)

			summary, err := a.summaries.Get(ctx, "order-1", tenant)
			require.NoError(t, err)
			assert.True(t, summary["status"].Equal(projections.String(orders.StatusCancelled)))
			assert.True(t, summary["total"].Equal(projections.Decimal(price(t, "7"))))

			open, err := a.summaries.Query(ctx,
				projections.Query{}.WithFilter(projections.Where("status").Equal(projections.String(orders.StatusOpen))),
				tenant)
			require.NoError(t, err)
			assert.Zero(t, open.TotalRecordsFound)

			err = a.orders.Execute(ctx, "order-1", tenant, func(o *orders.Order) error {
				return o.AddItem("tea", 1, price(t, "1"))
			})
			assert.ErrorIs(t, err, orders.ErrOrderCancelled)
		})
	}
}

func Test_Order_When_CommandIsInvalid(t *testing.T) {
	testCases := []struct {
		name        string
		command     func(o *orders.Order) error
		expectedErr error
	}{
		{
			name:        "item before placing",
			command:     func(o *orders.Order) error { return o.AddItem("tea", 1, decimal.NewFromInt(1)) },
			expectedErr: orders.ErrOrderNotPlaced,
		},
		{
			name: "placing twice",
			command: func(o *orders.Order) error {
				return errorsOf(o.Place("Max", ""), o.Place("Max", ""))
			},
			expectedErr: orders.ErrOrderAlreadyPlaced,
		},
		{
			name: "zero quantity",
			command: func(o *orders.Order) error {
				return errorsOf(o.Place("Max", ""), o.AddItem("tea", 0, decimal.NewFromInt(1)))
			},
			expectedErr: orders.ErrInvalidItem,
		},
		{
			name: "negative price",
			command: func(o *orders.Order) error {
				return errorsOf(o.Place("Max", ""), o.AddItem("tea", 1, decimal.NewFromInt(-1)))
			},
			expectedErr: orders.ErrInvalidItem,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			err := tc.command(orders.NewOrder("order-1", tenant))

			// assert
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

// errorsOf returns the first error, so a command can chain several steps.
func errorsOf(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}
