//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/iliyamo/camp-booking-engine/internal/booking"
	"github.com/iliyamo/camp-booking-engine/internal/database"
	"github.com/iliyamo/camp-booking-engine/internal/inventory"
	"github.com/iliyamo/camp-booking-engine/internal/model"
	"github.com/iliyamo/camp-booking-engine/internal/repository"
)

// startMySQL runs a throwaway MySQL with the schema applied.  Run with
// go test -tags integration ./internal/repository/...
func startMySQL(t *testing.T) *repository.SQLStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("camp"),
		tcmysql.WithUsername("camp"),
		tcmysql.WithPassword("camp"),
	)
	if err != nil {
		t.Skipf("mysql container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	dsn, err := c.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	return repository.NewSQLStore(db)
}

func TestMySQLLastUnitRace(t *testing.T) {
	store := startMySQL(t)
	ctx := context.Background()
	bookings := booking.NewService(store, inventory.NewLedger(store, nil), booking.Options{HoldTTL: 10 * time.Minute})

	opt := &model.Option{Name: "Last lakeside pitch", Capacity: 1, UnitPrice: 900}
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertOption(ctx, opt)
	}))

	var (
		wg      sync.WaitGroup
		won     int64
		soldOut int64
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(buyer uint64) {
			defer wg.Done()
			_, err := bookings.Create(ctx, booking.CreateInput{
				OptionID: opt.ID,
				Quantity: 1,
				BuyerID:  buyer,
				Contact:  model.Contact{Name: fmt.Sprintf("buyer-%d", buyer)},
			})
			switch {
			case err == nil:
				atomic.AddInt64(&won, 1)
			case errors.Is(err, model.ErrInsufficientCapacity):
				atomic.AddInt64(&soldOut, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, int64(1), won)
	assert.Equal(t, int64(11), soldOut)
	stored, err := store.GetOption(ctx, opt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Pending)
	assert.Equal(t, 0, stored.Available())
}

func TestMySQLConcurrentDuplicateCallback(t *testing.T) {
	store := startMySQL(t)
	ctx := context.Background()

	o := &model.Order{
		Reference:     "CP260701A1B2C3D4E5F6",
		BuyerID:       7,
		TotalAmount:   900,
		PaymentMethod: model.PaymentECPay,
		PaymentStatus: model.PaymentPending,
		OrderStatus:   model.OrderPending,
	}
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertOrder(ctx, o)
	}))

	var (
		wg       sync.WaitGroup
		inserted int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				if _, err := tx.LockOrder(ctx, o.ID); err != nil {
					return err
				}
				ok, err := tx.InsertCallback(ctx, &model.GatewayCallback{
					GatewayTransactionID: "2607011030001234",
					EventType:            "ecpay.notify.success",
					OrderID:              o.ID,
					Outcome:              model.OutcomeSuccess,
				})
				if ok {
					atomic.AddInt64(&inserted, 1)
				}
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), inserted)
}
