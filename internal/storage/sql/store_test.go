package sql_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlstore "github.com/tinywideclouds/go-pushrelay-service/internal/storage/sql"
	"github.com/tinywideclouds/go-pushrelay-service/pkg/relay"
)

func strPtr(s string) *string { return &s }

// newSQLiteStore opens a private in-memory database per test.
func newSQLiteStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()
	db, err := sqlstore.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return sqlstore.NewSQLStore(db)
}

// runStoreSuite is shared with the Postgres integration test.
func runStoreSuite(t *testing.T, store *sqlstore.SQLStore) {
	ctx := context.Background()

	t.Run("Records newest first and scoped by owner", func(t *testing.T) {
		for i, svc := range []string{"S", "T", "S", "S"} {
			require.NoError(t, store.AppendRecord(ctx, relay.NotificationRecord{
				ID:        fmt.Sprintf("rec-%d", i),
				Timestamp: int64(1000 + i),
				Service:   svc,
				Overview:  "o",
				Data:      strPtr(`{"i":1}`),
				Owner:     "tenant-a",
			}))
		}
		require.NoError(t, store.AppendRecord(ctx, relay.NotificationRecord{ID: "foreign", Timestamp: 9000, Service: "S", Overview: "x", Owner: "tenant-b"}))

		recs, err := store.ListRecords(ctx, relay.RecordQuery{Owner: "tenant-a", Quantity: 2})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, int64(1003), recs[0].Timestamp)
		assert.Equal(t, int64(1002), recs[1].Timestamp)
		require.NotNil(t, recs[0].Data)
		assert.Equal(t, `{"i":1}`, *recs[0].Data)

		filtered, err := store.ListRecords(ctx, relay.RecordQuery{Owner: "tenant-a", Service: "S", Quantity: 10})
		require.NoError(t, err)
		require.Len(t, filtered, 3)
		for _, r := range filtered {
			assert.Equal(t, "S", r.Service)
			assert.Equal(t, "tenant-a", r.Owner)
		}
	})

	t.Run("Empty owner yields empty slice", func(t *testing.T) {
		recs, err := store.ListRecords(ctx, relay.RecordQuery{Owner: "nobody", Quantity: 5})
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})

	t.Run("Upsert keeps one row per device", func(t *testing.T) {
		require.NoError(t, store.RegisterDevice(ctx, relay.DeviceRegistration{Owner: "o", Device: "pixel", Token: "tok-1", Platform: relay.PlatformFCM}))
		require.NoError(t, store.RegisterDevice(ctx, relay.DeviceRegistration{Owner: "o", Device: "pixel", Token: "tok-2", Platform: relay.PlatformFCM}))

		regs, err := store.ListDevices(ctx, "o")
		require.NoError(t, err)
		require.Len(t, regs, 1)
		assert.Equal(t, "tok-2", regs[0].Token)
	})

	t.Run("Token moves to the newest device", func(t *testing.T) {
		require.NoError(t, store.RegisterDevice(ctx, relay.DeviceRegistration{Owner: "o", Device: "renamed", Token: "tok-2"}))

		regs, err := store.ListDevices(ctx, "o")
		require.NoError(t, err)
		require.Len(t, regs, 1)
		assert.Equal(t, "renamed", regs[0].Device)
		assert.Equal(t, relay.PlatformFCM, regs[0].Platform)
	})

	t.Run("Same token under another owner is untouched", func(t *testing.T) {
		require.NoError(t, store.RegisterDevice(ctx, relay.DeviceRegistration{Owner: "other", Device: "shared", Token: "tok-2"}))

		regs, err := store.ListDevices(ctx, "o")
		require.NoError(t, err)
		assert.Len(t, regs, 1)
	})

	t.Run("RemoveToken only affects owner", func(t *testing.T) {
		require.NoError(t, store.RemoveToken(ctx, "o", "tok-2"))
		require.NoError(t, store.RemoveToken(ctx, "o", "never-existed"))

		mine, err := store.ListDevices(ctx, "o")
		require.NoError(t, err)
		assert.Empty(t, mine)

		theirs, err := store.ListDevices(ctx, "other")
		require.NoError(t, err)
		assert.Len(t, theirs, 1)
	})

	t.Run("Unregister", func(t *testing.T) {
		require.NoError(t, store.UnregisterDevice(ctx, "other", "shared"))
		assert.ErrorIs(t, store.UnregisterDevice(ctx, "other", "shared"), relay.ErrNotFound)
	})
}

func TestSQLStore_SQLite(t *testing.T) {
	runStoreSuite(t, newSQLiteStore(t))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open("oracle", "")
	require.Error(t, err)
}
