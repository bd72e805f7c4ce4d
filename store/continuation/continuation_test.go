package continuation

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pandodao/plebwallet/store/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsenart/nap"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *nap.DB {
	t.Helper()

	conn, err := nap.Open("sqlite", filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	conn.Master().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.Migrate(conn.Master(), "sqlite", db.MigrateData{Unit: "sat"}))
	return conn
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	markers := New(openDB(t))
	exp := time.Now().Add(time.Hour)

	first, err := markers.Consume(ctx, "run-1", exp)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := markers.Consume(ctx, "run-1", exp)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := markers.Consume(ctx, "run-2", exp)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	markers := New(openDB(t))
	exp := time.Now().Add(time.Hour)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := markers.Consume(ctx, "run-1", exp); err == nil && ok {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	markers := New(openDB(t))
	now := time.Now()

	_, err := markers.Consume(ctx, "old", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = markers.Consume(ctx, "live", now.Add(time.Hour))
	require.NoError(t, err)

	n, err := markers.Purge(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	// the live id is still remembered
	again, err := markers.Consume(ctx, "live", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, again)
}
