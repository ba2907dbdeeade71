// Helpers for tests that need a real store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gabibdods/NullVelope/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// A clock that only moves when told to.
type Clock struct {
	lock sync.Mutex
	now  time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *Clock) Advance(duration time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(duration)
}

// Opens a private in memory database with the schema in place. It is
// closed when the test ends.
func NewDB(t testing.TB) *bun.DB {
	t.Helper()

	db, err := store.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.CreateSchema(context.Background(), db))
	return db
}

// Returns a store on a fresh database that reads time from the clock.
func New(t testing.TB, clock *Clock) *store.Store {
	t.Helper()
	return store.New(NewDB(t), store.WithClock(clock.Now))
}
