package counter

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/store"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.CounterStore {
	return &counterStore{db: db}
}

type counterStore struct {
	db *nap.DB
}

func (s *counterStore) Get(ctx context.Context, path string) (uint32, error) {
	b := store.SQL.Select("counter").From("counters").Where(sq.Eq{"path": path})

	var counter uint32
	if err := b.RunWith(s.db).QueryRowContext(ctx).Scan(&counter); err != nil {
		if store.IsErrNotFound(err) {
			return 0, nil
		}

		return 0, err
	}

	return counter, nil
}

func (s *counterStore) Advance(ctx context.Context, path string, from, to uint32) error {
	if to <= from {
		return fmt.Errorf("counter %s cannot move from %d to %d", path, from, to)
	}

	if from == 0 {
		return s.insert(ctx, path, to)
	}

	b := store.SQL.Update("counters").
		Set("counter", to).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"path": path, "counter": from})

	r, err := b.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("advance counter %s from %d: %w", path, from, store.ErrOptimisticLock)
	}

	return nil
}

// insert creates the row for a fresh path. A row is never stored with counter 0.
func (s *counterStore) insert(ctx context.Context, path string, to uint32) error {
	b := store.SQL.Insert("counters").
		Columns("path", "counter", "updated_at").
		Values(path, to, time.Now()).
		Suffix("ON CONFLICT (path) DO NOTHING")

	r, err := b.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("advance counter %s from 0: %w", path, store.ErrOptimisticLock)
	}

	return nil
}
