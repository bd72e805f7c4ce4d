package continuation

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/store"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.ContinuationStore {
	return &continuationStore{db: db}
}

type continuationStore struct {
	db *nap.DB
}

func (s *continuationStore) Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	b := store.SQL.Insert("continuations").
		Columns("id", "expires_at", "created_at").
		Values(id, expiresAt, time.Now()).
		Suffix("ON CONFLICT (id) DO NOTHING")

	r, err := b.RunWith(s.db).ExecContext(ctx)
	if err != nil {
		return false, err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (s *continuationStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	r, err := store.SQL.Delete("continuations").
		Where(sq.Lt{"expires_at": before}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return 0, err
	}

	return r.RowsAffected()
}
