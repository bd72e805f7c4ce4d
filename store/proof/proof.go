package proof

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/store"
	"github.com/tsenart/nap"
)

func New(db *nap.DB) core.ProofStore {
	return &proofStore{db: db}
}

type proofStore struct {
	db *nap.DB
}

func save(ctx context.Context, tx *sql.Tx, p *core.ProofRecord) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	b := store.SQL.Insert("proofs").
		Columns(scanColumns...).
		Values(p.Secret, p.Y, p.KeysetID, p.Mint, p.Amount, p.C, p.Reserved, p.SendID, p.Path, createdAt, reservedAt(p)).
		Suffix("ON CONFLICT (secret) DO NOTHING")
	_, err := b.RunWith(tx).ExecContext(ctx)
	return err
}

func reservedAt(p *core.ProofRecord) any {
	switch {
	case !p.Reserved:
		return nil
	case p.ReservedAt.IsZero():
		return time.Now()
	default:
		return p.ReservedAt
	}
}

func (s *proofStore) Save(ctx context.Context, proofs []*core.ProofRecord) error {
	if len(proofs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	for _, p := range proofs {
		if err := save(ctx, tx, p); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *proofStore) list(ctx context.Context, b sq.SelectBuilder) ([]*core.ProofRecord, error) {
	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var proofs []*core.ProofRecord
	for rows.Next() {
		var p core.ProofRecord
		if err := scanProof(rows, &p); err != nil {
			return nil, err
		}

		proofs = append(proofs, &p)
	}

	return proofs, rows.Err()
}

func (s *proofStore) ListUnspent(ctx context.Context, mint string) ([]*core.ProofRecord, error) {
	b := store.SQL.Select(scanColumns...).
		From("proofs").
		Where(sq.Eq{"mint": mint, "reserved": false}).
		OrderBy("amount DESC", "created_at")
	return s.list(ctx, b)
}

func (s *proofStore) ListReserved(ctx context.Context, reservedBefore time.Time, after string, limit int) ([]*core.ProofRecord, error) {
	b := store.SQL.Select(scanColumns...).
		From("proofs").
		Where(sq.Eq{"reserved": true}).
		Where(sq.Lt{"reserved_at": reservedBefore}).
		Where(sq.Gt{"secret": after}).
		OrderBy("secret").
		Limit(uint64(limit))
	return s.list(ctx, b)
}

func (s *proofStore) Reserve(ctx context.Context, secrets []string, sendID string) error {
	if len(secrets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer tx.Rollback()

	b := store.SQL.Update("proofs").
		Set("reserved", true).
		Set("send_id", sendID).
		Set("reserved_at", time.Now()).
		Where(sq.Eq{"secret": secrets, "reserved": false})

	r, err := b.RunWith(tx).ExecContext(ctx)
	if err != nil {
		return err
	}

	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n != int64(len(secrets)) {
		return fmt.Errorf("reserve %d proofs, %d available: %w", len(secrets), n, store.ErrOptimisticLock)
	}

	return tx.Commit()
}

func (s *proofStore) Release(ctx context.Context, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	b := store.SQL.Update("proofs").
		Set("reserved", false).
		Set("send_id", "").
		Set("reserved_at", nil).
		Where(sq.Eq{"secret": secrets})
	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *proofStore) Delete(ctx context.Context, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	b := store.SQL.Delete("proofs").Where(sq.Eq{"secret": secrets})
	_, err := b.RunWith(s.db).ExecContext(ctx)
	return err
}

func (s *proofStore) SumBalances(ctx context.Context) ([]*core.Balance, error) {
	b := store.SQL.Select("mint", "COALESCE(SUM(amount), 0)", "COUNT(*)").
		From("proofs").
		Where(sq.Eq{"reserved": false}).
		GroupBy("mint").
		OrderBy("mint")

	rows, err := b.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var balances []*core.Balance
	for rows.Next() {
		var balance core.Balance
		if err := rows.Scan(&balance.Mint, &balance.Amount, &balance.Count); err != nil {
			return nil, err
		}

		balances = append(balances, &balance)
	}

	return balances, rows.Err()
}
