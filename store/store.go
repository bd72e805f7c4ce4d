package store

import (
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
)

// SQL renders numbered placeholders, accepted by both postgres and sqlite.
var SQL = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var ErrOptimisticLock = errors.New("optimistic lock failed")

func IsErrNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
