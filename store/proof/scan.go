package proof

import (
	"database/sql"

	"github.com/pandodao/plebwallet/core"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

var scanColumns = []string{
	"secret",
	"y",
	"keyset_id",
	"mint",
	"amount",
	"c",
	"reserved",
	"send_id",
	"path",
	"created_at",
	"reserved_at",
}

func scanProof(scanner scanner, p *core.ProofRecord) error {
	var reservedAt sql.NullTime
	err := scanner.Scan(
		&p.Secret,
		&p.Y,
		&p.KeysetID,
		&p.Mint,
		&p.Amount,
		&p.C,
		&p.Reserved,
		&p.SendID,
		&p.Path,
		&p.CreatedAt,
		&reservedAt,
	)

	p.ReservedAt = reservedAt.Time
	return err
}
