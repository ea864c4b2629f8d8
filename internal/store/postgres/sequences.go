package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// Document numbers come from native Postgres sequences. nextval never takes
// part in serializable conflict detection, so concurrent checkouts do not
// abort each other over a shared counter row. A rolled back transaction
// leaves a gap in the numbering.

// sequenceRelation maps a counter name to a sequence identifier. Names such
// as "session:T1" carry characters Postgres identifiers cannot, so the name
// is folded to [a-z0-9_] and suffixed with a hash of the original.
func sequenceRelation(name string) string {
	var b strings.Builder
	b.WriteString("seq_")
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 40 {
			break
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s_%08x", b.String(), h.Sum32())
}

// sequenceRegistry creates sequences on first use. DDL runs on its own
// pooled connection so the sequence is committed before any document
// transaction draws from it.
type sequenceRegistry struct {
	db    *sqlx.DB
	known sync.Map
}

func (r *sequenceRegistry) ensure(ctx context.Context, name string) (string, error) {
	rel := sequenceRelation(name)
	if _, ok := r.known.Load(rel); ok {
		return rel, nil
	}
	_, err := r.db.ExecContext(ctx, `CREATE SEQUENCE IF NOT EXISTS `+pgx.Identifier{rel}.Sanitize()+` AS BIGINT MINVALUE 1`)
	// Two sessions racing on IF NOT EXISTS can still hit the catalog unique index.
	if err != nil && !isUniqueViolation(err) {
		return "", fmt.Errorf("create sequence %s: %w", name, err)
	}
	r.known.Store(rel, struct{}{})
	return rel, nil
}

func (t *pgTx) NextSequence(ctx context.Context, name string) (int64, error) {
	rel, err := t.seqs.ensure(ctx, name)
	if err != nil {
		return 0, err
	}
	var value int64
	err = t.get(ctx, &value, `SELECT nextval($1::text::regclass)`, rel)
	return value, mapError(err)
}

// BumpSequence raises the counter to value. It never lowers it.
func (t *pgTx) BumpSequence(ctx context.Context, name string, value int64) error {
	if value < 1 {
		return nil
	}
	rel, err := t.seqs.ensure(ctx, name)
	if err != nil {
		return err
	}
	return t.seqs.raise(ctx, rel, value)
}

// raise runs in a short transaction of its own so concurrent bumps of one
// name queue on the advisory lock only for the compare and set, never for
// the caller's whole transaction.
func (r *sequenceRegistry) raise(ctx context.Context, rel string, value int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rel); err != nil {
		return mapError(err)
	}
	_, err = tx.ExecContext(ctx, `
		SELECT setval($1::text::regclass, $2)
		WHERE COALESCE(pg_sequence_last_value($1::text::regclass), 0) < $2
	`, rel, value)
	if err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

func (q queries) CurrentSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := q.get(ctx, &value,
		`SELECT COALESCE(pg_sequence_last_value(to_regclass($1)), 0)`, sequenceRelation(name))
	return value, err
}

// migrateCounterTable moves values from the old sequences table into native
// sequences and drops the table.
func (s *Store) migrateCounterTable(ctx context.Context) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT to_regclass('sequences') IS NOT NULL`); err != nil {
		return err
	}
	if !exists {
		return nil
	}

	var rows []struct {
		Name  string `db:"name"`
		Value int64  `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, value FROM sequences`); err != nil {
		return err
	}
	for _, row := range rows {
		if row.Value < 1 {
			continue
		}
		rel, err := s.seqs.ensure(ctx, row.Name)
		if err != nil {
			return err
		}
		if err := s.seqs.raise(ctx, rel, row.Value); err != nil {
			return fmt.Errorf("carry over counter %s: %w", row.Name, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `DROP TABLE sequences`)
	return err
}
