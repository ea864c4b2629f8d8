package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"mostrador/backend/internal/domain"
	"mostrador/backend/internal/store"
)

//go:embed schema.sql
var schema string

const openSessionIndex = "cash_sessions_one_open"

type Store struct {
	queries
	db   *sqlx.DB
	seqs *sequenceRegistry
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{queries: queries{ext: db}, db: db, seqs: &sequenceRegistry{db: db}}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.migrateCounterTable(ctx)
}

// WithTx runs fn in a serializable transaction. A serialization failure
// surfaces as store.ErrConcurrencyConflict; a failed commit whose outcome
// the driver cannot report surfaces as store.ErrPartialCommit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{queries: queries{ext: sqlTx}, seqs: s.seqs}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, store.ErrConcurrencyConflict) {
			return mapped
		}
		return fmt.Errorf("%w: %v", store.ErrPartialCommit, err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, entityType string, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, limit)
	err := sqlx.SelectContext(ctx, s.db, &logs, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_type = $1) AND ($2 = '' OR entity_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Invalid("username", "and password are required")
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := sqlx.NamedExecContext(ctx, s.db, `
		INSERT INTO app_users (username, password_hash, role, active, created_at, updated_at)
		VALUES (:username, :password_hash, :role, :active, :created_at, now())
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := sqlx.SelectContext(ctx, s.db, &users, `
		SELECT username, password_hash, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Invalid("password", "is required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// mapError turns driver errors into the store and domain sentinels the
// service layer matches on. Unknown errors pass through untouched.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == openSessionIndex {
			return fmt.Errorf("%w: %s", domain.ErrSessionAlreadyOpen, pgErr.Detail)
		}
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "23514":
		return domain.Invalid(pgErr.ConstraintName, "violates a check constraint")
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func expectOne(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
