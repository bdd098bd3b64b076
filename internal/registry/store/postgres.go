package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"objectmap/internal/registry/models"
	"objectmap/pkg/platform/sentinel"
	txcontext "objectmap/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres persists the registry in registry_state (a single row) and
// registry_entries. Transactions are carried in ctx so the audit outbox joins them.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const stateColumns = `size, entry_count, initialized, frozen, ownership, owner,
	created_at, initialized_at, frozen_at, updated_at`

// Init inserts the registry row if absent and checks the size of an existing one.
func (s *Postgres) Init(ctx context.Context, reg *models.Registry) error {
	query := `
		INSERT INTO registry_state (id, size, entry_count, initialized, frozen, ownership, owner,
			created_at, initialized_at, frozen_at, updated_at)
		VALUES (1, $1, 0, FALSE, FALSE, $2, $3, $4, NULL, NULL, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := txcontext.Execer(ctx, s.db).ExecContext(ctx, query,
		reg.Size, string(reg.Ownership.Kind), reg.Ownership.Owner, reg.CreatedAt,
	); err != nil {
		return fmt.Errorf("init registry state: %w", err)
	}
	existing, err := s.LoadState(ctx)
	if err != nil {
		return err
	}
	if existing.Size != reg.Size {
		return fmt.Errorf("registry size %d does not match configured %d: %w", existing.Size, reg.Size, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Postgres) LoadState(ctx context.Context) (*models.Registry, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM registry_state WHERE id = 1`)
	return scanState(row)
}

func (s *Postgres) FindEntry(ctx context.Context, number models.Number) (*models.Entry, error) {
	row := txcontext.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT number, object_id, added_at FROM registry_entries WHERE number = $1`, int64(number))
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entry %d: %w", number, err)
	}
	return e, nil
}

// FindEntries returns the stored entries among numbers, ascending. Missing numbers
// are omitted.
func (s *Postgres) FindEntries(ctx context.Context, numbers []models.Number) ([]models.Entry, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	raw := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		raw = append(raw, int64(n))
	}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, `
		SELECT number, object_id, added_at
		FROM registry_entries
		WHERE number = ANY($1::integer[])
		ORDER BY number
	`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Postgres) ListEntries(ctx context.Context, from models.Number, limit int) ([]models.Entry, error) {
	query := `
		SELECT number, object_id, added_at
		FROM registry_entries
		WHERE number >= $1
		ORDER BY number
	`
	args := []any{int64(from)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// RunInTx runs fn in one database transaction.
func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return fn(ctx, &pgTx{store: s})
	})
}

// pgTx reads the *sql.Tx from ctx on every call.
type pgTx struct {
	store *Postgres
}

func (t *pgTx) LockState(ctx context.Context) (*models.Registry, error) {
	row := txcontext.Execer(ctx, t.store.db).QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM registry_state WHERE id = 1 FOR UPDATE`)
	return scanState(row)
}

func (t *pgTx) SaveState(ctx context.Context, reg *models.Registry) error {
	query := `
		UPDATE registry_state
		SET entry_count = $1, initialized = $2, frozen = $3, ownership = $4, owner = $5,
			initialized_at = $6, frozen_at = $7, updated_at = $8
		WHERE id = 1
	`
	res, err := txcontext.Execer(ctx, t.store.db).ExecContext(ctx, query,
		reg.Count, reg.Initialized, reg.Frozen, string(reg.Ownership.Kind), reg.Ownership.Owner,
		nullTime(reg.InitializedAt), nullTime(reg.FrozenAt), reg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save registry state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save registry state: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (t *pgTx) HasEntry(ctx context.Context, number models.Number) (bool, error) {
	var exists bool
	err := txcontext.Execer(ctx, t.store.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM registry_entries WHERE number = $1)`, int64(number)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entry %d: %w", number, err)
	}
	return exists, nil
}

func (t *pgTx) InsertEntry(ctx context.Context, entry models.Entry) error {
	_, err := txcontext.Execer(ctx, t.store.db).ExecContext(ctx,
		`INSERT INTO registry_entries (number, object_id, added_at) VALUES ($1, $2, $3)`,
		int64(entry.Number), entry.ObjectID.Bytes(), entry.AddedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("entry %d: %w", entry.Number, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert entry %d: %w", entry.Number, err)
	}
	return nil
}

func scanState(row *sql.Row) (*models.Registry, error) {
	var (
		reg           models.Registry
		kind          string
		initializedAt sql.NullTime
		frozenAt      sql.NullTime
	)
	err := row.Scan(&reg.Size, &reg.Count, &reg.Initialized, &reg.Frozen, &kind, &reg.Ownership.Owner,
		&reg.CreatedAt, &initializedAt, &frozenAt, &reg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan registry state: %w", err)
	}
	reg.Ownership.Kind = models.OwnershipKind(kind)
	if initializedAt.Valid {
		t := initializedAt.Time
		reg.InitializedAt = &t
	}
	if frozenAt.Valid {
		t := frozenAt.Time
		reg.FrozenAt = &t
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", sentinel.ErrInvalidState, err)
	}
	return &reg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		number int64
		raw    []byte
		e      models.Entry
	)
	if err := row.Scan(&number, &raw, &e.AddedAt); err != nil {
		return nil, err
	}
	id, err := models.ObjectIDFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %d: %w", sentinel.ErrInvalidState, number, err)
	}
	e.Number = models.Number(number)
	e.ObjectID = id
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// isUniqueViolation recognises both lib/pq and pgx driver errors.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
