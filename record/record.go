// Package record implements the authoritative store for domain contexts:
// one row per (user, domain) in SQLite. The caches are an optimization
// layered over this store; writes land here first.
package record

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	domaincache "github.com/sitepulse/domain-cache"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrNotFound is returned when no row exists for a (user, domain) pair.
var ErrNotFound = errors.New("record not found")

// Record is one owned domain context row.
type Record struct {
	ID        string
	UserID    string
	Domain    string
	Context   *domaincache.DomainContext
	CreatedAt time.Time
	UpdatedAt time.Time
}

type row struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Domain    string    `db:"domain"`
	Context   string    `db:"context"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store provides access to the domain_contexts table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the SQLite database at path, applies pending
// migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_journal=WAL&_timeout=5000&_fk=true", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}

	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting dialect for migrations: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close terminates the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing record store: %w", err)
	}
	return nil
}

// GetByUserDomain returns the row owned by userID for domain, or
// ErrNotFound.
func (s *Store) GetByUserDomain(ctx context.Context, userID, domain string) (*Record, error) {
	var r row
	query := `SELECT id, user_id, domain, context, created_at, updated_at
	          FROM domain_contexts WHERE user_id = ? AND domain = ?`
	err := s.db.GetContext(ctx, &r, query, userID, domaincache.NormalizeDomain(domain))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting domain context: %w", err)
	}
	return r.toRecord()
}

// Insert creates a new row for (userID, domain).
func (s *Store) Insert(ctx context.Context, userID, domain string, dc *domaincache.DomainContext) (*Record, error) {
	raw, err := json.Marshal(dc)
	if err != nil {
		return nil, fmt.Errorf("marshaling context: %w", err)
	}

	rec := &Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		Domain:    domaincache.NormalizeDomain(domain),
		Context:   dc,
		CreatedAt: s.now().UTC(),
		UpdatedAt: s.now().UTC(),
	}

	query := `INSERT INTO domain_contexts (id, user_id, domain, context, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, rec.ID, rec.UserID, rec.Domain, string(raw), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting domain context: %w", err)
	}
	return rec, nil
}

// UpdateByID replaces the context payload of an existing row.
func (s *Store) UpdateByID(ctx context.Context, id string, dc *domaincache.DomainContext) error {
	raw, err := json.Marshal(dc)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}

	query := `UPDATE domain_contexts SET context = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, string(raw), s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating domain context: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r row) toRecord() (*Record, error) {
	dc := &domaincache.DomainContext{}
	if r.Context != "" {
		if err := json.Unmarshal([]byte(r.Context), dc); err != nil {
			return nil, fmt.Errorf("unmarshaling context payload: %w", err)
		}
	}
	return &Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Domain:    r.Domain,
		Context:   dc,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}
