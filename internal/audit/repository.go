// Package audit keeps a durable trail of totals the marketplace reported that did
// not match the local recomputation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// Record is one stored mismatch.
type Record struct {
	ID          uuid.UUID       `db:"id"`
	Source      string          `db:"source"`
	OwnerKey    string          `db:"owner_key"`
	RemoteTotal decimal.Decimal `db:"remote_total"`
	LocalTotal  decimal.Decimal `db:"local_total"`
	RecordedAt  time.Time       `db:"recorded_at"`
}

type Repository struct {
	db *sqlx.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	db, err := sqlx.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// RecordMismatch implements pricing.Recorder.
func (r *Repository) RecordMismatch(ctx context.Context, m pricing.Mismatch) error {
	rec := Record{
		ID:          uuid.New(),
		Source:      m.Source,
		OwnerKey:    m.OwnerKey,
		RemoteTotal: m.RemoteTotal,
		LocalTotal:  m.LocalTotal,
		RecordedAt:  m.DetectedAt,
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO total_mismatches (id, source, owner_key, remote_total, local_total, recorded_at)
		VALUES (:id, :source, :owner_key, :remote_total, :local_total, :recorded_at)`, rec)
	if err != nil {
		return fmt.Errorf("failed to insert mismatch: %w", err)
	}
	return nil
}

// ListMismatches returns the newest records first. An empty ownerKey lists all owners.
func (r *Repository) ListMismatches(ctx context.Context, ownerKey string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var out []Record
	var err error
	if ownerKey == "" {
		err = r.db.SelectContext(ctx, &out, `
			SELECT id, source, owner_key, remote_total, local_total, recorded_at
			FROM total_mismatches
			ORDER BY recorded_at DESC
			LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &out, `
			SELECT id, source, owner_key, remote_total, local_total, recorded_at
			FROM total_mismatches
			WHERE owner_key = $1
			ORDER BY recorded_at DESC
			LIMIT $2`, ownerKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list mismatches: %w", err)
	}
	return out, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
