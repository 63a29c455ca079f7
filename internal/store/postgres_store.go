package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/model"
)

// ErrDuplicateIdentifier is returned when a tenant already has a submission with the identifier
var ErrDuplicateIdentifier = errors.New("duplicate bestell id")

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	shop         TEXT NOT NULL UNIQUE,
	access_token TEXT NOT NULL DEFAULT '',
	settings     JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS forms (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL,
	fields     JSONB NOT NULL DEFAULT '[]',
	settings   JSONB NOT NULL DEFAULT '{}',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, slug)
);

CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY,
	form_id     TEXT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
	tenant_id   TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	customer_id TEXT,
	email       TEXT NOT NULL,
	social_name TEXT NOT NULL,
	bestell_id  TEXT NOT NULL,
	payload     JSONB NOT NULL,
	ip_address  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, bestell_id)
);
`

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetTenant retrieves tenant configuration
func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	query := `
		SELECT id, shop, access_token, settings, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`

	var tenant model.Tenant
	var settings []byte
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&tenant.ID,
		&tenant.Shop,
		&tenant.AccessToken,
		&settings,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	if err := json.Unmarshal(settings, &tenant.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
	}

	return &tenant, nil
}

// GetFormBySlug retrieves a form by its tenant-scoped slug
func (s *PostgresStore) GetFormBySlug(ctx context.Context, tenantID, slug string) (*model.Form, error) {
	query := `
		SELECT id, tenant_id, name, slug, fields, settings, active, created_at, updated_at
		FROM forms
		WHERE tenant_id = $1 AND slug = $2
	`

	var form model.Form
	var fields, settings []byte
	err := s.pool.QueryRow(ctx, query, tenantID, slug).Scan(
		&form.ID,
		&form.TenantID,
		&form.Name,
		&form.Slug,
		&fields,
		&settings,
		&form.Active,
		&form.CreatedAt,
		&form.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get form: %w", err)
	}

	if err := decodeForm(&form, fields, settings); err != nil {
		return nil, err
	}

	return &form, nil
}

// UpsertTenant creates or replaces a tenant
func (s *PostgresStore) UpsertTenant(ctx context.Context, tenant *model.Tenant) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}

	query := `
		INSERT INTO tenants (id, shop, access_token, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET shop = EXCLUDED.shop, access_token = EXCLUDED.access_token,
		    settings = EXCLUDED.settings, updated_at = NOW()
	`

	_, err = s.pool.Exec(ctx, query, tenant.ID, tenant.Shop, tenant.AccessToken, string(settings))
	return err
}

// UpsertForm creates or replaces a form
func (s *PostgresStore) UpsertForm(ctx context.Context, form *model.Form) error {
	fields, settings, err := encodeForm(form)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO forms (id, tenant_id, name, slug, fields, settings, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, slug = EXCLUDED.slug, fields = EXCLUDED.fields,
		    settings = EXCLUDED.settings, active = EXCLUDED.active, updated_at = NOW()
	`

	_, err = s.pool.Exec(ctx, query,
		form.ID,
		form.TenantID,
		form.Name,
		form.Slug,
		string(fields),
		string(settings),
		form.Active,
	)

	return err
}

// CreateSubmission persists a submission
func (s *PostgresStore) CreateSubmission(ctx context.Context, submission *model.Submission) error {
	payload, err := json.Marshal(submission.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
		INSERT INTO submissions (id, form_id, tenant_id, customer_id, email, social_name, bestell_id, payload, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		submission.ID,
		submission.FormID,
		submission.TenantID,
		submission.CustomerID,
		submission.Email,
		submission.SocialName,
		submission.BestellID,
		string(payload),
		submission.IPAddress,
		submission.CreatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateIdentifier
	}

	return err
}

// GetSubmissionByBestellID retrieves a submission by its identifier
func (s *PostgresStore) GetSubmissionByBestellID(ctx context.Context, tenantID, bestellID string) (*model.Submission, error) {
	query := `
		SELECT id, form_id, tenant_id, customer_id, email, social_name, bestell_id, payload, ip_address, created_at
		FROM submissions
		WHERE tenant_id = $1 AND bestell_id = $2
	`

	var sub model.Submission
	var payload []byte
	err := s.pool.QueryRow(ctx, query, tenantID, bestellID).Scan(
		&sub.ID,
		&sub.FormID,
		&sub.TenantID,
		&sub.CustomerID,
		&sub.Email,
		&sub.SocialName,
		&sub.BestellID,
		&payload,
		&sub.IPAddress,
		&sub.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}

	if err := json.Unmarshal(payload, &sub.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	return &sub, nil
}

// CountSubmissions returns the number of submissions for a tenant
func (s *PostgresStore) CountSubmissions(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func encodeForm(form *model.Form) (fields, settings []byte, err error) {
	fields, err = json.Marshal(form.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode form fields: %w", err)
	}
	settings, err = json.Marshal(form.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode form settings: %w", err)
	}
	return fields, settings, nil
}

func decodeForm(form *model.Form, fields, settings []byte) error {
	if err := json.Unmarshal(fields, &form.Fields); err != nil {
		return fmt.Errorf("failed to decode form fields: %w", err)
	}
	if err := json.Unmarshal(settings, &form.Settings); err != nil {
		return fmt.Errorf("failed to decode form settings: %w", err)
	}
	return nil
}
