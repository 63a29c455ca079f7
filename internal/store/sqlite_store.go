package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tzomaik-art/form-builder/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	shop         TEXT NOT NULL UNIQUE,
	access_token TEXT NOT NULL DEFAULT '',
	settings     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS forms (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	slug       TEXT NOT NULL,
	fields     TEXT NOT NULL DEFAULT '[]',
	settings   TEXT NOT NULL DEFAULT '{}',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
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
	payload     TEXT NOT NULL,
	ip_address  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE (tenant_id, bestell_id)
);
`

// SQLiteStore implements Store on a local SQLite file
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLiteStore opens (and migrates) a SQLite store at path
func OpenSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// GetTenant retrieves tenant configuration
func (s *SQLiteStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var tenant model.Tenant
	var settings string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shop, access_token, settings, created_at, updated_at FROM tenants WHERE id = ?`,
		tenantID,
	).Scan(&tenant.ID, &tenant.Shop, &tenant.AccessToken, &settings, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &tenant.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
	}
	tenant.CreatedAt = fromMillis(createdAt)
	tenant.UpdatedAt = fromMillis(updatedAt)
	return &tenant, nil
}

// GetFormBySlug retrieves a form by its tenant-scoped slug
func (s *SQLiteStore) GetFormBySlug(ctx context.Context, tenantID, slug string) (*model.Form, error) {
	var form model.Form
	var fields, settings string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, slug, fields, settings, active, created_at, updated_at
		 FROM forms WHERE tenant_id = ? AND slug = ?`,
		tenantID, slug,
	).Scan(&form.ID, &form.TenantID, &form.Name, &form.Slug, &fields, &settings, &form.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	if err := decodeForm(&form, []byte(fields), []byte(settings)); err != nil {
		return nil, err
	}
	form.CreatedAt = fromMillis(createdAt)
	form.UpdatedAt = fromMillis(updatedAt)
	return &form, nil
}

// UpsertTenant creates or replaces a tenant
func (s *SQLiteStore) UpsertTenant(ctx context.Context, tenant *model.Tenant) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}
	now := toMillis(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, shop, access_token, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET shop = excluded.shop, access_token = excluded.access_token,
		   settings = excluded.settings, updated_at = excluded.updated_at`,
		tenant.ID, tenant.Shop, tenant.AccessToken, string(settings), now, now,
	)
	return err
}

// UpsertForm creates or replaces a form
func (s *SQLiteStore) UpsertForm(ctx context.Context, form *model.Form) error {
	fields, settings, err := encodeForm(form)
	if err != nil {
		return err
	}
	now := toMillis(time.Now())
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO forms (id, tenant_id, name, slug, fields, settings, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, slug = excluded.slug, fields = excluded.fields,
		   settings = excluded.settings, active = excluded.active, updated_at = excluded.updated_at`,
		form.ID, form.TenantID, form.Name, form.Slug, string(fields), string(settings), form.Active, now, now,
	)
	return err
}

// CreateSubmission persists a submission
func (s *SQLiteStore) CreateSubmission(ctx context.Context, submission *model.Submission) error {
	payload, err := json.Marshal(submission.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, form_id, tenant_id, customer_id, email, social_name, bestell_id, payload, ip_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		submission.FormID,
		submission.TenantID,
		submission.CustomerID,
		submission.Email,
		submission.SocialName,
		submission.BestellID,
		string(payload),
		submission.IPAddress,
		toMillis(submission.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return ErrDuplicateIdentifier
	}
	return err
}

// GetSubmissionByBestellID retrieves a submission by its identifier
func (s *SQLiteStore) GetSubmissionByBestellID(ctx context.Context, tenantID, bestellID string) (*model.Submission, error) {
	var sub model.Submission
	var customerID sql.NullString
	var payload string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, form_id, tenant_id, customer_id, email, social_name, bestell_id, payload, ip_address, created_at
		 FROM submissions WHERE tenant_id = ? AND bestell_id = ?`,
		tenantID, bestellID,
	).Scan(&sub.ID, &sub.FormID, &sub.TenantID, &customerID, &sub.Email, &sub.SocialName,
		&sub.BestellID, &payload, &sub.IPAddress, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if customerID.Valid {
		sub.CustomerID = &customerID.String
	}
	if err := json.Unmarshal([]byte(payload), &sub.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	sub.CreatedAt = fromMillis(createdAt)
	return &sub, nil
}

// CountSubmissions returns the number of submissions for a tenant
func (s *SQLiteStore) CountSubmissions(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE tenant_id = ?`, tenantID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
